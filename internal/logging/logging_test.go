package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestCtxRoundTrip(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithCtx(context.Background(), l)
	if got := FromCtx(ctx); got != l {
		t.Error("FromCtx should return the logger stored by WithCtx")
	}
}

func TestFromCtxFallsBack(t *testing.T) {
	Init("test", filepath.Join(t.TempDir(), "app.log"))
	if FromCtx(context.Background()) == nil {
		t.Error("FromCtx without a stored logger should fall back to the global one")
	}
}
