package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Service applies order lifecycle events to the Redis status cache, so
// readers that miss the API-side cache write still get warm status
// reads. The database stays the source of truth; this cache only ever
// lags, never leads.
type Service struct {
	Redis *redis.Client
	Log   *slog.Logger
}

type statusDoc struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HandleOrderEvent is wired as the consumer handler.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// dedup by event_id; redelivery is expected with manual commits
	dkey := fmt.Sprintf(redisx.KeyDedup, "projector", env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}

	var doc statusDoc
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		doc = statusDoc{OrderID: p.OrderID, Status: p.Status, UpdatedAt: env.OccurredAt}
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		doc = statusDoc{OrderID: p.OrderID, Status: p.To, UpdatedAt: env.OccurredAt}
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return err
		}
		doc = statusDoc{OrderID: p.OrderID, Status: orders.StatusCancelled, UpdatedAt: env.OccurredAt}
	default:
		return nil // ignore
	}

	ttl := redisx.TTLStatusCache
	if doc.Status.Terminal() {
		ttl = redisx.TTLStatusTerminal
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, doc.OrderID)
	if err := s.Redis.Set(ctx, key, kafkax.MustMarshal(doc), ttl).Err(); err != nil {
		return err // no commit; the message will be redelivered
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	s.Log.DebugContext(ctx, "status cache updated", "order_id", doc.OrderID, "status", doc.Status)
	return nil
}
