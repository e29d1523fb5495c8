package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txBeginner starts transactions. Satisfied by *pgxpool.Pool; tests
// substitute their own to drive the retry loop.
type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store implements orders.Store on top of a pgx pool. Every write path
// runs inside WithinTx; stock is only ever moved by the conditional
// UPDATE in ReserveStock and the increment in ReleaseStock.
type Store struct {
	Pool       *pgxpool.Pool
	Log        *slog.Logger
	MaxRetries int // 0 means the default of 3

	begin txBeginner // defaults to Pool
}

func (s *Store) beginTx(ctx context.Context) (pgx.Tx, error) {
	if s.begin != nil {
		return s.begin.BeginTx(ctx, pgx.TxOptions{})
	}
	return s.Pool.BeginTx(ctx, pgx.TxOptions{})
}

// retryable reports whether the transaction should be re-run: postgres
// serialization failures (40001), deadlocks (40P01) and lock timeouts
// (55P03) may succeed on a fresh attempt. Everything else is permanent.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

// WithinTx runs fn as one transaction with a bounded retry loop. fn is
// re-run from scratch on each attempt, so its guards see fresh state.
// After the retries are exhausted the caller gets ErrConcurrencyConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	maxRetries := s.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := 50 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tx, err := s.beginTx(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		err = fn(&storeTx{tx: tx})
		if err != nil {
			_ = tx.Rollback(ctx)
		} else if err = tx.Commit(ctx); err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}
		if attempt == maxRetries {
			lastErr = err
			break
		}
		lastErr = err
		if s.Log != nil {
			s.Log.DebugContext(ctx, "retrying transaction after conflict",
				"attempt", attempt+1, "error", err)
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %v", orders.ErrConcurrencyConflict, lastErr)
}

type storeTx struct {
	tx pgx.Tx
}

const productCols = `id, sku, name, price, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}

func (t *storeTx) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (t *storeTx) ReserveStock(ctx context.Context, productID string, qty int) error {
	// Check and decrement in one statement so concurrent reservations on
	// the same product cannot both pass a stale check.
	ct, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now()
		  WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.ErrProductNotFound
		}
		return fmt.Errorf("read stock: %w", err)
	}
	return &orders.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (t *storeTx) ReleaseStock(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now()
		  WHERE id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

func (t *storeTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, external_id, user_id, product_id,
		                    quantity, total_price, status, delivery_address,
		                    payment_method, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`,
		o.ID, o.OrderNumber, o.ExternalID, o.UserID, o.ProductID,
		o.Quantity, o.TotalPrice, o.Status, o.DeliveryAddress,
		o.PaymentMethod, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_external_id_key" {
			// Lost the race against another create with the same
			// external id; the caller re-reads the winner.
			return orders.ErrDuplicateExternalID
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *storeTx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *storeTx) SetOrderStatus(ctx context.Context, id string, st orders.Status, paymentMethod string) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, payment_method = NULLIF($3, ''), updated_at = now()
		  WHERE id = $1`, id, st, paymentMethod)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}

// ---- read side (pool, read committed, no locks) ----

const orderCols = `id, order_number, COALESCE(external_id, ''), user_id, product_id,
	quantity, total_price, status, delivery_address, COALESCE(payment_method, ''),
	created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ExternalID, &o.UserID, &o.ProductID,
		&o.Quantity, &o.TotalPrice, &o.Status, &o.DeliveryAddress, &o.PaymentMethod,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (s *Store) GetOrderByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE external_id = $1`, externalID))
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders`
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) CountOrders(ctx context.Context, status orders.Status) (int64, error) {
	var (
		n   int64
		err error
	)
	if status == "" {
		err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	} else {
		err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	return scanProduct(s.Pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+productCols+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) GetStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := s.Pool.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, orders.ErrProductNotFound
		}
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return stock, nil
}
