package orders

import "context"

// OrderFilter narrows the read-side listings. Zero value means all orders.
type OrderFilter struct {
	UserID string
	Status Status
}

// Store is the persistence boundary of the engine. WithinTx runs fn as a
// single atomic transaction: either every write inside fn commits or none
// do. Implementations retry a bounded number of times on transaction
// contention (re-running fn so guards are re-checked against fresh state)
// before surfacing ErrConcurrencyConflict.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	CountOrders(ctx context.Context, status Status) (int64, error)

	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetStock(ctx context.Context, productID string) (int, error)
}

// Tx is the write surface visible inside a transaction. Stock moves only
// through ReserveStock and ReleaseStock; nothing else touches it.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*Product, error)

	// ReserveStock atomically checks stock >= qty and decrements in the
	// same statement. Returns InsufficientStockError without side effect
	// when the check fails.
	ReserveStock(ctx context.Context, productID string, qty int) error

	// ReleaseStock increments stock by qty. Fails only if the product
	// row is gone.
	ReleaseStock(ctx context.Context, productID string, qty int) error

	InsertOrder(ctx context.Context, o *Order) error
	GetOrderForUpdate(ctx context.Context, id string) (*Order, error)
	SetOrderStatus(ctx context.Context, id string, st Status, paymentMethod string) error
}
