package orders

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory Store used by the service tests. A single
// mutex makes every transaction atomic; a snapshot taken before fn runs
// gives rollback-on-error semantics matching the real store.
type memStore struct {
	mu       sync.Mutex
	products map[string]Product
	orders   map[string]Order
	byExt    map[string]string // external_id -> order id

	failInsert error // injected InsertOrder failure
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]Product),
		orders:   make(map[string]Order),
		byExt:    make(map[string]string),
	}
}

func (s *memStore) addProduct(id, sku, price string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.products[id] = Product{
		ID: id, SKU: sku, Name: sku,
		Price: decimal.RequireFromString(price), Stock: stock,
		CreatedAt: now, UpdatedAt: now,
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapProducts := make(map[string]Product, len(s.products))
	for k, v := range s.products {
		snapProducts[k] = v
	}
	snapOrders := make(map[string]Order, len(s.orders))
	for k, v := range s.orders {
		snapOrders[k] = v
	}
	snapExt := make(map[string]string, len(s.byExt))
	for k, v := range s.byExt {
		snapExt[k] = v
	}

	if err := fn(&memTx{s: s}); err != nil {
		s.products = snapProducts
		s.orders = snapOrders
		s.byExt = snapExt
		return err
	}
	return nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (t *memTx) ReserveStock(ctx context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if p.Stock < qty {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	return nil
}

func (t *memTx) ReleaseStock(ctx context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *Order) error {
	if t.s.failInsert != nil {
		return t.s.failInsert
	}
	if o.ExternalID != "" {
		if _, dup := t.s.byExt[o.ExternalID]; dup {
			return ErrDuplicateExternalID
		}
	}
	t.s.orders[o.ID] = *o
	if o.ExternalID != "" {
		t.s.byExt[o.ExternalID] = o.ID
	}
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, id string, st Status, paymentMethod string) error {
	o, ok := t.s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = st
	o.PaymentMethod = paymentMethod
	o.UpdatedAt = time.Now().UTC()
	t.s.orders[id] = o
	return nil
}

// ---- read side ----

func (s *memStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (s *memStore) GetOrderByExternalID(ctx context.Context, externalID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExt[externalID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o := s.orders[id]
	return &o, nil
}

func (s *memStore) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *memStore) CountOrders(ctx context.Context, status Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if status == "" || o.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) ListProducts(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Product
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) GetStock(ctx context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	return p.Stock, nil
}
