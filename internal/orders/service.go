package orders

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// EventPublisher is what the service needs from the kafka producer.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service orchestrates the order lifecycle: it coordinates the stock
// ledger, the state machine and the store so that every operation is one
// atomic transaction. Control flows top-down only; nothing below the
// service calls back up.
type Service struct {
	Store     Store
	Publisher EventPublisher // optional; nil disables event publishing
	Log       *slog.Logger
	Source    string // producer name stamped into event envelopes
}

type CreateOrderInput struct {
	UserID          string
	ProductID       string
	Quantity        int
	DeliveryAddress string

	// ExternalID makes creation idempotent: a second create with the
	// same value returns the existing order and reserves nothing.
	ExternalID string
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// CreateOrder reserves stock and inserts the order in one transaction.
// Reservation and insert commit together or not at all: an insert
// failure rolls the reservation back inside the same transaction, so
// the system can never hold decremented stock without an order row.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.UserID == "" {
		return nil, &ValidationError{Field: "user_id"}
	}
	if in.ProductID == "" {
		return nil, &ValidationError{Field: "product_id"}
	}
	if in.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity"}
	}
	if in.DeliveryAddress == "" {
		return nil, &ValidationError{Field: "delivery_address"}
	}

	if in.ExternalID != "" {
		if existing, err := s.Store.GetOrderByExternalID(ctx, in.ExternalID); err == nil {
			return existing, nil
		}
	}

	var ord *Order
	err := s.Store.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if err := tx.ReserveStock(ctx, p.ID, in.Quantity); err != nil {
			return err
		}

		now := time.Now().UTC()
		o := &Order{
			ID:              uuid.NewString(),
			OrderNumber:     newOrderNumber(),
			ExternalID:      in.ExternalID,
			UserID:          in.UserID,
			ProductID:       p.ID,
			Quantity:        in.Quantity,
			TotalPrice:      p.Price.Mul(decimal.NewFromInt(int64(in.Quantity))),
			Status:          StatusPending,
			DeliveryAddress: in.DeliveryAddress,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			if errors.Is(err, ErrDuplicateExternalID) {
				return err
			}
			// Failure mode, not a business rejection: the reservation
			// already went through inside this transaction and is
			// undone by its rollback.
			s.Log.ErrorContext(ctx, "order insert failed after stock reserve, rolling back reservation",
				"product_id", p.ID, "quantity", in.Quantity, "error", err)
			return &PersistenceError{Op: "insert order", Err: err}
		}
		ord = o
		return nil
	})
	if err != nil {
		// Concurrent create with the same external id won; its rollback
		// released our reservation, so returning the winner keeps the
		// idempotency contract.
		if errors.Is(err, ErrDuplicateExternalID) && in.ExternalID != "" {
			return s.Store.GetOrderByExternalID(ctx, in.ExternalID)
		}
		return nil, err
	}

	s.Log.InfoContext(ctx, "order created",
		"order_id", ord.ID, "order_number", ord.OrderNumber,
		"product_id", ord.ProductID, "quantity", ord.Quantity)
	s.publish(EventOrderCreated, ord.ID, OrderCreatedPayload{
		OrderID:     ord.ID,
		OrderNumber: ord.OrderNumber,
		UserID:      ord.UserID,
		ProductID:   ord.ProductID,
		Quantity:    ord.Quantity,
		TotalPrice:  ord.TotalPrice.String(),
		Status:      ord.Status,
	})
	return ord, nil
}

// CancelOrder releases the reserved stock and marks the order CANCELLED
// in one transaction. If either write fails the whole transaction
// aborts, so there is never restored stock with a live order or a
// cancelled order with unrestored stock.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id"}
	}

	var (
		ord  *Order
		from Status
	)
	err := s.Store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		next, err := Next(o.Status, EventCancel)
		if err != nil {
			return err
		}
		if err := tx.ReleaseStock(ctx, o.ProductID, o.Quantity); err != nil {
			// Escalate: a failed release must abort the cancellation so
			// neither side is observably applied.
			s.Log.ErrorContext(ctx, "stock release failed, aborting cancellation",
				"order_id", o.ID, "product_id", o.ProductID, "quantity", o.Quantity, "error", err)
			return &PersistenceError{Op: "release stock", Err: err}
		}
		if err := tx.SetOrderStatus(ctx, o.ID, next, o.PaymentMethod); err != nil {
			return &PersistenceError{Op: "update order status", Err: err}
		}
		from = o.Status
		o.Status = next
		o.UpdatedAt = time.Now().UTC()
		ord = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.InfoContext(ctx, "order cancelled",
		"order_id", ord.ID, "product_id", ord.ProductID, "released", ord.Quantity)
	s.publish(EventOrderCancelled, ord.ID, OrderCancelledPayload{
		OrderID:   ord.ID,
		ProductID: ord.ProductID,
		Quantity:  ord.Quantity,
		From:      from,
	})
	return ord, nil
}

// ProcessPayment moves PENDING -> PAID. A payment method is required.
func (s *Service) ProcessPayment(ctx context.Context, orderID, paymentMethod string) (*Order, error) {
	if paymentMethod == "" {
		return nil, &ValidationError{Field: "payment_method"}
	}
	return s.transition(ctx, orderID, EventPay, paymentMethod)
}

// ProcessShipment moves PAID -> SHIPPED. No inventory side effects.
func (s *Service) ProcessShipment(ctx context.Context, orderID string) (*Order, error) {
	return s.transition(ctx, orderID, EventShip, "")
}

// ConfirmDelivery moves SHIPPED -> DELIVERED. No inventory side effects.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID string) (*Order, error) {
	return s.transition(ctx, orderID, EventDeliver, "")
}

// UpdateOrderStatus resolves the target status to its lifecycle event and
// dispatches it, so cancellation via status update still releases stock
// and payment via status update still demands a method.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, target Status, paymentMethod string) (*Order, error) {
	ev, err := EventFor(target)
	if err != nil {
		return nil, err
	}
	switch ev {
	case EventCancel:
		return s.CancelOrder(ctx, orderID)
	case EventPay:
		return s.ProcessPayment(ctx, orderID, paymentMethod)
	default:
		return s.transition(ctx, orderID, ev, "")
	}
}

func (s *Service) transition(ctx context.Context, orderID string, ev Event, paymentMethod string) (*Order, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id"}
	}

	var (
		ord  *Order
		from Status
	)
	err := s.Store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		next, err := Next(o.Status, ev)
		if err != nil {
			return err
		}
		method := o.PaymentMethod
		if ev == EventPay {
			method = paymentMethod
		}
		if err := tx.SetOrderStatus(ctx, o.ID, next, method); err != nil {
			return &PersistenceError{Op: "update order status", Err: err}
		}
		from = o.Status
		o.Status = next
		o.PaymentMethod = method
		o.UpdatedAt = time.Now().UTC()
		ord = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.InfoContext(ctx, "order status changed",
		"order_id", ord.ID, "from", from, "to", ord.Status)
	s.publish(EventOrderStatusChanged, ord.ID, OrderStatusChangedPayload{
		OrderID:       ord.ID,
		From:          from,
		To:            ord.Status,
		PaymentMethod: ord.PaymentMethod,
	})
	return ord, nil
}

// ---- read side ----

func (s *Service) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	return s.Store.GetOrder(ctx, orderID)
}

func (s *Service) GetOrdersByUserID(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id"}
	}
	return s.Store.ListOrders(ctx, OrderFilter{UserID: userID})
}

func (s *Service) GetOrdersByStatus(ctx context.Context, status Status) ([]Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status"}
	}
	return s.Store.ListOrders(ctx, OrderFilter{Status: status})
}

func (s *Service) GetOrdersByUserAndStatus(ctx context.Context, userID string, status Status) ([]Order, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id"}
	}
	if !status.Valid() {
		return nil, &ValidationError{Field: "status"}
	}
	return s.Store.ListOrders(ctx, OrderFilter{UserID: userID, Status: status})
}

func (s *Service) GetPendingOrders(ctx context.Context) ([]Order, error) {
	return s.Store.ListOrders(ctx, OrderFilter{Status: StatusPending})
}

// GetOrderCount counts all orders, or only those in status when given.
func (s *Service) GetOrderCount(ctx context.Context, status Status) (int64, error) {
	if status != "" && !status.Valid() {
		return 0, &ValidationError{Field: "status"}
	}
	return s.Store.CountOrders(ctx, status)
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Field: "status"}
	}
	return s.Store.ListOrders(ctx, f)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

func (s *Service) publish(eventType, orderID string, payload any) {
	if s.Publisher == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Source,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Publisher.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
