package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-engine/internal/logging"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type OrdersHandler struct {
	Service *orders.Service
	Redis   *redis.Client
}

type CreateOrderReq struct {
	UserID          string `json:"user_id"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	DeliveryAddress string `json:"delivery_address"`
	ExternalID      string `json:"external_id,omitempty"`
}

type PayOrderReq struct {
	PaymentMethod string `json:"payment_method"`
}

type UpdateStatusReq struct {
	Status        orders.Status `json:"status"`
	PaymentMethod string        `json:"payment_method,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/pending", h.pendingOrders)
	r.Get("/orders/count", h.orderCount)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/pay", h.payOrder)
	r.Post("/orders/{id}/ship", h.shipOrder)
	r.Post("/orders/{id}/deliver", h.deliverOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's typed errors onto HTTP statuses: business
// rejections are client errors with a descriptive message, exhausted
// conflicts and storage faults are server errors and get logged with the
// request-scoped logger.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *orders.ValidationError
		ise *orders.InsufficientStockError
		ite *orders.InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      ise.Error(),
			"product_id": ise.ProductID,
			"requested":  ise.Requested,
			"available":  ise.Available,
		})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, map[string]string{"error": ite.Error()})
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrConcurrencyConflict):
		logging.FromCtx(r.Context()).Warn("request hit retry exhaustion", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		logging.FromCtx(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	doc := map[string]any{
		"order_id":   o.ID,
		"status":     o.Status,
		"updated_at": o.UpdatedAt.UTC(),
	}
	b, _ := json.Marshal(doc)
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, key, b, statusTTL(o.Status)).Err()
}

func statusTTL(st orders.Status) time.Duration {
	if st.Terminal() {
		return redisx.TTLStatusTerminal
	}
	return redisx.TTLStatusCache
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:          req.UserID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		DeliveryAddress: req.DeliveryAddress,
		ExternalID:      req.ExternalID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.ExternalID != "" {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, req.ExternalID)
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(ctx, o)

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrderByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache fast path
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	o, err := h.Service.GetOrderByID(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":   o.ID,
		"status":     o.Status,
		"updated_at": o.UpdatedAt.UTC(),
	})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	f := orders.OrderFilter{
		UserID: r.URL.Query().Get("user_id"),
		Status: orders.Status(r.URL.Query().Get("status")),
	}
	out, err := h.Service.ListOrders(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) pendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Service.GetPendingOrders(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) orderCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := orders.Status(r.URL.Query().Get("status"))
	n, err := h.Service.GetOrderCount(ctx, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"count": n}
	if status != "" {
		resp["status"] = status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) payOrder(w http.ResponseWriter, r *http.Request) {
	var req PayOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	h.applyTransition(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Service.ProcessPayment(ctx, id, req.PaymentMethod)
	})
}

func (h *OrdersHandler) shipOrder(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.Service.ProcessShipment)
}

func (h *OrdersHandler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.Service.ConfirmDelivery)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.Service.CancelOrder)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	h.applyTransition(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Service.UpdateOrderStatus(ctx, id, req.Status, req.PaymentMethod)
	})
}

func (h *OrdersHandler) applyTransition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, orderID string) (*orders.Order, error)) {

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := op(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
