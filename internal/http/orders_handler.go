package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_store/internal/orders/domain"
	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	Get(ctx context.Context, ownerID, orderID string) (*domain.Order, error)
	GetAny(ctx context.Context, orderID string) (*domain.Order, error)
	ListMine(ctx context.Context, ownerID string) ([]*domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	Pay(ctx context.Context, ownerID, orderID string) (*domain.Order, error)
	Cancel(ctx context.Context, ownerID, orderID string) (*domain.Order, error)
	Ship(ctx context.Context, orderID string) (*domain.Order, error)
	Deliver(ctx context.Context, orderID string) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	log     *slog.Logger
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, log *slog.Logger, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		log:     log,
		timeout: timeout,
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orders, err := h.orders.ListMine(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.orders.Get)
}

// POST /api/v1/orders/{order_id}/pay
func (h *OrdersHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.orders.Pay)
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.orders.Cancel)
}

// GET /api/v1/admin/orders?status=
func (h *OrdersHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, err := domain.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	orders, err := h.orders.ListByStatus(ctx, status)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/admin/orders/{order_id}
func (h *OrdersHandler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.orders.GetAny)
}

// POST /api/v1/admin/orders/{order_id}/ship
func (h *OrdersHandler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.orders.Ship)
}

// POST /api/v1/admin/orders/{order_id}/deliver
func (h *OrdersHandler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.orders.Deliver)
}

func (h *OrdersHandler) ownerAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ownerID, orderID string) (*domain.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	order, err := fn(ctx, userID, chi.URLParam(r, "order_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) adminAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID string) (*domain.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := fn(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
