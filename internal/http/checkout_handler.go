package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	checkout "github.com/fjod/go_store/internal/checkout/service"
)

type CheckoutHandler struct {
	checkout checkout.CheckoutService
	log      *slog.Logger
	timeout  time.Duration
}

func NewCheckoutHandler(svc checkout.CheckoutService, log *slog.Logger, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: svc,
		log:      log,
		timeout:  timeout,
	}
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req checkout.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.checkout.Checkout(ctx, userID, req)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID())
	respondJSON(w, http.StatusCreated, order)
}
