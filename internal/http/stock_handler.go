package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_store/internal/inventory/domain"
	inventory "github.com/fjod/go_store/internal/inventory/service"
	"github.com/go-chi/chi/v5"
)

type StockService interface {
	GetStock(ctx context.Context, productID string) (inventory.StockView, error)
	AddStock(ctx context.Context, productID string, qty int, reason string) (domain.Ledger, error)
	RemoveStock(ctx context.Context, productID string, qty int, reason string) (domain.Ledger, error)
	AdjustStock(ctx context.Context, productID string, newQty int, reason string) (domain.Ledger, error)
}

type StockHandler struct {
	stock   StockService
	log     *slog.Logger
	timeout time.Duration
}

func NewStockHandler(stock StockService, log *slog.Logger, timeout time.Duration) *StockHandler {
	return &StockHandler{
		stock:   stock,
		log:     log,
		timeout: timeout,
	}
}

type StockChangeRequestDTO struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

// GET /api/v1/admin/stock/{product_id}
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.stock.GetStock(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/admin/stock/{product_id}/add
func (h *StockHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.stock.AddStock)
}

// POST /api/v1/admin/stock/{product_id}/remove
func (h *StockHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.stock.RemoveStock)
}

// PUT /api/v1/admin/stock/{product_id}
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.stock.AdjustStock)
}

func (h *StockHandler) change(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, productID string, qty int, reason string) (domain.Ledger, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req StockChangeRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ledger, err := fn(ctx, chi.URLParam(r, "product_id"), req.Quantity, req.Reason)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ledger)
}
