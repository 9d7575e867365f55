package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_store/internal/catalog/domain"
	"github.com/fjod/go_store/internal/money"
	"github.com/go-chi/chi/v5"
)

type ProductCatalog interface {
	GetAllProducts(ctx context.Context) ([]*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	SaveProduct(ctx context.Context, p *domain.Product) error
}

type ProductHandler struct {
	catalog ProductCatalog
	log     *slog.Logger
	timeout time.Duration
}

func NewProductHandler(catalog ProductCatalog, log *slog.Logger, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		log:     log,
		timeout: timeout,
	}
}

type ProductsResponse struct {
	Products []*domain.Product `json:"products"`
}

// UpdateProductRequestDTO edits a product; omitted fields stay as they are.
type UpdateProductRequestDTO struct {
	Price  *string `json:"price"`
	Active *bool   `json:"active"`
}

// GET /api/v1/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.catalog.GetAllProducts(ctx)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, &ProductsResponse{Products: nonNil(products)})
}

// GET /api/v1/products/{product_id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// PATCH /api/v1/admin/products/{product_id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateProductRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	oldPrice := product.Price
	if req.Price != nil {
		price, err := money.Parse(*req.Price, product.Price.Currency())
		if err != nil {
			handleError(w, r, h.log, err)
			return
		}
		if err := product.Reprice(price); err != nil {
			handleError(w, r, h.log, err)
			return
		}
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	if err := h.catalog.SaveProduct(ctx, product); err != nil {
		handleError(w, r, h.log, err)
		return
	}

	h.log.InfoContext(ctx, "product updated",
		slog.String("product_id", product.ID),
		slog.String("old_price", oldPrice.String()),
		slog.String("new_price", product.Price.String()),
		slog.Bool("active", product.Active),
	)
	respondJSON(w, http.StatusOK, product)
}
