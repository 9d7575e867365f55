// Package http exposes the ordering core over a JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_store/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Stock    *StockHandler
	Products *ProductHandler
	// Ping reports whether the store is reachable; nil skips the check.
	Ping           func(ctx context.Context) error
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(cfg.Metrics))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", healthHandler(cfg.Ping))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Get("/products", cfg.Products.List)
		r.Get("/products/{product_id}", cfg.Products.Get)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cfg.Cart.GetCart)
			r.Delete("/", cfg.Cart.ClearCart)
			r.Post("/items", cfg.Cart.AddItem)
			r.Put("/items/{line_id}", cfg.Cart.UpdateQuantity)
			r.Delete("/items/{line_id}", cfg.Cart.RemoveItem)
		})

		r.Post("/checkout", cfg.Checkout.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", cfg.Orders.ListOrders)
			r.Get("/{order_id}", cfg.Orders.GetOrder)
			r.Post("/{order_id}/pay", cfg.Orders.PayOrder)
			r.Post("/{order_id}/cancel", cfg.Orders.CancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Get("/orders", cfg.Orders.ListByStatus)
			r.Get("/orders/{order_id}", cfg.Orders.AdminGetOrder)
			r.Post("/orders/{order_id}/ship", cfg.Orders.ShipOrder)
			r.Post("/orders/{order_id}/deliver", cfg.Orders.DeliverOrder)

			r.Get("/stock/{product_id}", cfg.Stock.GetStock)
			r.Put("/stock/{product_id}", cfg.Stock.AdjustStock)
			r.Post("/stock/{product_id}/add", cfg.Stock.AddStock)
			r.Post("/stock/{product_id}/remove", cfg.Stock.RemoveStock)

			r.Patch("/products/{product_id}", cfg.Products.Update)
		})
	})

	return otelhttp.NewHandler(r, "store-http")
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
