package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_bakery/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Carts          CartAPI
	Orders         OrderAPI
	Metrics        *metrics.ServerMetrics
	Gatherer       prometheus.Gatherer
	Log            *slog.Logger
	RequestTimeout time.Duration
	AdminToken     string
}

// NewRouter builds the storefront HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	cartHandler := NewCartHandler(cfg.Carts, cfg.Log)
	checkoutHandler := NewCheckoutHandler(cfg.Orders, cfg.Log)
	ordersHandler := NewOrdersHandler(cfg.Orders, cfg.Log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(OwnerMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordersHandler.ListOrders)
				r.Get("/{id}", ordersHandler.GetOrder)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminMiddleware(cfg.AdminToken))
			r.Post("/orders/{id}/status", ordersHandler.UpdateStatus)
		})
	})

	return otelhttp.NewHandler(r, "bakery-http")
}
