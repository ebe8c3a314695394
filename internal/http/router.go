package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_food/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type RouterConfig struct {
	Carts      CartService
	Checkout   CheckoutService
	Orders     OrderService
	Payments   PaymentService
	Reconciler Reconciler
	Items      ItemService

	// JWTSecret empty selects MockAuthMiddleware.
	JWTSecret      string
	WebAppURL      string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Log            *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout, cfg.Log)
	ordersHandler := NewOrdersHandler(cfg.Checkout, cfg.Orders, cfg.RequestTimeout, cfg.Log)
	paymentsHandler := NewPaymentsHandler(cfg.Payments, cfg.Reconciler, cfg.WebAppURL, cfg.RequestTimeout, cfg.Log)
	adminHandler := NewAdminHandler(cfg.Orders, cfg.RequestTimeout, cfg.Log)
	itemHandler := NewItemHandler(cfg.Items, cfg.RequestTimeout, cfg.Log)

	auth := MockAuthMiddleware
	if cfg.JWTSecret != "" {
		auth = AuthMiddleware(cfg.JWTSecret)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(cfg.Log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware(cfg.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	// Called by the gateway and by browsers returning from it; unauthenticated.
	r.Get("/payments/webhook", paymentsHandler.Webhook)
	r.Post("/payments/webhook", paymentsHandler.Webhook)

	r.Get("/items/{item_id}", itemHandler.GetItem)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Patch("/items/{line_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{line_id}", cartHandler.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordersHandler.ListOrders)
			r.Post("/", ordersHandler.Checkout)
			r.Get("/{order_id}", ordersHandler.GetOrder)
		})

		r.Post("/payments/initiate", paymentsHandler.Initiate)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireStaff)
			r.Patch("/orders/{order_id}/status", adminHandler.UpdateStatus)
			r.Post("/orders/{order_id}/cancel", adminHandler.CancelOrder)
		})
	})

	return r
}
