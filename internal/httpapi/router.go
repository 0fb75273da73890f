package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/metrics"
	"github.com/sheikh-saqib/canteen-payments/internal/settlement"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Deps struct {
	Engine         *settlement.Engine
	Carts          interfaces.CartStore
	Catalog        interfaces.CatalogStore
	Ledger         interfaces.LedgerStore
	Logger         *slog.Logger
	Metrics        *metrics.ServerMetrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// Health reports whether backing stores are reachable. Optional.
	Health func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}

	orders := NewOrderHandler(d.Engine, d.Carts, d.Logger)
	carts := NewCartHandler(d.Carts, d.Catalog, d.Logger)
	accounts := NewAccountHandler(d.Engine, d.Ledger, d.Logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				d.Logger.Warn("health check failed", "error", err)
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AccountMiddleware)

		r.Post("/orders/settle", orders.Settle)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Post("/items", carts.AddItem)
			r.Patch("/items/{item_id}", carts.UpdateItem)
		})

		r.Get("/balance", accounts.GetBalance)
		r.Get("/transactions", accounts.ListTransactions)
		r.Get("/transactions/{id}", accounts.GetTransaction)
	})

	return otelhttp.NewHandler(r, "canteen-api")
}
