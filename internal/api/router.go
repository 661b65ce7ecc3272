// Package api exposes entitlement checks, the product catalog and purchases
// over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/async"
	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/storefront"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Orchestrator is the purchase surface the handlers drive. Satisfied by
// *purchase.Orchestrator.
type Orchestrator interface {
	VerifyActiveSubscription(ctx context.Context) *async.Future[bool]
	Products(ctx context.Context) *async.Future[[]storefront.Product]
	Buy(ctx context.Context, tier catalog.Tier) *async.Future[bool]
}

// EntitlementCache is the read side of the entitlement store.
type EntitlementCache interface {
	Snapshot(ctx context.Context) (map[catalog.Tier]*time.Time, error)
}

// ReceiptWriter replaces the on-disk receipt.
type ReceiptWriter interface {
	Store(data []byte) error
}

type Config struct {
	Orchestrator Orchestrator
	Entitlements EntitlementCache
	// Receipts is optional; without it receipt uploads are rejected.
	Receipts    ReceiptWriter
	RateLimiter *RateLimiter
	Metrics     *Metrics
	Logger      zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

type handlers struct {
	orch     Orchestrator
	cache    EntitlementCache
	receipts ReceiptWriter
	now      func() time.Time
}

// NewRouter builds the HTTP handler for every API route.
func NewRouter(cfg Config) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	h := &handlers{
		orch:     cfg.Orchestrator,
		cache:    cfg.Entitlements,
		receipts: cfg.Receipts,
		now:      now,
	}

	r := chi.NewRouter()
	r.Use(requestContext(cfg.Logger, cfg.Metrics))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/entitlements", h.verifyEntitlements)
		r.Get("/entitlements/cached", h.cachedEntitlements)
		r.Get("/products", h.listProducts)
		r.Put("/receipt", h.uploadReceipt)

		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Middleware("purchase"))
			}
			r.Post("/purchases", h.purchase)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	return r
}
