// Package purchase coordinates catalog lookups, purchases and entitlement
// checks on top of the storefront and receipt services.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/analytics"
	"github.com/KayKostadinov/Go-Flashcards/internal/async"
	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/storefront"
	"github.com/rs/zerolog"
)

// ErrPurchaseFailed is the only error a failed purchase reports. The vendor's
// own error is logged and dropped.
var ErrPurchaseFailed = errors.New("purchase failed")

// DefaultPurchaseTimeout bounds one vendor purchase when Config leaves it unset.
const DefaultPurchaseTimeout = 2 * time.Minute

// CatalogError wraps a failed vendor product query.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("product catalog unavailable: %v", e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// EntitlementChecker is satisfied by *receipt.Service.
type EntitlementChecker interface {
	CheckActiveEntitlement(ctx context.Context) (bool, error)
}

// JobSubmitter runs detached follow-up work. Satisfied by *jobs.Runner.
type JobSubmitter interface {
	Submit(name string, job func(ctx context.Context) error) error
}

type Config struct {
	Storefront   storefront.Storefront
	Entitlements EntitlementChecker
	Analytics    analytics.Sink
	Jobs         JobSubmitter
	Logger       zerolog.Logger
	Metrics      *Metrics
	// PurchaseTimeout bounds the vendor call. The caller's cancellation does
	// not abort a purchase already handed to the vendor.
	PurchaseTimeout time.Duration
}

type Orchestrator struct {
	storefront      storefront.Storefront
	entitlements    EntitlementChecker
	analytics       analytics.Sink
	jobs            JobSubmitter
	logger          zerolog.Logger
	metrics         *Metrics
	purchaseTimeout time.Duration
}

func NewOrchestrator(cfg Config) *Orchestrator {
	timeout := cfg.PurchaseTimeout
	if timeout <= 0 {
		timeout = DefaultPurchaseTimeout
	}
	return &Orchestrator{
		storefront:      cfg.Storefront,
		entitlements:    cfg.Entitlements,
		analytics:       cfg.Analytics,
		jobs:            cfg.Jobs,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		purchaseTimeout: timeout,
	}
}

// ListProducts returns the vendor's current metadata for every catalog tier.
// Identifiers the vendor does not recognise are logged and left out; only a
// failed query is an error.
func (o *Orchestrator) ListProducts(ctx context.Context) ([]storefront.Product, error) {
	res, err := o.storefront.RetrieveProducts(ctx, catalog.ProductIDs())
	if err != nil {
		o.metrics.recordCatalog("error")
		o.logger.Warn().Err(err).Msg("Product query failed")
		return nil, &CatalogError{Err: err}
	}

	for _, p := range res.Retrieved {
		o.logger.Info().
			Str("product_id", p.ID).
			Str("title", p.Title).
			Str("price", p.LocalizedPrice).
			Msg("Product retrieved")
	}
	for _, id := range res.Invalid {
		o.logger.Warn().Str("product_id", id).Msg("Invalid product identifier")
	}
	o.metrics.recordCatalog("ok")

	products := make([]storefront.Product, len(res.Retrieved))
	copy(products, res.Retrieved)
	return products, nil
}

// Purchase buys tier atomically. On success it schedules a best-effort
// analytics record and returns without waiting for it. It does not touch the
// entitlement store; access is granted by the next entitlement check.
//
// Once the vendor call starts it runs to completion or PurchaseTimeout even
// if ctx is cancelled, so a disconnecting client cannot leave a charge
// unrecorded.
func (o *Orchestrator) Purchase(ctx context.Context, tier catalog.Tier) (bool, error) {
	if !tier.Valid() {
		return false, fmt.Errorf("unknown subscription tier %q", tier)
	}
	productID := tier.ProductID()

	vendorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.purchaseTimeout)
	defer cancel()
	res, err := o.storefront.Purchase(vendorCtx, productID, true)
	if err != nil {
		o.metrics.recordPurchase(tier.String(), "failed")
		o.logger.Warn().
			Err(err).
			Str("tier", tier.String()).
			Str("product_id", productID).
			Msg("Purchase failed")
		return false, ErrPurchaseFailed
	}

	o.metrics.recordPurchase(tier.String(), "succeeded")
	o.logger.Info().
		Str("tier", tier.String()).
		Str("product_id", productID).
		Str("transaction_id", res.TransactionID).
		Msg("Purchase succeeded")

	o.scheduleAnalytics(productID)
	return true, nil
}

func (o *Orchestrator) scheduleAnalytics(productID string) {
	if o.analytics == nil {
		return
	}
	job := func(ctx context.Context) error {
		return o.logPurchase(ctx, productID)
	}
	if o.jobs == nil {
		go o.runDetached(productID, job)
		return
	}
	if err := o.jobs.Submit("purchase-analytics", job); err != nil {
		o.logger.Warn().Err(err).Str("product_id", productID).Msg("Purchase analytics not scheduled")
	}
}

func (o *Orchestrator) runDetached(productID string, job func(ctx context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error().
				Str("product_id", productID).
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in purchase analytics")
		}
	}()
	if err := job(context.Background()); err != nil {
		o.logger.Warn().Err(err).Str("product_id", productID).Msg("Purchase analytics failed")
	}
}

// logPurchase re-reads the catalog so the record carries the vendor's current
// title and price.
func (o *Orchestrator) logPurchase(ctx context.Context, productID string) error {
	products, err := o.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("refresh product metadata: %w", err)
	}
	for _, p := range products {
		if p.ID != productID {
			continue
		}
		event := analytics.NewPurchaseEvent(p.Price, p.CurrencyCode, p.Title, catalog.ItemType, p.ID, true)
		if err := o.analytics.LogPurchase(ctx, event); err != nil {
			return fmt.Errorf("log purchase event: %w", err)
		}
		return nil
	}
	return fmt.Errorf("purchased product %q missing from catalog", productID)
}

// CheckActiveEntitlement reports whether any tier is currently active.
func (o *Orchestrator) CheckActiveEntitlement(ctx context.Context) (bool, error) {
	start := time.Now()
	active, err := o.entitlements.CheckActiveEntitlement(ctx)
	o.logger.Debug().
		Bool("active", active).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Entitlement check finished")
	return active, err
}

// VerifyActiveSubscription runs CheckActiveEntitlement on its own goroutine.
func (o *Orchestrator) VerifyActiveSubscription(ctx context.Context) *async.Future[bool] {
	return async.Go(ctx, o.CheckActiveEntitlement)
}

// Products runs ListProducts on its own goroutine.
func (o *Orchestrator) Products(ctx context.Context) *async.Future[[]storefront.Product] {
	return async.Go(ctx, o.ListProducts)
}

// Buy runs Purchase on its own goroutine.
func (o *Orchestrator) Buy(ctx context.Context, tier catalog.Tier) *async.Future[bool] {
	return async.Go(ctx, func(ctx context.Context) (bool, error) {
		return o.Purchase(ctx, tier)
	})
}
