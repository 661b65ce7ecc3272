// Package receipt reconciles the vendor receipt with the cached entitlement
// state.
//
// A check fetches the receipt exactly once, evaluates every tier against it,
// records each tier's expiration in the entitlement store and reports whether
// any tier is currently active.
package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/entitlements"
	"github.com/rs/zerolog"
)

// ExpirationStore is the part of the entitlement store the service writes to.
type ExpirationStore interface {
	SetExpiration(ctx context.Context, tier catalog.Tier, expiresAt *time.Time) error
}

var _ ExpirationStore = (*entitlements.Store)(nil)

type Config struct {
	Validator    Validator
	Store        ExpirationStore
	Environment  Environment
	SharedSecret string
	Logger       zerolog.Logger
	Metrics      *Metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Service struct {
	validator Validator
	store     ExpirationStore
	env       Environment
	secret    string
	logger    zerolog.Logger
	metrics   *Metrics
	now       func() time.Time
}

func NewService(cfg Config) *Service {
	env := cfg.Environment
	if env == "" {
		env = EnvironmentSandbox
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		validator: cfg.Validator,
		store:     cfg.Store,
		env:       env,
		secret:    cfg.SharedSecret,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       now,
	}
}

// Environment returns the validation environment receipts are sent to.
func (s *Service) Environment() Environment {
	return s.env
}

// FetchReceipt validates the device receipt. The returned error is either
// ErrNoReceiptData or a *ValidationError.
func (s *Service) FetchReceipt(ctx context.Context) (Bundle, error) {
	bundle, err := s.validator.Validate(ctx, s.env, s.secret)
	if err != nil {
		return nil, classify("fetch", err)
	}
	if bundle == nil {
		return nil, &ValidationError{Kind: KindInternal, Op: "fetch", Err: errors.New("validator returned no bundle")}
	}
	return bundle, nil
}

// Evaluate computes the tier's outcome against bundle and, for purchased and
// expired outcomes, records the expiration in the store. A not-purchased
// outcome leaves the store untouched.
func (s *Service) Evaluate(ctx context.Context, tier catalog.Tier, bundle Bundle) Outcome {
	return s.evaluate(ctx, tier, bundle, s.now())
}

func (s *Service) evaluate(ctx context.Context, tier catalog.Tier, bundle Bundle, now time.Time) Outcome {
	outcome := bundle.VerifySubscription(tier.ProductID(), now)
	s.metrics.recordOutcome(tier.String(), outcome.Status)

	event := s.logger.Info().Str("tier", tier.String()).Str("product_id", tier.ProductID())
	switch outcome.Status {
	case StatusPurchased:
		event.Time("expires_at", outcome.ExpiresAt).Msg("Subscription valid until expiration")
		s.record(ctx, tier, outcome.ExpiresAt)
	case StatusExpired:
		event.Time("expires_at", outcome.ExpiresAt).Msg("Subscription expired")
		s.record(ctx, tier, outcome.ExpiresAt)
	default:
		event.Msg("Subscription never purchased")
	}
	return outcome
}

func (s *Service) record(ctx context.Context, tier catalog.Tier, expiresAt time.Time) {
	if s.store == nil {
		return
	}
	v := expiresAt
	if err := s.store.SetExpiration(ctx, tier, &v); err != nil {
		s.logger.Error().
			Err(err).
			Str("tier", tier.String()).
			Time("expires_at", expiresAt).
			Msg("Failed to cache subscription expiration")
	}
}

// CheckActiveEntitlement fetches the receipt once and evaluates every tier.
// It reports true when at least one tier is purchased and unexpired. A device
// without a receipt is simply not entitled; every other fetch failure is
// returned unchanged.
func (s *Service) CheckActiveEntitlement(ctx context.Context) (bool, error) {
	start := time.Now()

	bundle, err := s.FetchReceipt(ctx)
	if err != nil {
		if errors.Is(err, ErrNoReceiptData) {
			s.logger.Info().Msg("No receipt on device, no active subscription")
			s.metrics.recordCheck("no_receipt", time.Since(start).Seconds())
			return false, nil
		}
		s.logger.Warn().Err(err).Str("environment", s.env.String()).Msg("Receipt validation failed")
		s.metrics.recordCheck("error", time.Since(start).Seconds())
		return false, err
	}

	now := s.now()
	active := false
	for _, tier := range catalog.AllTiers() {
		if s.evaluate(ctx, tier, bundle, now).Active(now) {
			active = true
		}
	}

	result := "inactive"
	if active {
		result = "active"
	}
	s.metrics.recordCheck(result, time.Since(start).Seconds())
	return active, nil
}
