// Package entitlements caches the expiration of every subscription tier between
// receipt verifications. The cache is the local source of truth for
// HasValidSubscription; only receipt evaluation writes to it.
package entitlements

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/rs/zerolog"
)

// Backend is a durable key/value medium for optional timestamps.
// A nil value passed to Set clears the key. Get returns (nil, nil) for a
// missing key.
type Backend interface {
	Get(ctx context.Context, key string) (*time.Time, error)
	Set(ctx context.Context, key string, value *time.Time) error
}

// Store maps tiers onto backend keys and serializes writes.
type Store struct {
	backend Backend
	logger  zerolog.Logger

	writeMu sync.Mutex
}

// NewStore wraps backend. A nil backend falls back to an in-memory map.
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{backend: backend, logger: logger}
}

// Expiration returns the cached expiration for tier, or nil when none is cached.
func (s *Store) Expiration(ctx context.Context, tier catalog.Tier) (*time.Time, error) {
	key := tier.EntitlementKey()
	if key == "" {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	v, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read expiration for %s: %w", tier, err)
	}
	return cloneTime(v), nil
}

// SetExpiration overwrites the cached expiration for tier. Passing nil clears it.
func (s *Store) SetExpiration(ctx context.Context, tier catalog.Tier, expiresAt *time.Time) error {
	key := tier.EntitlementKey()
	if key == "" {
		return fmt.Errorf("unknown tier %q", tier)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Set(ctx, key, cloneTime(expiresAt)); err != nil {
		return fmt.Errorf("write expiration for %s: %w", tier, err)
	}
	return nil
}

// HasValidSubscription reports whether tier has a cached expiration strictly
// after now. Backend read failures count as "not entitled".
func (s *Store) HasValidSubscription(ctx context.Context, tier catalog.Tier, now time.Time) bool {
	expiresAt, err := s.Expiration(ctx, tier)
	if err != nil {
		s.logger.Warn().Err(err).Str("tier", tier.String()).Msg("Entitlement cache read failed")
		return false
	}
	return IsValid(expiresAt, now)
}

// IsValid reports whether expiresAt lies strictly after now. A missing
// expiration is never valid, and one equal to now has already lapsed.
func IsValid(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.Before(*expiresAt)
}

// Snapshot returns the cached expiration of every known tier.
func (s *Store) Snapshot(ctx context.Context) (map[catalog.Tier]*time.Time, error) {
	out := make(map[catalog.Tier]*time.Time, len(catalog.AllTiers()))
	for _, tier := range catalog.AllTiers() {
		v, err := s.Expiration(ctx, tier)
		if err != nil {
			return nil, err
		}
		out[tier] = v
	}
	return out, nil
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
