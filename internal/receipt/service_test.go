package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/entitlements"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBundle map[string]Outcome

func (b fakeBundle) VerifySubscription(productID string, _ time.Time) Outcome {
	return b[productID]
}

type fakeValidator struct {
	bundle Bundle
	err    error
	calls  atomic.Int32
	env    Environment
	secret string
}

func (v *fakeValidator) Validate(_ context.Context, env Environment, secret string) (Bundle, error) {
	v.calls.Add(1)
	v.env = env
	v.secret = secret
	return v.bundle, v.err
}

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, v Validator) (*Service, *entitlements.Store) {
	t.Helper()
	store := entitlements.NewStore(entitlements.NewMemoryBackend(), zerolog.Nop())
	svc := NewService(Config{
		Validator:    v,
		Store:        store,
		Environment:  EnvironmentProduction,
		SharedSecret: "s3cret",
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return testNow },
	})
	return svc, store
}

func expiration(t *testing.T, store *entitlements.Store, tier catalog.Tier) *time.Time {
	t.Helper()
	v, err := store.Expiration(context.Background(), tier)
	require.NoError(t, err)
	return v
}

func TestEvaluateWritesPurchasedAndExpired(t *testing.T) {
	ctx := context.Background()
	tomorrow := testNow.Add(24 * time.Hour)
	yesterday := testNow.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		outcome   Outcome
		wantStore *time.Time
	}{
		{name: "purchased", outcome: Outcome{Status: StatusPurchased, ExpiresAt: tomorrow}, wantStore: &tomorrow},
		{name: "expired", outcome: Outcome{Status: StatusExpired, ExpiresAt: yesterday}, wantStore: &yesterday},
		{name: "not purchased", outcome: Outcome{Status: StatusNotPurchased}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t, &fakeValidator{})
			bundle := fakeBundle{catalog.OneYear.ProductID(): tt.outcome}

			got := svc.Evaluate(ctx, catalog.OneYear, bundle)
			assert.Equal(t, tt.outcome, got)

			stored := expiration(t, store, catalog.OneYear)
			if tt.wantStore == nil {
				assert.Nil(t, stored)
				return
			}
			require.NotNil(t, stored)
			assert.True(t, stored.Equal(*tt.wantStore))
		})
	}
}

func TestEvaluateNotPurchasedKeepsPreviousValue(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeValidator{})
	previous := testNow.Add(-48 * time.Hour)
	require.NoError(t, store.SetExpiration(ctx, catalog.SixMonths, &previous))

	svc.Evaluate(ctx, catalog.SixMonths, fakeBundle{})

	stored := expiration(t, store, catalog.SixMonths)
	require.NotNil(t, stored)
	assert.True(t, stored.Equal(previous))
}

func TestCheckActiveEntitlementMixedTiers(t *testing.T) {
	yesterday := testNow.Add(-24 * time.Hour)
	tomorrow := testNow.Add(24 * time.Hour)
	v := &fakeValidator{bundle: fakeBundle{
		catalog.SixMonths.ProductID(): {Status: StatusExpired, ExpiresAt: yesterday},
		catalog.OneYear.ProductID():   {Status: StatusPurchased, ExpiresAt: tomorrow},
	}}
	svc, store := newTestService(t, v)

	active, err := svc.CheckActiveEntitlement(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	assert.EqualValues(t, 1, v.calls.Load(), "receipt is fetched exactly once")
	assert.Equal(t, EnvironmentProduction, v.env)
	assert.Equal(t, "s3cret", v.secret)

	assert.True(t, expiration(t, store, catalog.SixMonths).Equal(yesterday))
	assert.True(t, expiration(t, store, catalog.OneYear).Equal(tomorrow))
}

func TestCheckActiveEntitlementAllExpired(t *testing.T) {
	sixExpired := testNow.Add(-72 * time.Hour)
	yearExpired := testNow.Add(-time.Hour)
	v := &fakeValidator{bundle: fakeBundle{
		catalog.SixMonths.ProductID(): {Status: StatusExpired, ExpiresAt: sixExpired},
		catalog.OneYear.ProductID():   {Status: StatusExpired, ExpiresAt: yearExpired},
	}}
	svc, store := newTestService(t, v)

	active, err := svc.CheckActiveEntitlement(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.True(t, expiration(t, store, catalog.SixMonths).Equal(sixExpired))
	assert.True(t, expiration(t, store, catalog.OneYear).Equal(yearExpired))
}

func TestCheckActiveEntitlementNeverPurchased(t *testing.T) {
	svc, store := newTestService(t, &fakeValidator{bundle: fakeBundle{}})

	active, err := svc.CheckActiveEntitlement(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	for tier, v := range snap {
		assert.Nil(t, v, "tier %s must stay unset", tier)
	}
}

func TestCheckActiveEntitlementPurchasedButPastIsInactive(t *testing.T) {
	// The bundle's own verdict says purchased, but the expiration is not after
	// the check instant, so it does not count as active.
	v := &fakeValidator{bundle: fakeBundle{
		catalog.OneYear.ProductID(): {Status: StatusPurchased, ExpiresAt: testNow},
	}}
	svc, _ := newTestService(t, v)

	active, err := svc.CheckActiveEntitlement(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCheckActiveEntitlementNoReceiptIsFalse(t *testing.T) {
	for name, err := range map[string]error{
		"bare":    ErrNoReceiptData,
		"wrapped": fmt.Errorf("read receipt: %w", ErrNoReceiptData),
	} {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeValidator{err: err})
			active, gotErr := svc.CheckActiveEntitlement(context.Background())
			require.NoError(t, gotErr)
			assert.False(t, active)
		})
	}
}

func TestCheckActiveEntitlementPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc, store := newTestService(t, &fakeValidator{err: boom})

	active, err := svc.CheckActiveEntitlement(context.Background())
	require.Error(t, err)
	assert.False(t, active)
	assert.ErrorIs(t, err, boom)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, KindInternal, vErr.Kind)

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	for _, v := range snap {
		assert.Nil(t, v, "failed fetch must not touch the store")
	}
}

func TestCheckActiveEntitlementKeepsValidationErrorIdentity(t *testing.T) {
	original := &ValidationError{Kind: KindStatus, Op: "verifyReceipt", Status: 21003}
	svc, _ := newTestService(t, &fakeValidator{err: original})

	_, err := svc.CheckActiveEntitlement(context.Background())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Same(t, original, vErr)
	assert.Contains(t, err.Error(), "status 21003")
}

type failingStore struct{ calls int }

func (f *failingStore) SetExpiration(context.Context, catalog.Tier, *time.Time) error {
	f.calls++
	return errors.New("read-only filesystem")
}

func TestEvaluateIgnoresStoreWriteFailure(t *testing.T) {
	store := &failingStore{}
	tomorrow := testNow.Add(24 * time.Hour)
	svc := NewService(Config{
		Validator: &fakeValidator{bundle: fakeBundle{
			catalog.OneYear.ProductID(): {Status: StatusPurchased, ExpiresAt: tomorrow},
		}},
		Store:  store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return testNow },
	})

	active, err := svc.CheckActiveEntitlement(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, EnvironmentSandbox, svc.Environment())
}

func TestCheckActiveEntitlementRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := entitlements.NewStore(nil, zerolog.Nop())
	svc := NewService(Config{
		Validator: &fakeValidator{bundle: fakeBundle{
			catalog.SixMonths.ProductID(): {Status: StatusPurchased, ExpiresAt: testNow.Add(time.Hour)},
		}},
		Store:   store,
		Logger:  zerolog.Nop(),
		Metrics: metrics,
		Now:     func() time.Time { return testNow },
	})

	_, err := svc.CheckActiveEntitlement(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.checksTotal.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("six_months", "purchased")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomesTotal.WithLabelValues("one_year", "not_purchased")))

	// Registering twice reuses the existing collectors.
	again := NewMetrics(reg)
	assert.Same(t, metrics.checksTotal, again.checksTotal)
}

func TestParseEnvironment(t *testing.T) {
	tests := map[string]Environment{
		"":           EnvironmentSandbox,
		"sandbox":    EnvironmentSandbox,
		"Production": EnvironmentProduction,
		" release ":  EnvironmentProduction,
	}
	for in, want := range tests {
		got, err := ParseEnvironment(in)
		if err != nil {
			t.Fatalf("ParseEnvironment(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseEnvironment(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseEnvironment("staging"); err == nil {
		t.Fatal("ParseEnvironment(staging) expected error")
	}
}

func TestWatcherFiresOnReceiptWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt")
	fired := make(chan struct{}, 4)

	w, err := NewWatcher(path, 20*time.Millisecond, zerolog.Nop(), func() { fired <- struct{}{} })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("receipt-bytes"), 0o600))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire after receipt write")
	}

	w.Stop()
	w.Stop()
}
