package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyServer(t *testing.T, expires time.Time) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":0,"environment":"Sandbox","latest_receipt_info":[{"product_id":"PublicLibraryOneYear","transaction_id":"1","expires_date_ms":"%s"}]}`,
			strconv.FormatInt(expires.UnixMilli(), 10))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, validateURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.StoreBackend = config.StoreFile
	cfg.AnalyticsSinks = []string{config.SinkLog, config.SinkMetrics}
	cfg.ValidateURL = validateURL
	cfg.LogLevel = "error"
	cfg.LogFormat = "json"
	require.NoError(t, cfg.Validate())

	prev := loadConfig
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })
	return cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "flashcards-iap "+Version)
}

func TestCheckCommandCachesExpiration(t *testing.T) {
	expires := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Millisecond)
	cfg := testConfig(t, verifyServer(t, expires).URL)
	require.NoError(t, os.WriteFile(cfg.ReceiptFile(), []byte("cmVjZWlwdA=="), 0o600))

	out, err := run(t, "check")
	require.NoError(t, err)
	assert.Equal(t, "active: true\n", out)

	out, err = run(t, "entitlements")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "six_months")
	assert.Contains(t, lines[1], "false")
	assert.Contains(t, lines[2], "one_year")
	assert.Contains(t, lines[2], expires.UTC().Format(time.RFC3339))
	assert.Contains(t, lines[2], "true")
}

func TestCheckCommandWithoutReceipt(t *testing.T) {
	testConfig(t, verifyServer(t, time.Now()).URL)

	out, err := run(t, "check")
	require.NoError(t, err)
	assert.Equal(t, "active: false\n", out)
}

func TestProductsCommand(t *testing.T) {
	testConfig(t, "")

	out, err := run(t, "products")
	require.NoError(t, err)
	assert.Contains(t, out, "PublicLibrarySixMonths")
	assert.Contains(t, out, "PublicLibraryOneYear")
	assert.Contains(t, out, "14.99 USD")
}

func TestPurchaseCommand(t *testing.T) {
	testConfig(t, "")

	out, err := run(t, "purchase", "one_year")
	require.NoError(t, err)
	assert.Equal(t, "purchased PublicLibraryOneYear: true\n", out)

	_, err = run(t, "purchase", "lifetime")
	require.Error(t, err)

	_, err = run(t, "purchase")
	require.Error(t, err)
}

func TestBuildAppWiresAnalyticsAndMetrics(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.StoreBackend = config.StoreMemory

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)

	ok, err := a.orch.Purchase(context.Background(), catalog.SixMonths)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.close(context.Background()))

	count, err := testutil.GatherAndCount(a.registry, "flashcards_purchase_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec := httptest.NewRecorder()
	newMetricsHandler(a.registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flashcards_purchase_attempts_total")
}

func TestBuildAppSQLiteStore(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.StoreBackend = config.StoreSQLite

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	_, err = os.Stat(filepath.Join(cfg.DataDir, "entitlements.db"))
	assert.NoError(t, err)
}

func TestBuildAppRejectsKafkaWithoutBrokers(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.AnalyticsSinks = []string{config.SinkKafka}

	_, err := buildApp(context.Background(), cfg)
	require.Error(t, err)
}
