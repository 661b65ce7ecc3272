package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/api"
	"github.com/KayKostadinov/Go-Flashcards/internal/logging"
	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout = 15 * time.Second
	verifyTimeout   = time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, metrics endpoint and background re-verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		}
	}()

	trusted, err := utils.ParseTrustedProxies(a.cfg.TrustedProxies)
	if err != nil {
		return err
	}
	apiMetrics := api.NewMetrics(a.registry)
	limiter := api.NewRateLimiter(api.RateLimitConfig{
		Rate:           rate.Limit(a.cfg.PurchaseRate),
		Burst:          a.cfg.PurchaseBurst,
		TrustedProxies: trusted,
	}, apiMetrics)
	defer limiter.Stop()

	srv := &http.Server{
		Addr: a.cfg.ListenAddr,
		Handler: api.NewRouter(api.Config{
			Orchestrator: a.orch,
			Entitlements: a.store,
			Receipts:     a.receipts,
			RateLimiter:  limiter,
			Metrics:      apiMetrics,
			Logger:       logging.Component("api"),
		}),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	log.Info().
		Str("version", Version).
		Str("listen_addr", a.cfg.ListenAddr).
		Str("receipt_env", a.cfg.ReceiptEnv.String()).
		Str("store", a.cfg.StoreBackend).
		Str("storefront", a.cfg.Storefront).
		Strs("analytics", a.cfg.AnalyticsSinks).
		Msg("Starting flashcards-iap")

	if a.cfg.MetricsAddr != "" {
		startMetricsServer(ctx, a.cfg.MetricsAddr, a.registry)
	}

	g.Go(func() error {
		log.Info().Str("addr", a.cfg.ListenAddr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.WatchReceipt {
		watcher, err := receipt.NewWatcher(a.cfg.ReceiptFile(), 0, logging.Component("receipt"), func() {
			a.reverify(ctx, "receipt_changed")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create receipt watcher, receipt changes need a restart")
		} else if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start receipt watcher")
		} else {
			defer watcher.Stop()
		}
	}

	if a.cfg.VerifySchedule != "" {
		logger := cronLogger{logger: logging.Component("scheduler")}
		scheduler := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
		if _, err := scheduler.AddFunc(a.cfg.VerifySchedule, func() { a.reverify(ctx, "schedule") }); err != nil {
			return fmt.Errorf("schedule re-verification: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		log.Info().Str("schedule", a.cfg.VerifySchedule).Msg("Periodic re-verification enabled")
	}

	// Prime the cache so /api/entitlements/cached is meaningful right away.
	g.Go(func() error {
		a.reverify(ctx, "startup")
		return nil
	})

	err = g.Wait()
	log.Info().Msg("flashcards-iap stopped")
	return err
}

// reverify refreshes the entitlement cache. Errors are logged; the next
// trigger tries again.
func (a *app) reverify(ctx context.Context, trigger string) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	active, err := a.service.CheckActiveEntitlement(ctx)
	if err != nil {
		log.Warn().Err(err).Str("trigger", trigger).Msg("Entitlement re-verification failed")
		return
	}
	log.Info().Bool("active", active).Str("trigger", trigger).Msg("Entitlements re-verified")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
