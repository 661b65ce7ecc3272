package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/analytics"
	"github.com/KayKostadinov/Go-Flashcards/internal/config"
	"github.com/KayKostadinov/Go-Flashcards/internal/entitlements"
	"github.com/KayKostadinov/Go-Flashcards/internal/jobs"
	"github.com/KayKostadinov/Go-Flashcards/internal/logging"
	"github.com/KayKostadinov/Go-Flashcards/internal/purchase"
	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
	"github.com/KayKostadinov/Go-Flashcards/internal/receipt/appstore"
	"github.com/KayKostadinov/Go-Flashcards/internal/storefront"
	"github.com/KayKostadinov/Go-Flashcards/internal/storefront/stripe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// app holds the wired service graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	store    *entitlements.Store
	receipts *appstore.FileSource
	service  *receipt.Service
	orch     *purchase.Orchestrator
	runner   *jobs.Runner

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend, err := a.newBackend(ctx)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.store = entitlements.NewStore(backend, logging.Component("entitlements"))

	a.receipts = appstore.NewFileSource(cfg.ReceiptFile())
	validator := appstore.New(appstore.Config{
		Source:        a.receipts,
		ProductionURL: cfg.ValidateURL,
		SandboxURL:    cfg.ValidateURL,
		Timeout:       cfg.ValidationTimeout,
		Logger:        logging.Component("appstore"),
	})
	a.service = receipt.NewService(receipt.Config{
		Validator:    validator,
		Store:        a.store,
		Environment:  cfg.ReceiptEnv,
		SharedSecret: cfg.SharedSecret,
		Logger:       logging.Component("receipt"),
		Metrics:      receipt.NewMetrics(a.registry),
	})

	front, err := a.newStorefront()
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	sink, err := a.newAnalytics()
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.runner = jobs.NewRunner(jobs.Config{
		Concurrency: cfg.JobConcurrency,
		Timeout:     cfg.JobTimeout,
		Logger:      logging.Component("jobs"),
	})

	a.orch = purchase.NewOrchestrator(purchase.Config{
		Storefront:      front,
		Entitlements:    a.service,
		Analytics:       sink,
		Jobs:            a.runner,
		Logger:          logging.Component("purchase"),
		Metrics:         purchase.NewMetrics(a.registry),
		PurchaseTimeout: cfg.PurchaseTimeout,
	})
	return a, nil
}

func (a *app) newBackend(ctx context.Context) (entitlements.Backend, error) {
	switch a.cfg.StoreBackend {
	case config.StoreMemory:
		return entitlements.NewMemoryBackend(), nil
	case config.StoreFile:
		return entitlements.NewFileBackend(a.cfg.DataDir)
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		return entitlements.NewRedisBackend(rdb, a.cfg.RedisPrefix), nil
	case config.StoreSQLite:
		backend, err := entitlements.NewSQLiteBackend(a.cfg.DataDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, backend.Close)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.StoreBackend)
	}
}

func (a *app) newStorefront() (storefront.Storefront, error) {
	switch a.cfg.Storefront {
	case config.StorefrontStripe:
		return stripe.New(stripe.Config{
			APIKey:       a.cfg.StripeKey,
			CustomerID:   a.cfg.StripeCustomer,
			LookupPrefix: a.cfg.StripeLookupPrefix,
			Logger:       logging.Component("stripe"),
		})
	case config.StorefrontSandbox, "":
		return storefront.NewSandbox(storefront.DefaultSandboxProducts()), nil
	default:
		return nil, fmt.Errorf("unknown storefront %q", a.cfg.Storefront)
	}
}

func (a *app) newAnalytics() (analytics.Sink, error) {
	var sinks analytics.Multi
	if a.cfg.HasSink(config.SinkLog) {
		sinks = append(sinks, analytics.NewLogSink(logging.Component("analytics")))
	}
	if a.cfg.HasSink(config.SinkMetrics) {
		sinks = append(sinks, analytics.NewMetricsSink(a.registry))
	}
	if a.cfg.HasSink(config.SinkKafka) {
		k, err := analytics.NewKafkaSink(analytics.KafkaConfig{
			Brokers: a.cfg.KafkaBrokers,
			Topic:   a.cfg.KafkaTopic,
			Logger:  logging.Component("analytics"),
		})
		if err != nil {
			return nil, fmt.Errorf("kafka analytics sink: %w", err)
		}
		a.closers = append(a.closers, func() error {
			k.Close()
			return nil
		})
		sinks = append(sinks, k)
	}
	return sinks, nil
}

// close drains background jobs, then releases backends in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain background jobs: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
