// Package config loads process settings from .env files and FLASHCARDS_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/logging"
	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const envPrefix = "FLASHCARDS_"

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Storefronts.
const (
	StorefrontSandbox = "sandbox"
	StorefrontStripe  = "stripe"
)

// Analytics sinks.
const (
	SinkLog     = "log"
	SinkMetrics = "metrics"
	SinkKafka   = "kafka"
)

const (
	DefaultDataDir      = "./data"
	DefaultListenAddr   = ":8080"
	DefaultMetricsAddr  = ":9091"
	DefaultReceiptFile  = "receipt.b64"
	DefaultRedisPrefix  = "flashcards:entitlements:"
	DefaultStripePrefix = "flashcards_"
	DefaultKafkaTopic   = "flashcards.purchases"
)

type Config struct {
	DataDir     string
	ListenAddr  string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	ReceiptEnv   receipt.Environment
	SharedSecret string
	ReceiptPath  string
	ValidateURL  string
	WatchReceipt bool
	// ValidationTimeout bounds one call to the validation endpoint.
	ValidationTimeout time.Duration

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Storefront         string
	StripeKey          string
	StripeCustomer     string
	StripeLookupPrefix string

	AnalyticsSinks []string
	KafkaBrokers   []string
	KafkaTopic     string

	JobConcurrency int
	JobTimeout     time.Duration
	// VerifySchedule is a standard 5-field cron expression. Empty disables periodic
	// re-verification.
	VerifySchedule string

	PurchaseRate    float64 // per second per client; the env var is per minute
	PurchaseBurst   int
	// PurchaseTimeout bounds one vendor purchase, independent of the caller.
	PurchaseTimeout time.Duration

	// TrustedProxies lists CIDRs or IPs whose X-Forwarded-For is believed.
	TrustedProxies []string

	// EnvOverrides records which settings came from the environment.
	EnvOverrides map[string]bool
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		ListenAddr:         DefaultListenAddr,
		MetricsAddr:        DefaultMetricsAddr,
		LogLevel:           "info",
		LogFormat:          "auto",
		ReceiptEnv:         receipt.EnvironmentSandbox,
		WatchReceipt:       true,
		ValidationTimeout:  30 * time.Second,
		StoreBackend:       StoreSQLite,
		RedisAddr:          "localhost:6379",
		RedisPrefix:        DefaultRedisPrefix,
		Storefront:         StorefrontSandbox,
		StripeLookupPrefix: DefaultStripePrefix,
		AnalyticsSinks:     []string{SinkLog, SinkMetrics},
		KafkaTopic:         DefaultKafkaTopic,
		JobConcurrency:     4,
		JobTimeout:         30 * time.Second,
		PurchaseRate:       6.0 / 60.0,
		PurchaseBurst:      3,
		PurchaseTimeout:    2 * time.Minute,
		EnvOverrides:       make(map[string]bool),
	}
}

// Load reads <data dir>/.env, then ./.env, then the process environment.
// Variables already set in the environment are never overwritten by a file.
func Load() (*Config, error) {
	dataDir := DefaultDataDir
	if dir := utils.GetenvTrim(envPrefix + "DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Debug().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := utils.GetenvTrim(envPrefix + name); v != "" {
			*dst = v
			c.EnvOverrides[name] = true
		}
	}
	list := func(name string, dst *[]string) {
		if v := utils.GetenvTrim(envPrefix + name); v != "" {
			*dst = utils.SplitList(v)
			c.EnvOverrides[name] = true
		}
	}
	boolean := func(name string, dst *bool) {
		if v := utils.GetenvTrim(envPrefix + name); v != "" {
			*dst = utils.ParseBool(v)
			c.EnvOverrides[name] = true
		}
	}

	str("DATA_DIR", &c.DataDir)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("SHARED_SECRET", &c.SharedSecret)
	str("RECEIPT_PATH", &c.ReceiptPath)
	str("VALIDATE_URL", &c.ValidateURL)
	boolean("WATCH_RECEIPT", &c.WatchReceipt)
	str("STORE", &c.StoreBackend)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("REDIS_PREFIX", &c.RedisPrefix)
	str("STOREFRONT", &c.Storefront)
	str("STRIPE_KEY", &c.StripeKey)
	str("STRIPE_CUSTOMER", &c.StripeCustomer)
	str("STRIPE_LOOKUP_PREFIX", &c.StripeLookupPrefix)
	list("ANALYTICS_SINKS", &c.AnalyticsSinks)
	list("KAFKA_BROKERS", &c.KafkaBrokers)
	str("KAFKA_TOPIC", &c.KafkaTopic)
	str("VERIFY_SCHEDULE", &c.VerifySchedule)
	list("TRUSTED_PROXIES", &c.TrustedProxies)

	if v := utils.GetenvTrim(envPrefix + "RECEIPT_ENV"); v != "" {
		env, err := receipt.ParseEnvironment(v)
		if err != nil {
			return fmt.Errorf("%sRECEIPT_ENV: %w", envPrefix, err)
		}
		c.ReceiptEnv = env
		c.EnvOverrides["RECEIPT_ENV"] = true
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"REDIS_DB", &c.RedisDB},
		{"JOB_CONCURRENCY", &c.JobConcurrency},
		{"PURCHASE_BURST", &c.PurchaseBurst},
	}
	for _, f := range ints {
		v := utils.GetenvTrim(envPrefix + f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, f.name, err)
		}
		*f.dst = n
		c.EnvOverrides[f.name] = true
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"VALIDATION_TIMEOUT", &c.ValidationTimeout},
		{"JOB_TIMEOUT", &c.JobTimeout},
		{"PURCHASE_TIMEOUT", &c.PurchaseTimeout},
	}
	for _, f := range durations {
		v := utils.GetenvTrim(envPrefix + f.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, f.name, err)
		}
		*f.dst = d
		c.EnvOverrides[f.name] = true
	}

	if v := utils.GetenvTrim(envPrefix + "PURCHASE_RATE"); v != "" {
		perMinute, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sPURCHASE_RATE: %w", envPrefix, err)
		}
		c.PurchaseRate = perMinute / 60
		c.EnvOverrides["PURCHASE_RATE"] = true
	}
	return nil
}

// ReceiptFile returns the receipt path, defaulting into the data directory.
func (c *Config) ReceiptFile() string {
	if c.ReceiptPath != "" {
		return c.ReceiptPath
	}
	return filepath.Join(c.DataDir, DefaultReceiptFile)
}

// HasSink reports whether the named analytics sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.AnalyticsSinks {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data directory is required")
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}

	switch c.StoreBackend {
	case StoreSQLite, StoreFile, StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis store requires %sREDIS_ADDR", envPrefix)
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("invalid redis db %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	switch c.Storefront {
	case StorefrontSandbox:
	case StorefrontStripe:
		if c.StripeKey == "" || c.StripeCustomer == "" {
			return fmt.Errorf("stripe storefront requires %sSTRIPE_KEY and %sSTRIPE_CUSTOMER", envPrefix, envPrefix)
		}
	default:
		return fmt.Errorf("unknown storefront %q", c.Storefront)
	}

	for _, sink := range c.AnalyticsSinks {
		switch strings.ToLower(sink) {
		case SinkLog, SinkMetrics:
		case SinkKafka:
			if len(c.KafkaBrokers) == 0 {
				return fmt.Errorf("kafka analytics sink requires %sKAFKA_BROKERS", envPrefix)
			}
		default:
			return fmt.Errorf("unknown analytics sink %q", sink)
		}
	}

	if c.JobConcurrency <= 0 {
		return fmt.Errorf("job concurrency must be positive, got %d", c.JobConcurrency)
	}
	if c.ValidationTimeout < time.Second {
		return fmt.Errorf("validation timeout must be at least 1 second")
	}
	if c.PurchaseRate <= 0 || c.PurchaseBurst <= 0 {
		return fmt.Errorf("purchase rate and burst must be positive")
	}
	if c.PurchaseTimeout < time.Second {
		return fmt.Errorf("purchase timeout must be at least 1 second")
	}
	if _, err := utils.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return err
	}
	if c.VerifySchedule != "" {
		if _, err := cron.ParseStandard(c.VerifySchedule); err != nil {
			return fmt.Errorf("invalid verify schedule %q: %w", c.VerifySchedule, err)
		}
	}
	return nil
}
