package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	// Rate is the sustained purchases per second allowed per client.
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	// TrustedProxies are the peers whose forwarded headers identify the client.
	// Empty means every request is keyed on its socket address.
	TrustedProxies  []*net.IPNet
}

// DefaultRateLimitConfig allows 6 purchase attempts per minute per client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(6.0 / 60.0),
		Burst:           3,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	config  RateLimitConfig
	metrics *Metrics

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(config RateLimitConfig, metrics *Metrics) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.Rate <= 0 {
		config.Rate = defaults.Rate
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	rl := &RateLimiter{
		config:   config,
		metrics:  metrics,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Middleware(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.limiterFor(utils.ClientIP(r, rl.config.TrustedProxies)).Allow() {
				rl.metrics.recordRateLimited(name)
				retryAfter := int(math.Ceil(1 / float64(rl.config.Rate)))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeErrorResponse(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > rl.config.IdleTTL {
			delete(rl.limiters, key)
		}
	}
}
