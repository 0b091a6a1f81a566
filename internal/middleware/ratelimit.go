// Package middleware provides HTTP middleware for the router
package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pitext/router/internal/errors"
	"github.com/pitext/router/internal/httputil"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/metrics"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-client rate limiting keyed by remote IP.
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idle     time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. Limiters idle for longer than
// idle are dropped by Cleanup.
func NewRateLimiter(requestsPerSecond float64, burst int, idle time.Duration, logger *logging.Logger, m *metrics.Metrics) *RateLimiter {
	if burst <= 0 {
		burst = int(requestsPerSecond) + 1
	}
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     idle,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// getLimiter returns the limiter for key, creating it on first use.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = rl.now()

	return cl.limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		limiter := rl.getLimiter(key)

		if !limiter.Allow() {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			if rl.metrics != nil {
				rl.metrics.RecordRateLimited()
			}

			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
			httputil.WriteServiceError(w, errors.RateLimitExceeded(float64(rl.rate), "1s"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Cleanup removes limiters that have not been used within the idle window.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
				rl.logger.WithField("clients", rl.Len()).Debug("rate limiter cleanup")
			}
		}
	}()
}

func (rl *RateLimiter) retryAfter() int {
	if rl.rate <= 0 {
		return 1
	}
	secs := int(1 / float64(rl.rate))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
