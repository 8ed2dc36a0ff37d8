package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Allower decides whether one more request for key fits in its window.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter implements a simple in-memory rate limiter using a sliding window
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	filtered := prune(rl.requests[key], now.Add(-rl.window))

	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false, nil
	}

	rl.requests[key] = append(filtered, now)
	return true, nil
}

func prune(reqs []time.Time, cutoff time.Time) []time.Time {
	filtered := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// cleanup periodically removes old entries to prevent memory leaks
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		cutoff := rl.now().Add(-rl.window)
		for key, reqs := range rl.requests {
			if filtered := prune(reqs, cutoff); len(filtered) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = filtered
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects requests over the limit with 429. A limiter error lets the request through.
func RateLimitMiddleware(limiter Allower, keyFunc func(*http.Request) string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable; allowing request", "error", err)
				ok = true
			}
			if !ok {
				respondWithError(w, http.StatusTooManyRequests, "Trop de requêtes. Réessayez plus tard.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey extracts IP address from request for rate limiting
func GetIPKey(r *http.Request) string {
	// chi's RealIP has already folded X-Forwarded-For into RemoteAddr.
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + strings.TrimSpace(host)
}

// GetPhoneKey creates a rate limit key from phone number
func GetPhoneKey(phone string) string {
	return "phone:" + phone
}
