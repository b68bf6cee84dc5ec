// Package middleware holds HTTP middleware shared by the API server.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter is a per-client token bucket limited to requestsPerMin.
// A limit of zero or less disables limiting.
type RateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int
	clock          clock.Clock
	cleanupTicker  *clock.Ticker
	stopCh         chan struct{}
	stopOnce       sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

const (
	cleanupInterval = 5 * time.Minute
	staleAfter      = 10 * time.Minute
)

// NewRateLimiter creates a new rate limiter with the specified requests per minute
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerMin, clock.New())
}

// NewRateLimiterWithClock is NewRateLimiter with an injected clock.
func NewRateLimiterWithClock(requestsPerMin int, clk clock.Clock) *RateLimiter {
	rl := &RateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
		clock:          clk,
		cleanupTicker:  clk.Ticker(cleanupInterval),
		stopCh:         make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Middleware returns an HTTP middleware that enforces rate limiting
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	if rl == nil || rl.requestsPerMin <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next(w, r)
	}
}

// clientKey strips the port so reconnects from one host share a bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allow checks if a request from the given client should be allowed
func (rl *RateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	b, exists := rl.clients[client]

	if !exists {
		// New client, create bucket with full tokens
		rl.clients[client] = &bucket{
			tokens:     rl.requestsPerMin - 1,
			lastRefill: now,
			lastSeen:   now,
		}
		return true
	}
	b.lastSeen = now

	// Refill tokens based on time elapsed
	elapsed := now.Sub(b.lastRefill)
	tokensToAdd := int(elapsed.Minutes() * float64(rl.requestsPerMin))

	if tokensToAdd > 0 {
		b.tokens = min(rl.requestsPerMin, b.tokens+tokensToAdd)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.stopCh:
			return
		case <-rl.cleanupTicker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for client, b := range rl.clients {
		if now.Sub(b.lastSeen) > staleAfter {
			delete(rl.clients, client)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCh)
	})
}
