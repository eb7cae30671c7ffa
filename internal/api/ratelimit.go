package api

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter caps requests per client IP over a sliding window. A game turn
// is one quote and one trade, so real play sits far below any sane cap; the
// limiter exists to absorb reconnect storms and runaway scripts.
type RateLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	limit  int
	window time.Duration
	stopCh chan struct{}
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		stopCh: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// prune drops timestamps that have aged out of the window
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Allow records a request for ip and reports whether it fits in the window
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	stamps := prune(rl.seen[ip], now.Add(-rl.window))
	if len(stamps) >= rl.limit {
		rl.seen[ip] = stamps
		return false
	}
	rl.seen[ip] = append(stamps, now)
	return true
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup forgets IPs with no requests left inside the window, so idle
// clients don't pin map entries forever
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for ip, stamps := range rl.seen {
		if kept := prune(stamps, cutoff); len(kept) == 0 {
			delete(rl.seen, ip)
		} else {
			rl.seen[ip] = kept
		}
	}
}

// Stop halts the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware rejects over-limit requests with 429 before they reach a handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip = r.Header.Get("X-Real-IP")
		}
		if ip == "" {
			ip = r.RemoteAddr
		}

		if !rl.Allow(ip) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
