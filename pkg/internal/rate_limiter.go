package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is an in-memory sliding-window counter keyed by request source.
// The count for the current window is blended with the previous window,
// weighted by how much of the previous window still overlaps.
type RateLimiter struct {
	mu            sync.Mutex
	requests      map[string]*window
	limit         int
	window        time.Duration
	now           func() time.Time
	requestCount  int // counter for deterministic cleanup
	cleanupEvery  int // cleanup every N requests (default: 100)
	cleanupAtSize int // cleanup when map size exceeds this (default: 200)
}

type window struct {
	start    time.Time
	current  int
	previous int
}

// NewRateLimiter creates a limiter allowing limit requests per window per key.
func NewRateLimiter(limit int, size time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:      make(map[string]*window),
		limit:         limit,
		window:        size,
		now:           time.Now,
		cleanupEvery:  100,
		cleanupAtSize: 200,
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	rl.requestCount++
	if rl.requestCount%rl.cleanupEvery == 0 || len(rl.requests) > rl.cleanupAtSize {
		rl.cleanupExpired(now)
		if rl.requestCount >= rl.cleanupEvery*10 {
			rl.requestCount = 0
		}
	}

	w, ok := rl.requests[key]
	if !ok {
		rl.requests[key] = &window{start: now, current: 1}
		return true
	}
	w.roll(now, rl.window)

	elapsed := now.Sub(w.start)
	overlap := 1 - float64(elapsed)/float64(rl.window)
	estimated := float64(w.previous)*overlap + float64(w.current)
	if estimated >= float64(rl.limit) {
		return false
	}
	w.current++
	return true
}

// roll advances the window so that now falls inside [start, start+size).
func (w *window) roll(now time.Time, size time.Duration) {
	elapsed := now.Sub(w.start)
	if elapsed < size {
		return
	}
	if elapsed < 2*size {
		w.previous = w.current
	} else {
		w.previous = 0
	}
	w.current = 0
	w.start = w.start.Add(elapsed.Truncate(size))
}

// cleanupExpired drops keys idle for two full windows; their estimate is zero.
func (rl *RateLimiter) cleanupExpired(now time.Time) {
	for key, w := range rl.requests {
		if now.Sub(w.start) >= 2*rl.window {
			delete(rl.requests, key)
		}
	}
}

// Cleanup removes all expired entries from the rate limiter.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupExpired(rl.now())
}

// Middleware wraps next with per-client limiting. reject writes the response
// for throttled requests; nil uses a plain 429.
func (rl *RateLimiter) Middleware(next http.Handler, reject http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			if reject != nil {
				reject(w, r)
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (set by proxies/load balancers),
// then falls back to RemoteAddr without its port.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
