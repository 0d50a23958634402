package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, window)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.1.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.1.1.1") {
		t.Error("4th request should be rejected")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("other sources have their own window")
	}
}

func TestRateLimiter_SlidingWindowWeightsPreviousWindow(t *testing.T) {
	rl, clock := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		rl.Allow("ip")
	}

	// Half of the previous window still overlaps: estimate starts at 5.
	clock.Advance(90 * time.Second)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("ip") {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("expected 5 requests allowed in the overlapping window, got %d", allowed)
	}
}

func TestRateLimiter_ResetsAfterTwoWindows(t *testing.T) {
	rl, clock := newTestLimiter(2, time.Minute)

	rl.Allow("ip")
	rl.Allow("ip")
	if rl.Allow("ip") {
		t.Fatal("limit should be reached")
	}

	clock.Advance(2 * time.Minute)
	if !rl.Allow("ip") || !rl.Allow("ip") {
		t.Error("a full idle window should clear the estimate")
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl, clock := newTestLimiter(10, time.Minute)

	rl.Allow("old")
	clock.Advance(90 * time.Second)
	rl.Allow("recent")
	clock.Advance(60 * time.Second)

	rl.Cleanup()

	if _, ok := rl.requests["old"]; ok {
		t.Error("expired entry should have been removed")
	}
	if _, ok := rl.requests["recent"]; !ok {
		t.Error("entry still inside the sliding window should remain")
	}
}

func TestRateLimiter_CleanupCounterReset(t *testing.T) {
	rl, _ := newTestLimiter(10, time.Minute)

	for i := 0; i < rl.cleanupEvery*15; i++ {
		rl.Allow("192.168.1.1")
	}

	if rl.requestCount > rl.cleanupEvery*10 {
		t.Errorf("counter should be reset, but is %d", rl.requestCount)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	rejected := 0
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), func(w http.ResponseWriter, _ *http.Request) {
		rejected++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes %v", codes)
	}
	if rejected != 1 {
		t.Errorf("expected reject handler to run once, ran %d times", rejected)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		xff        string
		remoteAddr string
		want       string
	}{
		{"203.0.113.5, 10.0.0.1", "10.0.0.1:1234", "203.0.113.5"},
		{"", "192.0.2.1:4321", "192.0.2.1"},
		{"", "192.0.2.9", "192.0.2.9"},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
