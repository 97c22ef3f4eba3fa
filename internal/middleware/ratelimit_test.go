package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func allowed(rl *RateLimiter, key string, limit int, window time.Duration) bool {
	ok, _ := rl.take(key, limit, window)
	return ok
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		if !allowed(rl, "key", 5, time.Minute) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if allowed(rl, "key", 5, time.Minute) {
		t.Error("6th request should be denied")
	}
	if !allowed(rl, "other", 5, time.Minute) {
		t.Error("keys must be limited independently")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter()
	now, advance := fakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	rl.now = now

	for i := 0; i < 3; i++ {
		allowed(rl, "key", 3, time.Minute)
	}
	if allowed(rl, "key", 3, time.Minute) {
		t.Error("should be blocked within window")
	}

	// One token comes back every 20s.
	advance(10 * time.Second)
	if allowed(rl, "key", 3, time.Minute) {
		t.Error("should still be blocked before a token refills")
	}
	advance(11 * time.Second)
	if !allowed(rl, "key", 3, time.Minute) {
		t.Error("should be allowed once a token refills")
	}
	if allowed(rl, "key", 3, time.Minute) {
		t.Error("only one token should have refilled")
	}

	advance(time.Hour)
	for i := 0; i < 3; i++ {
		if !allowed(rl, "key", 3, time.Minute) {
			t.Fatalf("request %d after idle hour should be allowed", i+1)
		}
	}
	if allowed(rl, "key", 3, time.Minute) {
		t.Error("refill must not exceed the limit")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	now, advance := fakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	rl.now = now

	allowed(rl, "expired", 5, time.Second)
	advance(2 * time.Second)
	allowed(rl, "active", 5, time.Minute)

	rl.Cleanup()

	if rl.Len() != 1 {
		t.Fatalf("entries = %d, want 1", rl.Len())
	}
	if _, ok := rl.buckets["active"]; !ok {
		t.Error("active entry should still exist")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter()
	now, _ := fakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	rl.now = now
	keyFunc := func(r *http.Request) string { return "test" }

	handler := RateLimit(rl, keyFunc, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/assistant/generate", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/generate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"real ip header", map[string]string{"X-Real-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1"}, "3.3.3.3:1", "2.2.2.2"},
		{"remote addr", nil, "3.3.3.3:4567", "3.3.3.3"},
		{"remote without port", nil, "3.3.3.3", "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := RealIP(r); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}
