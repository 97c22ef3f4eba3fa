package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RealIP returns the client address, trusting X-Real-IP and then the first
// hop of X-Forwarded-For from a reverse proxy before falling back to
// RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bucket holds up to capacity tokens and refills at rate tokens per second.
type bucket struct {
	tokens   float64
	capacity float64
	rate     float64
	last     time.Time
}

func (b *bucket) refill(now time.Time) {
	b.tokens = math.Min(b.capacity, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
}

// RateLimiter is an in-memory token bucket per key. A key may spend limit
// requests at once and regains them evenly over window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// take spends one token for key. When none is left it reports how long
// until the next one.
func (rl *RateLimiter) take(key string, limit int, window time.Duration) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			tokens:   float64(limit),
			capacity: float64(limit),
			rate:     float64(limit) / window.Seconds(),
			last:     now,
		}
		rl.buckets[key] = b
	}
	b.refill(now)

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// Cleanup forgets keys whose bucket has refilled completely.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.refill(now)
		if b.tokens >= b.capacity {
			delete(rl.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimit rejects requests over the per-key budget with a JSON 429 and a
// Retry-After header in whole seconds.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.take(keyFunc(r), limit, window)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests, try again shortly"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
