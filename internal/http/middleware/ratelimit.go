package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastTime time.Time
}

// NewRateLimiter allows perSecond requests per key with bursts up to burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastTime = now
	return b.limiter.AllowN(now, 1)
}

// Evict drops buckets idle since before cutoff.
func (rl *RateLimiter) Evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastTime.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// RetryAfter is the whole number of seconds until a drained bucket holds a token again.
func (rl *RateLimiter) RetryAfter() int {
	if rl.limit <= 0 || rl.limit == rate.Inf {
		return 60
	}
	return max(1, int(math.Ceil(1/float64(rl.limit))))
}

// KeyFunc picks the bucket for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys by X-Real-Ip (set by chi's RealIP) or the remote address.
func ClientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// RateLimit rejects requests over the limit with 429 and a Retry-After hint. Buckets idle for ten
// minutes are evicted lazily on the request path.
func RateLimit(limiter *RateLimiter, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	var (
		mu        sync.Mutex
		lastSweep time.Time
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := limiter.now()
			mu.Lock()
			if now.Sub(lastSweep) > 5*time.Minute {
				lastSweep = now
				mu.Unlock()
				limiter.Evict(now.Add(-10 * time.Minute))
			} else {
				mu.Unlock()
			}
			if !limiter.Allow(key(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
