package api

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-key token bucket. The key is the user ID only, not
// user:session, so clients cannot bypass throttling by rotating session IDs.
// Idle buckets expire from the cache.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	limit   rate.Limit
	burst   int
}

// NewRateLimiter allows limit requests per window with bursts up to limit.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		buckets: cache.New(2*window, window),
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
	}
}

// Allow reports whether a request for key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	var lim *rate.Limiter
	if v, ok := r.buckets.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(r.limit, r.burst)
	}
	r.buckets.SetDefault(key, lim)
	r.mu.Unlock()

	return lim.Allow()
}
