package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/juju/ratelimit"
)

// RateLimiter throttles requests per client with a token bucket.
// Clients are identified by the authenticated client id, falling back
// to the remote address. Buckets for idle clients are dropped after
// the idle window.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*clientBucket
	rate     float64
	capacity int64
}

type clientBucket struct {
	bucket   *ratelimit.Bucket
	lastSeen time.Time
}

const bucketIdleWindow = 10 * time.Minute

// NewRateLimiter creates a limiter refilling at ratePerSec with the
// given burst capacity.
func NewRateLimiter(ratePerSec float64, capacity int64) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*clientBucket),
		rate:     ratePerSec,
		capacity: capacity,
	}
}

// Handler wraps next with per-client throttling. Exhausted clients
// get a 429 with a Retry-After hint.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := GetClientID(r.Context())
		if client == "" {
			client = r.RemoteAddr
		}

		if !rl.take(client) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) take(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cb, ok := rl.buckets[client]
	if !ok {
		cb = &clientBucket{bucket: ratelimit.NewBucketWithRate(rl.rate, rl.capacity)}
		rl.buckets[client] = cb
	}
	cb.lastSeen = now

	// Opportunistic cleanup keeps the map bounded without a sweeper
	// goroutine.
	if len(rl.buckets) > 1024 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) > bucketIdleWindow {
				delete(rl.buckets, k)
			}
		}
	}

	return cb.bucket.TakeAvailable(1) == 1
}
