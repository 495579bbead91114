package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	jobSubmitPath = "/query/aggregate/jobs"

	// A job submission enqueues a background execution that keeps a database
	// connection busy after the response is written, so it draws more tokens
	// than a synchronous query.
	defaultJobCost = 5
)

// RateLimitConfig configures a global token bucket limiter over the query
// endpoints. JobCost weights background job submissions; zero applies the
// default.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	JobCost int
}

// RateLimitMiddleware enforces a global rate limit. Rejected requests get a
// 429 with a Retry-After computed from the bucket's refill rate.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	jobCost := cfg.JobCost
	if jobCost <= 0 {
		jobCost = defaultJobCost
	}
	bucket := newTokenBucket(cfg.RPS, cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cost := 1
			if r.Method == http.MethodPost && r.URL.Path == jobSubmitPath {
				cost = jobCost
			}

			wait, ok := bucket.take(cost)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

type tokenBucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newTokenBucket(rps float64, burst int) *tokenBucket {
	if rps <= 0 || burst <= 0 {
		return &tokenBucket{last: time.Now()}
	}
	return &tokenBucket{
		rate:   rps,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// take draws cost tokens. When the bucket is short it reports how long until
// enough tokens accrue. Costs above the burst size are clamped so oversized
// requests stay admissible.
func (b *tokenBucket) take(cost int) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rate <= 0 || b.burst <= 0 {
		return 0, true
	}

	needed := math.Min(float64(cost), b.burst)

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.burst, b.tokens+elapsed*b.rate)
		b.last = now
	}

	if b.tokens < needed {
		deficit := needed - b.tokens
		return time.Duration(deficit / b.rate * float64(time.Second)), false
	}

	b.tokens -= needed
	return 0, true
}
