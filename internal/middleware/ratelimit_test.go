package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(cfg RateLimitConfig) http.Handler {
	return RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{Enabled: false})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/query/preview", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddleware_PreviewBurstExhausted(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   2,
	})

	req := httptest.NewRequest(http.MethodPost, "/query/preview", nil)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
}

func TestRateLimitMiddleware_JobSubmissionCostsMore(t *testing.T) {
	// With a burst of 10 and job cost 5, a client gets two job submissions
	// before the third is rejected, while cheap status polls of the same
	// bucket would have allowed ten.
	handler := limitedHandler(RateLimitConfig{
		Enabled: true,
		RPS:     0.001,
		Burst:   10,
		JobCost: 5,
	})

	submit := httptest.NewRequest(http.MethodPost, "/query/aggregate/jobs", nil)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, submit)
		require.Equal(t, http.StatusOK, rr.Code, "submission %d should be admitted", i+1)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, submit)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRateLimitMiddleware_StatusPollsStayCheap(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{
		Enabled: true,
		RPS:     0.001,
		Burst:   4,
		JobCost: 4,
	})

	// One job submission drains the bucket.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/query/aggregate/jobs", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	// A status poll right after is rejected, but only costs one token once
	// the bucket refills; it is not weighted like a submission.
	poll := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, poll)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRateLimitMiddleware_RetryAfterReflectsDeficit(t *testing.T) {
	handler := limitedHandler(RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   5,
		JobCost: 5,
	})

	submit := httptest.NewRequest(http.MethodPost, "/query/aggregate/jobs", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, submit)
	require.Equal(t, http.StatusOK, rr.Code)

	// The next submission needs nearly five tokens at one token per second.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, submit)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 4)
	assert.LessOrEqual(t, retryAfter, 5)
}

func TestTokenBucket_CostClampedToBurst(t *testing.T) {
	bucket := newTokenBucket(1, 3)

	// A cost above the burst size must still be admissible.
	wait, ok := bucket.take(10)
	assert.True(t, ok)
	assert.Zero(t, wait)
}
