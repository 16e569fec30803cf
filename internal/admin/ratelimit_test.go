package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsReads(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()
	handler := rl.Wrap(okHandler())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strategies/1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddleware_LimitsExecute(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()
	handler := rl.Wrap(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategies/1/execute", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d within burst", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strategies/1/execute", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Reads use a separate limiter.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strategies/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()
	handler := rl.Wrap(okHandler())

	post := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/strategies/2/execute", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	post("192.0.2.1")
	post("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, post("192.0.2.1"))
	assert.Equal(t, http.StatusOK, post("192.0.2.2"))
}

func TestRateLimitMiddleware_EvictsIdleLimiters(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }

	rl.Wrap(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, 1, rl.LimiterCount())

	now = now.Add(staleLimiterTTL + time.Second)
	rl.evictStale()
	assert.Equal(t, 0, rl.LimiterCount())
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "60", retryAfter(rate.Limit(1.0/60)))
	assert.Equal(t, "1", retryAfter(5))
	assert.Equal(t, "1", retryAfter(rate.Inf))
	assert.Equal(t, "1", retryAfter(0))
}
