package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	for _, cfg := range []RateLimitConfig{
		{Enabled: false},
		{Enabled: true, RPS: 0, Burst: 5},
		{Enabled: true, RPS: 5, Burst: 0},
	} {
		handler := RateLimitMiddleware(cfg)(okHandler())
		for i := 0; i < 10; i++ {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql", nil))
			assert.Equal(t, http.StatusOK, rr.Code)
		}
	}
}

func TestRateLimitMiddleware_BurstExceeded(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled: true,
		RPS:     0.25,
		Burst:   2,
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "4", rr.Header().Get("Retry-After"))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(100))
	assert.Equal(t, "1", retryAfter(1))
	assert.Equal(t, "2", retryAfter(0.5))
}
