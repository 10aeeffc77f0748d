package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yield-scanner/internal/types"
)

func TestRateLimiter_TierLimits(t *testing.T) {
	rl := NewRateLimiter(1, 100)

	free := rl.getLimiter("free-user", types.TierFree)
	paid := rl.getLimiter("paid-user", types.TierPaid)

	assert.Equal(t, float64(1), float64(free.Limit()))
	assert.Equal(t, float64(100), float64(paid.Limit()))
}

func TestRateLimiter_ReusesLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(1, 100)

	first := rl.getLimiter("user-1", types.TierFree)
	// Tier on subsequent calls is irrelevant; the first limiter sticks.
	second := rl.getLimiter("user-1", types.TierPaid)

	assert.Same(t, first, second)
}

func TestRateLimitMiddleware_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 100)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	// Burst size is 10; the 11th immediate request must be rejected.
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("GET", "/api/users/u/yield", nil)
		req.Header.Set("X-User-ID", "burst-user")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
		if i < 10 {
			require.Equal(t, http.StatusOK, rec.Code, "request %d within burst", i)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestRateLimitMiddleware_KeyedByUser(t *testing.T) {
	rl := NewRateLimiter(1, 100)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust one user's burst.
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User-ID", "user-a")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// A different user is unaffected.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "user-b")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
