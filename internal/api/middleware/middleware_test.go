package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorrelationIDGenerated(t *testing.T) {
	var seen string

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}), WithCorrelationID())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "unknown", seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDPropagated(t *testing.T) {
	handler := Apply(okHandler(), WithCorrelationID())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "client-id-42")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-id-42", rec.Header().Get("X-Correlation-ID"))
}

func TestRecoveryReturnsProblemJSON(t *testing.T) {
	handler := Apply(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	}), WithCorrelationID(), WithRecovery(testLogger()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/methods", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "unexpected error")
}

type staticCORS struct{}

func (staticCORS) GetAllowedOrigins() []string { return []string{"*"} }
func (staticCORS) GetAllowedMethods() []string { return []string{"GET", "POST"} }
func (staticCORS) GetAllowedHeaders() []string { return []string{"Content-Type"} }
func (staticCORS) GetMaxAge() int              { return 600 }

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), WithCORS(staticCORS{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/analysis", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestRateLimitRejectsWithProblem(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&Config{GlobalRPS: 1, GlobalBurst: 1, ClientRPS: 1, ClientBurst: 1})
	defer limiter.Close()

	handler := Apply(okHandler(), WithCorrelationID(), WithRateLimit(limiter, testLogger()))

	req := httptest.NewRequest(http.MethodGet, "/methods", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "application/problem+json", second.Header().Get("Content-Type"))
}

func TestRateLimitPerClientIsolation(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, ClientRPS: 1, ClientBurst: 1})
	defer limiter.Close()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	// a different client has its own bucket
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestNilRateLimiterIsNoop(t *testing.T) {
	handler := Apply(okHandler(), WithRateLimit(nil, testLogger()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
