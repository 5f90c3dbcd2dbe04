package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credrep/internal/ratelimit/models"
	"credrep/internal/ratelimit/store/bucket"
	"credrep/pkg/requestcontext"
)

type failingStore struct{ err error }

func (f *failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, f.err
}

func serve(t *testing.T, h http.Handler, method, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/v1/proofs", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestRateLimitRejectsOverBudget(t *testing.T) {
	m := New(bucket.NewInMemoryBucketStore(), nil,
		WithLimit(models.ClassWrite, models.Limit{RequestsPerWindow: 2, Window: time.Minute}))
	h := m.RateLimit(models.ClassWrite)(noContent)

	rr := serve(t, h, http.MethodPost, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "2", rr.Header().Get(HeaderLimit))
	assert.Equal(t, "1", rr.Header().Get(HeaderRemaining))

	serve(t, h, http.MethodPost, "10.0.0.1")
	rr = serve(t, h, http.MethodPost, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "rate_limit_exceeded")

	rr = serve(t, h, http.MethodPost, "10.0.0.2")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestByMethodSeparatesBudgets(t *testing.T) {
	m := New(bucket.NewInMemoryBucketStore(), nil,
		WithLimit(models.ClassWrite, models.Limit{RequestsPerWindow: 1, Window: time.Minute}),
		WithLimit(models.ClassRead, models.Limit{RequestsPerWindow: 5, Window: time.Minute}))
	h := m.ByMethod()(noContent)

	require.Equal(t, http.StatusNoContent, serve(t, h, http.MethodPost, "10.0.0.1").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(t, h, http.MethodPost, "10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, serve(t, h, http.MethodGet, "10.0.0.1").Code)
}

func TestStoreFailureFailsOpenThenFallsBack(t *testing.T) {
	m := New(&failingStore{err: errors.New("redis down")}, nil,
		WithCircuitBreaker(2, 1),
		WithLimit(models.ClassWrite, models.Limit{RequestsPerWindow: 1, Window: time.Minute}))
	h := m.RateLimit(models.ClassWrite)(noContent)

	rr := serve(t, h, http.MethodPost, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Header().Get(HeaderStatus), "below the failure threshold requests pass unchecked")

	rr = serve(t, h, http.MethodPost, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "degraded", rr.Header().Get(HeaderStatus))

	rr = serve(t, h, http.MethodPost, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.True(t, m.breaker.isOpen())
}

func TestDisabledPassesThrough(t *testing.T) {
	m := New(&failingStore{err: errors.New("unused")}, nil, WithDisabled(true))
	rr := serve(t, m.RateLimit(models.ClassWrite)(noContent), http.MethodPost, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Header().Get(HeaderLimit))
}
