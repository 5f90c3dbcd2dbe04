package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"credrep/internal/ratelimit/metrics"
	"credrep/internal/ratelimit/models"
	"credrep/internal/ratelimit/store/bucket"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// BucketStore is a sliding-window counter.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderStatus    = "X-RateLimit-Status"
)

type Middleware struct {
	store    BucketStore
	fallback BucketStore
	breaker  *storeBreaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// WithLimit overrides the budget for one class.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.RequestsPerWindow > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

// WithCircuitBreaker sets how many primary failures open the circuit and how
// many successes close it again.
func WithCircuitBreaker(failures, successes int) Option {
	return func(m *Middleware) {
		m.breaker = newStoreBreaker(failures, successes)
	}
}

// DefaultLimits are per client IP per minute.
func DefaultLimits() map[models.EndpointClass]models.Limit {
	return map[models.EndpointClass]models.Limit{
		models.ClassRead:  {RequestsPerWindow: 300, Window: time.Minute},
		models.ClassWrite: {RequestsPerWindow: 60, Window: time.Minute},
	}
}

// New builds the middleware over store. Checks fall back to an in-memory
// window while the store keeps failing.
func New(store BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		store:    store,
		fallback: bucket.NewInMemoryBucketStore(),
		breaker:  newStoreBreaker(5, 3),
		limits:   DefaultLimits(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits requests per client IP for class.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			result, degraded := m.check(ctx, class)
			if result == nil {
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set(HeaderStatus, "degraded")
			}
			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.IncrementRejected(string(class))
				}
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByMethod applies the read budget to GET and HEAD and the write budget to
// everything else.
func (m *Middleware) ByMethod() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		read := m.RateLimit(models.ClassRead)(next)
		write := m.RateLimit(models.ClassWrite)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				read.ServeHTTP(w, r)
				return
			}
			write.ServeHTTP(w, r)
		})
	}
}

// check returns nil when no decision could be made; the request then passes.
func (m *Middleware) check(ctx context.Context, class models.EndpointClass) (*models.RateLimitResult, bool) {
	limit, ok := m.limits[class]
	if !ok {
		return nil, false
	}
	ip := requestcontext.ClientIP(ctx)
	key := models.NewIPRateLimitKey(ip, class)

	result, err := m.store.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IncrementStoreFailures()
		}
		open := m.breaker.failure()
		m.setCircuit(open)
		m.logger.ErrorContext(ctx, "rate limit store failed",
			"error", err,
			"class", class,
			"circuit_open", open,
		)
		if !open {
			return nil, false
		}
		return m.fromFallback(ctx, key, limit)
	}
	if closed := m.breaker.success(); !closed {
		return m.fromFallback(ctx, key, limit)
	}
	m.setCircuit(false)
	return result, false
}

func (m *Middleware) fromFallback(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, bool) {
	result, err := m.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	if err != nil {
		return nil, true
	}
	return result, true
}

func (m *Middleware) setCircuit(open bool) {
	if m.metrics != nil {
		m.metrics.SetCircuitOpen(open)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set(HeaderLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
