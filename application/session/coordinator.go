package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/ops"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
	"github.com/alishams21/lineagentic-kg/pkg/observability"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID stamps a correlation id onto the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFrom extracts the correlation id, empty when absent.
func CorrelationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// Config tunes the per-request transaction policy.
type Config struct {
	// MaxAttempts bounds retries of transient failures (store conflicts on
	// versioned-aspect heads, session loss).
	MaxAttempts int
	// BaseBackoff and MaxBackoff bound the jittered exponential backoff
	// between attempts.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RequestTimeout is applied when the caller's context has no deadline.
	RequestTimeout time.Duration
	// IdempotencyTTL bounds how long completed results are replayed for a
	// repeated idempotency key.
	IdempotencyTTL time.Duration
}

// DefaultConfig returns the stock retry policy: 5 attempts, 10-200ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseBackoff:    10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		IdempotencyTTL: 10 * time.Minute,
	}
}

type cachedResult struct {
	result    *ops.Result
	expiresAt time.Time
}

// Coordinator runs each request as one logical write transaction: it stamps
// a correlation id, enforces a deadline, dispatches the synthesized
// operation, and retries transient failures with jittered exponential
// backoff. A circuit breaker sheds load when the store is persistently
// unavailable.
type Coordinator struct {
	catalog *ops.Catalog
	config  Config
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger

	mu          sync.Mutex
	idempotency map[string]cachedResult
}

// NewCoordinator builds a coordinator over the synthesized catalog.
// metrics may be nil.
func NewCoordinator(catalog *ops.Catalog, config Config, metrics *observability.Metrics, logger *zap.Logger) *Coordinator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = DefaultConfig().IdempotencyTTL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph-store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Only availability failures count against the breaker; caller
			// mistakes and version conflicts are healthy behavior.
			return !apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable) &&
				!apperrors.IsType(err, apperrors.ErrorTypeTimeout)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Coordinator{
		catalog:     catalog,
		config:      config,
		breaker:     breaker,
		metrics:     metrics,
		logger:      logger,
		idempotency: make(map[string]cachedResult),
	}
}

// Execute dispatches a named operation under the coordinator's transaction
// policy. A non-empty idempotencyKey replays the cached result of a
// previously completed identical request instead of re-executing it.
func (c *Coordinator) Execute(ctx context.Context, opName string, req *ops.Request, idempotencyKey string) (*ops.Result, error) {
	correlationID := CorrelationIDFrom(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = WithCorrelationID(ctx, correlationID)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	if idempotencyKey != "" {
		if result, ok := c.lookupIdempotent(idempotencyKey); ok {
			c.logger.Debug("replayed idempotent result",
				zap.String("operation", opName),
				zap.String("idempotency_key", idempotencyKey),
				zap.String("correlation_id", correlationID))
			return result, nil
		}
	}

	result, err := c.executeWithRetry(ctx, opName, req, correlationID)
	if err != nil {
		if appErr := apperrors.GetAppError(err); appErr != nil && appErr.CorrelationID == "" {
			appErr.WithCorrelationID(correlationID)
		}
		return nil, err
	}

	if idempotencyKey != "" {
		c.storeIdempotent(idempotencyKey, result)
	}
	return result, nil
}

func (c *Coordinator) executeWithRetry(ctx context.Context, opName string, req *ops.Request, correlationID string) (*ops.Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.NewTimeoutError(opName).WithCause(ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
			if c.metrics != nil {
				c.metrics.RetriesTotal.WithLabelValues(opName).Inc()
			}
			c.logger.Debug("retrying operation",
				zap.String("operation", opName),
				zap.Int("attempt", attempt+1),
				zap.String("correlation_id", correlationID),
				zap.Error(lastErr))
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.catalog.Dispatch(ctx, opName, req)
		})
		if err == nil {
			return out.(*ops.Result), nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.NewStoreUnavailableError("graph store circuit open", err)
		}
		if !apperrors.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// backoff computes the jittered exponential delay before the given attempt.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.config.BaseBackoff << uint(attempt-1)
	if d > c.config.MaxBackoff {
		d = c.config.MaxBackoff
	}
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}

func (c *Coordinator) lookupIdempotent(key string) (*ops.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.idempotency[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(cached.expiresAt) {
		delete(c.idempotency, key)
		return nil, false
	}
	return cached.result, true
}

func (c *Coordinator) storeIdempotent(key string, result *ops.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency[key] = cachedResult{
		result:    result,
		expiresAt: time.Now().Add(c.config.IdempotencyTTL),
	}
}
