package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/quorum/internal/backend"
	"github.com/aristath/quorum/internal/config"
)

// CircuitBreakerRegistry manages per-provider circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
// A nil logger discards state-change logs.
func NewCircuitBreakerRegistry(logger *zap.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the circuit breaker for the given provider.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and our own call timeout are not provider faults
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[provider] = cb
	return cb
}

// newBackoff builds the retry policy, filling unset fields from DefaultConfig.
func newBackoff(ctx context.Context, cfg config.RetryConfig) backoff.BackOffContext {
	def := config.DefaultConfig().Retry

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = orDefault(cfg.InitialInterval, def.InitialInterval).Std()
	policy.MaxInterval = orDefault(cfg.MaxInterval, def.MaxInterval).Std()
	policy.MaxElapsedTime = cfg.MaxElapsedTime.Std()
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.RandomizationFactor > 0 {
		policy.RandomizationFactor = cfg.RandomizationFactor
	}
	policy.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.MaxRetries)), ctx)
}

func orDefault(v, def config.Duration) config.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// sendWithRetry sends a message to the backend with exponential backoff retry and circuit breaker protection.
func sendWithRetry(ctx context.Context, b backend.Backend, msg backend.Message, cb *gobreaker.CircuitBreaker, retryCfg config.RetryConfig) (backend.Response, error) {
	var resp backend.Response

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return b.Send(ctx, msg)
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}

		resp = result.(backend.Response)
		return nil
	}

	err := backoff.Retry(operation, newBackoff(ctx, retryCfg))
	return resp, err
}
