// Package resilience provides circuit breaker protection for calls to
// external backends.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/coderag/coderag/pkg/observability"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before tripping
	FailureThreshold int
	// ResetTimeout is the time the breaker stays open before probing again
	ResetTimeout time.Duration
	// MaxRequestsHalfOpen is the number of requests allowed while half-open
	MaxRequestsHalfOpen int
	// Interval is the cyclic period for clearing counts while closed
	Interval time.Duration
	// IsSuccessful decides whether an error counts as a failure for trip
	// accounting. Nil means any non-nil error is a failure. Expected errors
	// such as a key miss must not trip the breaker: they prove the backend
	// is answering.
	IsSuccessful func(err error) bool
}

// DefaultCircuitBreakerConfig returns the configuration used for the cache
// backend breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		MaxRequestsHalfOpen: 5,
		Interval:            60 * time.Second,
	}
}

// CircuitBreaker wraps gobreaker with project logging and metrics
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(
	name string,
	config CircuitBreakerConfig,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *CircuitBreaker {
	if logger == nil {
		logger = observability.NewLogger("resilience")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.MaxRequestsHalfOpen <= 0 {
		config.MaxRequestsHalfOpen = 5
	}

	cb := &CircuitBreaker{
		name:    name,
		logger:  logger,
		metrics: metrics,
	}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  uint32(config.MaxRequestsHalfOpen),
		Interval:     config.Interval,
		Timeout:      config.ResetTimeout,
		IsSuccessful: config.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			metrics.IncrementCounterWithLabels("circuit_breaker.state_change", 1, map[string]string{
				"breaker": name,
				"to":      to.String(),
			})
		},
	})

	return cb
}

// Execute runs fn under circuit breaker protection. When the breaker is
// open, fn is not invoked and gobreaker.ErrOpenState is returned.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.breaker.Execute(fn)
}

// State returns the current breaker state name for health reporting
func (c *CircuitBreaker) State() string {
	return c.breaker.State().String()
}

// IsOpen reports whether the breaker is currently rejecting requests
func (c *CircuitBreaker) IsOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}
