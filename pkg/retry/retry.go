// Package retry provides retry policies for transient backend failures.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy defines the retry policy interface
type Policy interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config contains retry configuration
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
	MaxRetries      int
}

// DefaultConfig returns the retry configuration used for cache backend
// operations: capped exponential backoff starting at 100ms with multiplier 2,
// bounded at 3 attempts.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      3,
	}
}

// ExponentialBackoff implements Policy using capped exponential backoff
type ExponentialBackoff struct {
	config Config
}

// NewExponentialBackoff creates a new exponential backoff retry policy
func NewExponentialBackoff(config Config) Policy {
	if config.InitialInterval <= 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 5 * time.Second
	}
	if config.MaxElapsedTime <= 0 {
		config.MaxElapsedTime = 30 * time.Second
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	return &ExponentialBackoff{config: config}
}

// Execute runs fn, retrying transient failures with exponential backoff.
// Wrap an error with Permanent to stop retrying immediately.
func (e *ExponentialBackoff) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.InitialInterval
	bo.MaxInterval = e.config.MaxInterval
	bo.MaxElapsedTime = e.config.MaxElapsedTime
	bo.Multiplier = e.config.Multiplier

	var policy backoff.BackOff = backoff.WithContext(bo, ctx)
	if e.config.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(e.config.MaxRetries))
	}

	return backoff.Retry(func() error {
		return fn(ctx)
	}, policy)
}

// Permanent marks an error as non-retryable. Use it for errors that no
// amount of retrying can fix, such as a malformed key or a key miss.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
