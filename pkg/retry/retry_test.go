package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		Multiplier:      2.0,
		MaxRetries:      3,
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	policy := NewExponentialBackoff(fastConfig())

	attempts := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	policy := NewExponentialBackoff(fastConfig())

	attempts := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("still failing")
	})

	require.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, attempts)
}

func TestExecutePermanentStopsImmediately(t *testing.T) {
	policy := NewExponentialBackoff(fastConfig())
	sentinel := errors.New("key not found")

	attempts := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(sentinel)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	policy := NewExponentialBackoff(Config{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  time.Minute,
		Multiplier:      2.0,
		MaxRetries:      100,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
