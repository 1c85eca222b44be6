package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coderag/coderag/pkg/observability"
	"github.com/coderag/coderag/pkg/resilience"
	"github.com/coderag/coderag/pkg/retry"
)

// ErrNotFound is returned when a key is not found in the backend.
var ErrNotFound = errors.New("cache: key not found")

// KVEntry is one key/value pair for pipelined batch writes.
type KVEntry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// ResilientClient wraps a Redis client with circuit breaker and retry logic.
// Transient failures (timeouts, refused connections) are retried with capped
// exponential backoff; key misses and cancelled contexts are never retried.
type ResilientClient struct {
	client         *redis.Client
	circuitBreaker *resilience.CircuitBreaker
	retryPolicy    retry.Policy
	logger         observability.Logger
}

// NewResilientClient creates a resilient Redis client with the default
// breaker and retry configuration.
func NewResilientClient(client *redis.Client, logger observability.Logger, metrics observability.MetricsClient) *ResilientClient {
	if logger == nil {
		logger = observability.NewLogger("cache.redis")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}

	breakerConfig := resilience.DefaultCircuitBreakerConfig()
	// A key miss is a successful round trip: the backend answered. Only real
	// failures may accumulate toward tripping the breaker.
	breakerConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrNotFound)
	}

	return &ResilientClient{
		client:         client,
		circuitBreaker: resilience.NewCircuitBreaker("rag_cache", breakerConfig, logger, metrics),
		retryPolicy:    retry.NewExponentialBackoff(retry.DefaultConfig()),
		logger:         logger,
	}
}

// classify wraps non-transient errors so the retry policy stops immediately.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return retry.Permanent(ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}
	return err
}

func (r *ResilientClient) execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := r.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, r.retryPolicy.Execute(ctx, func(ctx context.Context) error {
			return classify(op(ctx))
		})
	})
	return err
}

// GetBytes retrieves raw bytes for a key. Returns ErrNotFound on key miss.
func (r *ResilientClient) GetBytes(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := r.execute(ctx, func(ctx context.Context) error {
		v, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// SetEx stores raw bytes under a key with an expiry.
func (r *ResilientClient) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.execute(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, ttl).Err()
	})
}

// Del deletes keys.
func (r *ResilientClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.execute(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, keys...).Err()
	})
}

// GetInt reads an integer counter. Returns ErrNotFound when absent.
func (r *ResilientClient) GetInt(ctx context.Context, key string) (int64, error) {
	var val int64
	err := r.execute(ctx, func(ctx context.Context) error {
		v, err := r.client.Get(ctx, key).Int64()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// IncrWithExpire increments a counter and refreshes its expiry in one
// pipelined round trip.
func (r *ResilientClient) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) error {
	return r.execute(ctx, func(ctx context.Context) error {
		pipe := r.client.Pipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// BatchSetEx stores multiple entries in a single pipelined round trip.
// A failure on one entry does not abort the rest; the first error is
// returned after the pipeline completes.
func (r *ResilientClient) BatchSetEx(ctx context.Context, entries []KVEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.execute(ctx, func(ctx context.Context) error {
		pipe := r.client.Pipeline()
		for _, e := range entries {
			pipe.Set(ctx, e.Key, e.Value, e.TTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// ScanKeys collects all keys matching a pattern using SCAN, which does not
// block the server the way KEYS would.
func (r *ResilientClient) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := r.execute(ctx, func(ctx context.Context) error {
		keys = keys[:0]
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// TTL returns the remaining time-to-live for a key.
func (r *ResilientClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := r.execute(ctx, func(ctx context.Context) error {
		v, err := r.client.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		ttl = v
		return nil
	})
	return ttl, err
}

// Ping probes backend health without retry, so degraded-mode recovery
// checks stay cheap.
func (r *ResilientClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Raw exposes the underlying client for auxiliary consumers such as the
// cache warmer, which use commands outside the core key-value contract.
func (r *ResilientClient) Raw() *redis.Client {
	return r.client
}

// BreakerState returns the circuit breaker state for health reporting.
func (r *ResilientClient) BreakerState() string {
	return r.circuitBreaker.State()
}

// Close closes the underlying connection pool.
func (r *ResilientClient) Close() error {
	return r.client.Close()
}
