package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderag/coderag/pkg/observability"
)

// Config configures the tiered cache.
type Config struct {
	// EmbeddingTTL is the base TTL for the embedding level.
	EmbeddingTTL time.Duration `json:"embedding_ttl" mapstructure:"embedding_ttl"`
	// RetrievalTTL is the base TTL for the retrieval level.
	RetrievalTTL time.Duration `json:"retrieval_ttl" mapstructure:"retrieval_ttl"`
	// ResponseTTL is the base TTL for the response level.
	ResponseTTL time.Duration `json:"response_ttl" mapstructure:"response_ttl"`
	// CompressionThreshold is the encoded size above which compression is
	// attempted.
	CompressionThreshold int `json:"compression_threshold" mapstructure:"compression_threshold"`
	// AdaptiveTTL enables access-frequency-based TTL extension.
	AdaptiveTTL bool `json:"adaptive_ttl" mapstructure:"adaptive_ttl"`
	// AccessWindow is the rolling window for access counters. Counters
	// expire after it, capping how long popularity boosts TTLs.
	AccessWindow time.Duration `json:"access_window" mapstructure:"access_window"`
	// RecoveryCheckPeriod is how often a disabled cache probes the backend.
	RecoveryCheckPeriod time.Duration `json:"recovery_check_period" mapstructure:"recovery_check_period"`
}

// DefaultConfig returns production defaults: 1h/6h/24h base TTLs per level,
// 512-byte compression threshold, adaptive TTL over a daily access window.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingTTL:         time.Hour,
		RetrievalTTL:         6 * time.Hour,
		ResponseTTL:          24 * time.Hour,
		CompressionThreshold: DefaultCompressionThreshold,
		AdaptiveTTL:          true,
		AccessWindow:         24 * time.Hour,
		RecoveryCheckPeriod:  30 * time.Second,
	}
}

// EmbeddingEntry is one query/vector pair for batch caching.
type EmbeddingEntry struct {
	Query  string
	Vector []float32
}

// TieredCache is a three-level cache (embedding, retrieval, response) over a
// shared Redis backend. Levels are isolated by key prefix; clearing one never
// disturbs another.
//
// The cache is an optional accelerator, never a dependency: when the backend
// becomes unreachable the whole layer degrades to disabled (every get
// reports a miss and every put is a no-op) and a background probe restores
// it once the backend recovers. No cache failure ever reaches the caller.
//
// TieredCache is safe for concurrent use by multiple goroutines. Concurrent
// writers of the same key race benignly: last writer wins, and both would be
// writing equivalent data.
type TieredCache struct {
	client  *ResilientClient
	codec   Codec
	comp    *Compressor
	config  *Config
	logger  observability.Logger
	metrics observability.MetricsClient
	stats   *Statistics

	disabled atomic.Bool

	probeStop chan struct{}
	closeOnce sync.Once
}

// New creates a tiered cache over the given resilient client. A nil config
// selects DefaultConfig; a nil codec selects msgpack.
func New(client *ResilientClient, config *Config, codec Codec, logger observability.Logger, metrics observability.MetricsClient) (*TieredCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.AccessWindow <= 0 {
		config.AccessWindow = 24 * time.Hour
	}
	if config.RecoveryCheckPeriod <= 0 {
		config.RecoveryCheckPeriod = 30 * time.Second
	}
	if codec == nil {
		codec = NewMsgpackCodec()
	}
	if logger == nil {
		logger = observability.NewLogger("cache.tiered")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}

	comp, err := NewCompressor(config.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	c := &TieredCache{
		client:    client,
		codec:     codec,
		comp:      comp,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		stats:     &Statistics{},
		probeStop: make(chan struct{}),
	}

	go c.recoveryLoop()

	return c, nil
}

// GetEmbedding returns the cached embedding vector for a query, if present.
func (c *TieredCache) GetEmbedding(ctx context.Context, query string) ([]float32, bool) {
	var vector []float32
	if !c.get(ctx, LevelEmbedding, EmbeddingKey(query), &vector) {
		return nil, false
	}
	return vector, true
}

// PutEmbedding caches an embedding vector for a query.
func (c *TieredCache) PutEmbedding(ctx context.Context, query string, vector []float32) {
	c.put(ctx, LevelEmbedding, EmbeddingKey(query), vector, c.config.EmbeddingTTL)
}

// GetRetrieval decodes the cached retrieval result set for an embedding
// vector and optional technology filter into out.
func (c *TieredCache) GetRetrieval(ctx context.Context, vector []float32, technologyFilter string, out interface{}) bool {
	return c.get(ctx, LevelRetrieval, RetrievalKey(vector, technologyFilter), out)
}

// PutRetrieval caches a retrieval result set keyed by embedding vector and
// optional technology filter.
func (c *TieredCache) PutRetrieval(ctx context.Context, vector []float32, technologyFilter string, value interface{}) {
	c.put(ctx, LevelRetrieval, RetrievalKey(vector, technologyFilter), value, c.config.RetrievalTTL)
}

// GetResponse decodes the cached complete response for a query, optional
// technology filter, and result count into out.
func (c *TieredCache) GetResponse(ctx context.Context, query, technologyFilter string, topK int, out interface{}) bool {
	return c.get(ctx, LevelResponse, ResponseKey(query, technologyFilter, topK), out)
}

// PutResponse caches a complete response.
func (c *TieredCache) PutResponse(ctx context.Context, query, technologyFilter string, topK int, value interface{}) {
	c.put(ctx, LevelResponse, ResponseKey(query, technologyFilter, topK), value, c.config.ResponseTTL)
}

// BatchPutEmbeddings caches multiple embeddings in one pipelined round trip.
// A failure on one entry does not abort the rest.
func (c *TieredCache) BatchPutEmbeddings(ctx context.Context, entries []EmbeddingEntry) {
	if c.disabled.Load() || len(entries) == 0 {
		return
	}

	ctx, span := observability.StartSpan(ctx, "cache.batch_put_embeddings")
	defer span.End()
	span.SetAttribute("count", len(entries))

	kvs := make([]KVEntry, 0, len(entries))
	for _, e := range entries {
		key := EmbeddingKey(e.Query)
		encoded, err := c.codec.Marshal(e.Vector)
		if err != nil {
			c.logger.Error("Failed to encode embedding for batch put", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		packed, saved := c.comp.Pack(encoded)
		c.stats.RecordCompressionSaved(saved)
		kvs = append(kvs, KVEntry{
			Key:   key,
			Value: packed,
			TTL:   c.adaptiveTTL(ctx, key, c.config.EmbeddingTTL),
		})
	}

	if err := c.client.BatchSetEx(ctx, kvs); err != nil {
		c.markDisabled("batch SET failed", err)
		return
	}

	c.logger.Debug("Batch cached embeddings", map[string]interface{}{
		"count": len(kvs),
	})
}

// Clear deletes every key under one level's prefix. Irreversible; intended
// for operational use, not the request path, so backend errors propagate.
func (c *TieredCache) Clear(ctx context.Context, level Level) error {
	prefix := level.prefix()
	if prefix == "" {
		return fmt.Errorf("unknown cache level %q", level)
	}
	n, err := c.deleteByPattern(ctx, prefix+"*")
	if err != nil {
		return fmt.Errorf("failed to clear %s cache: %w", level, err)
	}
	c.logger.Info("Cleared cache level", map[string]interface{}{
		"level": string(level),
		"keys":  n,
	})
	return nil
}

// ClearAll deletes every key under all three level prefixes plus the
// access-counter namespace, and resets statistics.
func (c *TieredCache) ClearAll(ctx context.Context) error {
	total := 0
	for _, level := range Levels() {
		n, err := c.deleteByPattern(ctx, level.prefix()+"*")
		if err != nil {
			return fmt.Errorf("failed to clear %s cache: %w", level, err)
		}
		total += n
	}
	n, err := c.deleteByPattern(ctx, prefixAccessCount+"*")
	if err != nil {
		return fmt.Errorf("failed to clear access counters: %w", err)
	}
	total += n

	c.stats.Reset()
	c.logger.Info("Cleared all cache levels", map[string]interface{}{
		"keys": total,
	})
	return nil
}

// Size reports the number of cached keys per level.
func (c *TieredCache) Size(ctx context.Context) (map[Level]int, error) {
	sizes := make(map[Level]int, 3)
	for _, level := range Levels() {
		keys, err := c.client.ScanKeys(ctx, level.prefix()+"*")
		if err != nil {
			return nil, fmt.Errorf("failed to count %s cache: %w", level, err)
		}
		sizes[level] = len(keys)
	}
	return sizes, nil
}

// Stats returns a snapshot of cache statistics.
func (c *TieredCache) Stats() StatsReport {
	report := c.stats.Snapshot()
	report.CompressionEnabled = true
	report.Serialization = c.codec.Name()
	report.AdaptiveTTL = c.config.AdaptiveTTL
	return report
}

// Disabled reports whether the cache layer is currently degraded.
func (c *TieredCache) Disabled() bool {
	return c.disabled.Load()
}

// Close stops the recovery probe and releases compressor resources. It does
// not close the Redis client, whose lifecycle is owned by the host service.
func (c *TieredCache) Close() {
	c.closeOnce.Do(func() {
		close(c.probeStop)
		c.comp.Close()
	})
}

// get performs the shared read path: fetch, unpack, decode, account.
// Every failure mode (absent key, unreachable backend, corrupt entry) is a
// miss, never an error.
func (c *TieredCache) get(ctx context.Context, level Level, key string, out interface{}) bool {
	if c.disabled.Load() {
		c.stats.RecordMiss(level)
		return false
	}

	ctx, span := observability.StartSpan(ctx, "cache.get")
	defer span.End()
	span.SetAttribute("level", string(level))

	start := time.Now()
	data, err := c.client.GetBytes(ctx, key)
	if err != nil {
		c.stats.RecordMiss(level)
		c.stats.RecordLatency(time.Since(start))
		if !errors.Is(err, ErrNotFound) {
			c.markDisabled("GET failed", err)
		}
		return false
	}

	decoded, err := c.comp.Unpack(data)
	if err == nil {
		err = c.codec.Unmarshal(decoded, out)
	}
	if err != nil {
		// Corrupt entry: treat as miss and delete it so it cannot keep
		// poisoning reads until expiry.
		c.stats.RecordMiss(level)
		c.logger.Warn("Dropping corrupt cache entry", map[string]interface{}{
			"level": string(level),
			"error": err.Error(),
		})
		_ = c.client.Del(ctx, key)
		c.stats.RecordLatency(time.Since(start))
		return false
	}

	c.stats.RecordHit(level)
	c.recordAccess(ctx, key)
	c.stats.RecordLatency(time.Since(start))
	c.metrics.IncrementCounterWithLabels("cache.hit", 1, map[string]string{"level": string(level)})
	return true
}

// put performs the shared write path: encode, conditionally compress,
// compute adaptive TTL, store. Backend failures degrade the layer instead of
// surfacing.
func (c *TieredCache) put(ctx context.Context, level Level, key string, value interface{}, baseTTL time.Duration) {
	if c.disabled.Load() {
		return
	}

	ctx, span := observability.StartSpan(ctx, "cache.put")
	defer span.End()
	span.SetAttribute("level", string(level))

	start := time.Now()
	encoded, err := c.codec.Marshal(value)
	if err != nil {
		c.logger.Error("Failed to encode cache value", map[string]interface{}{
			"level": string(level),
			"error": err.Error(),
		})
		c.stats.RecordLatency(time.Since(start))
		return
	}

	packed, saved := c.comp.Pack(encoded)
	c.stats.RecordCompressionSaved(saved)

	ttl := c.adaptiveTTL(ctx, key, baseTTL)
	if err := c.client.SetEx(ctx, key, packed, ttl); err != nil {
		c.stats.RecordLatency(time.Since(start))
		c.markDisabled("SET failed", err)
		return
	}

	c.recordAccess(ctx, key)
	c.stats.RecordLatency(time.Since(start))
	c.metrics.IncrementCounterWithLabels("cache.put", 1, map[string]string{"level": string(level)})
}

// adaptiveTTL extends the base TTL for frequently accessed keys: 10+
// accesses inside the rolling window doubles it, 5-9 multiplies by 1.5.
// Counter unavailability falls back silently to the base TTL.
func (c *TieredCache) adaptiveTTL(ctx context.Context, key string, baseTTL time.Duration) time.Duration {
	if !c.config.AdaptiveTTL {
		return baseTTL
	}

	count, err := c.client.GetInt(ctx, AccessCountKey(key))
	if err != nil {
		return baseTTL
	}

	switch {
	case count >= 10:
		return baseTTL * 2
	case count >= 5:
		return baseTTL * 3 / 2
	default:
		return baseTTL
	}
}

// recordAccess bumps the per-key access counter inside its rolling window.
// Non-critical: failures are swallowed.
func (c *TieredCache) recordAccess(ctx context.Context, key string) {
	if !c.config.AdaptiveTTL {
		return
	}
	if err := c.client.IncrWithExpire(ctx, AccessCountKey(key), c.config.AccessWindow); err != nil {
		c.logger.Debug("Failed to record cache access", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *TieredCache) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.client.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// Delete in batches to keep individual DEL commands bounded.
	const batchSize = 1000
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// markDisabled degrades the layer. Logged once per transition.
func (c *TieredCache) markDisabled(reason string, err error) {
	if !c.disabled.Swap(true) {
		c.logger.Error("Cache backend unreachable, degrading to disabled", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		c.metrics.IncrementCounterWithLabels("cache.degraded", 1, map[string]string{"reason": reason})
	}
}

// recoveryLoop probes the backend while disabled and re-enables the layer
// once it responds again.
func (c *TieredCache) recoveryLoop() {
	ticker := time.NewTicker(c.config.RecoveryCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.disabled.Load() {
				continue
			}
			probeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			err := c.client.Ping(probeCtx)
			cancel()
			if err == nil && c.disabled.Swap(false) {
				c.logger.Info("Cache backend recovered, re-enabling", nil)
			}
		case <-c.probeStop:
			return
		}
	}
}
