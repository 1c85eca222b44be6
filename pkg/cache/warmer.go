package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/coderag/coderag/pkg/observability"
)

// Warmer redis key layout. Frequencies live in one sorted set; per-query
// metadata hashes expire after 30 days so stale queries age out.
const (
	queryFreqKey      = "rag:query_freq"
	queryMetaPrefix   = "rag:query_meta:"
	queryMetaTTL      = 30 * 24 * time.Hour
	defaultTopQueries = 50
)

// QueryStats describes one tracked query for cache warming.
type QueryStats struct {
	Query            string  `json:"query"`
	HitCount         int64   `json:"hit_count"`
	LastAccessed     float64 `json:"last_accessed"`
	TechnologyFilter string  `json:"technology_filter,omitempty"`
}

// WarmFunc executes one query end to end so its results populate the cache.
type WarmFunc func(ctx context.Context, query, technologyFilter string) error

// Warmer tracks query frequency and pre-warms the cache with the most
// popular queries on startup or on a schedule. Like the cache itself it is
// best-effort: tracking failures are logged and swallowed.
type Warmer struct {
	client *ResilientClient
	logger observability.Logger
}

// NewWarmer creates a cache warmer over the shared backend client.
func NewWarmer(client *ResilientClient, logger observability.Logger) *Warmer {
	if logger == nil {
		logger = observability.NewLogger("cache.warmer")
	}
	return &Warmer{client: client, logger: logger}
}

// TrackQuery records one execution of a query for frequency analysis.
func (w *Warmer) TrackQuery(ctx context.Context, query, technologyFilter string) {
	rdb := w.client.Raw()
	pipe := rdb.Pipeline()
	pipe.ZIncrBy(ctx, queryFreqKey, 1, query)
	metaKey := queryMetaPrefix + query
	pipe.HSet(ctx, metaKey, map[string]interface{}{
		"last_accessed":     float64(time.Now().UnixNano()) / 1e9,
		"technology_filter": technologyFilter,
	})
	pipe.Expire(ctx, metaKey, queryMetaTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Debug("Failed to track query", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// TopQueries returns the n most frequently tracked queries, best first.
func (w *Warmer) TopQueries(ctx context.Context, n int) ([]QueryStats, error) {
	if n <= 0 {
		n = defaultTopQueries
	}

	rdb := w.client.Raw()
	entries, err := rdb.ZRevRangeWithScores(ctx, queryFreqKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read query frequencies: %w", err)
	}

	stats := make([]QueryStats, 0, len(entries))
	for _, entry := range entries {
		query, ok := entry.Member.(string)
		if !ok {
			continue
		}
		qs := QueryStats{
			Query:    query,
			HitCount: int64(entry.Score),
		}
		if meta, err := rdb.HGetAll(ctx, queryMetaPrefix+query).Result(); err == nil {
			qs.TechnologyFilter = meta["technology_filter"]
			if ts, err := strconv.ParseFloat(meta["last_accessed"], 64); err == nil {
				qs.LastAccessed = ts
			}
		}
		stats = append(stats, qs)
	}
	return stats, nil
}

// Warm replays the top n tracked queries through exec so their results
// populate the cache. Individual query failures are logged and skipped.
func (w *Warmer) Warm(ctx context.Context, n int, exec WarmFunc) error {
	queries, err := w.TopQueries(ctx, n)
	if err != nil {
		return err
	}

	warmed := 0
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := exec(ctx, q.Query, q.TechnologyFilter); err != nil {
			w.logger.Warn("Cache warm query failed", map[string]interface{}{
				"query": q.Query,
				"error": err.Error(),
			})
			continue
		}
		warmed++
	}

	w.logger.Info("Cache warming complete", map[string]interface{}{
		"requested": len(queries),
		"warmed":    warmed,
	})
	return nil
}
