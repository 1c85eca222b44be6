package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics accumulates cache counters for the life of the process.
// Counters only grow; they reset on explicit clear. All methods are safe
// for concurrent use.
type Statistics struct {
	hits   [3]atomic.Int64
	misses [3]atomic.Int64

	compressionBytesSaved atomic.Int64

	// Rolling mean latency over all recorded operations.
	mu         sync.Mutex
	totalOps   int64
	avgLatency float64 // milliseconds
}

func levelIndex(level Level) int {
	switch level {
	case LevelEmbedding:
		return 0
	case LevelRetrieval:
		return 1
	default:
		return 2
	}
}

// RecordHit increments the hit counter for a level.
func (s *Statistics) RecordHit(level Level) {
	s.hits[levelIndex(level)].Add(1)
}

// RecordMiss increments the miss counter for a level.
func (s *Statistics) RecordMiss(level Level) {
	s.misses[levelIndex(level)].Add(1)
}

// RecordCompressionSaved accumulates bytes saved by compression.
func (s *Statistics) RecordCompressionSaved(bytes int) {
	if bytes > 0 {
		s.compressionBytesSaved.Add(int64(bytes))
	}
}

// RecordLatency folds an operation duration into the rolling mean.
func (s *Statistics) RecordLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	s.mu.Lock()
	s.avgLatency = (s.avgLatency*float64(s.totalOps) + ms) / float64(s.totalOps+1)
	s.totalOps++
	s.mu.Unlock()
}

// Reset zeroes every counter. Called on ClearAll.
func (s *Statistics) Reset() {
	for i := range s.hits {
		s.hits[i].Store(0)
		s.misses[i].Store(0)
	}
	s.compressionBytesSaved.Store(0)

	s.mu.Lock()
	s.totalOps = 0
	s.avgLatency = 0
	s.mu.Unlock()
}

// LevelStats reports hit/miss accounting for one cache level.
type LevelStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"` // percentage, 0-100
}

// StatsReport is a point-in-time snapshot of cache statistics, suitable for
// exposure through a monitoring or health endpoint.
type StatsReport struct {
	Embedding LevelStats `json:"embedding_cache"`
	Retrieval LevelStats `json:"retrieval_cache"`
	Response  LevelStats `json:"response_cache"`

	TotalHits     int64 `json:"total_hits"`
	TotalRequests int64 `json:"total_requests"`

	CompressionEnabled    bool    `json:"compression_enabled"`
	CompressionBytesSaved int64   `json:"compression_bytes_saved"`
	Serialization         string  `json:"serialization"`
	AdaptiveTTL           bool    `json:"adaptive_ttl"`
	AvgOperationMS        float64 `json:"avg_cache_operation_ms"`
	TotalOperations       int64   `json:"total_operations"`

	Timestamp time.Time `json:"timestamp"`
}

func (s *Statistics) levelStats(level Level) LevelStats {
	i := levelIndex(level)
	hits := s.hits[i].Load()
	misses := s.misses[i].Load()
	ls := LevelStats{
		Hits:   hits,
		Misses: misses,
		Total:  hits + misses,
	}
	if ls.Total > 0 {
		ls.HitRate = float64(hits) / float64(ls.Total) * 100
	}
	return ls
}

// Snapshot builds a StatsReport from the current counters. The codec name,
// compression flag, and adaptive-TTL flag are filled in by the cache that
// owns these statistics.
func (s *Statistics) Snapshot() StatsReport {
	report := StatsReport{
		Embedding: s.levelStats(LevelEmbedding),
		Retrieval: s.levelStats(LevelRetrieval),
		Response:  s.levelStats(LevelResponse),

		CompressionBytesSaved: s.compressionBytesSaved.Load(),
		Timestamp:             time.Now(),
	}

	report.TotalHits = report.Embedding.Hits + report.Retrieval.Hits + report.Response.Hits
	report.TotalRequests = report.Embedding.Total + report.Retrieval.Total + report.Response.Total

	s.mu.Lock()
	report.AvgOperationMS = s.avgLatency
	report.TotalOperations = s.totalOps
	s.mu.Unlock()

	return report
}
