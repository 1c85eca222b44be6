package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatisticsAccounting(t *testing.T) {
	s := &Statistics{}

	s.RecordHit(LevelEmbedding)
	s.RecordHit(LevelEmbedding)
	s.RecordMiss(LevelEmbedding)
	s.RecordMiss(LevelRetrieval)
	s.RecordHit(LevelResponse)

	report := s.Snapshot()
	assert.Equal(t, int64(2), report.Embedding.Hits)
	assert.Equal(t, int64(1), report.Embedding.Misses)
	assert.InDelta(t, 2.0/3.0*100, report.Embedding.HitRate, 0.001)

	assert.Equal(t, float64(0), report.Retrieval.HitRate)
	assert.Equal(t, float64(100), report.Response.HitRate)

	assert.Equal(t, int64(3), report.TotalHits)
	assert.Equal(t, int64(5), report.TotalRequests)
}

func TestStatisticsEmptyReport(t *testing.T) {
	s := &Statistics{}
	report := s.Snapshot()

	// No division by zero on a fresh instance.
	assert.Equal(t, float64(0), report.Embedding.HitRate)
	assert.Equal(t, int64(0), report.TotalRequests)
	assert.Equal(t, float64(0), report.AvgOperationMS)
}

func TestStatisticsLatencyMean(t *testing.T) {
	s := &Statistics{}
	s.RecordLatency(10 * time.Millisecond)
	s.RecordLatency(20 * time.Millisecond)
	s.RecordLatency(30 * time.Millisecond)

	report := s.Snapshot()
	assert.InDelta(t, 20.0, report.AvgOperationMS, 0.001)
	assert.Equal(t, int64(3), report.TotalOperations)
}

func TestStatisticsReset(t *testing.T) {
	s := &Statistics{}
	s.RecordHit(LevelEmbedding)
	s.RecordCompressionSaved(1024)
	s.RecordLatency(time.Millisecond)

	s.Reset()

	report := s.Snapshot()
	assert.Equal(t, int64(0), report.TotalRequests)
	assert.Equal(t, int64(0), report.CompressionBytesSaved)
	assert.Equal(t, int64(0), report.TotalOperations)
}

func TestStatisticsConcurrent(t *testing.T) {
	s := &Statistics{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordHit(LevelEmbedding)
				s.RecordMiss(LevelRetrieval)
				s.RecordLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	report := s.Snapshot()
	assert.Equal(t, int64(800), report.Embedding.Hits)
	assert.Equal(t, int64(800), report.Retrieval.Misses)
	assert.Equal(t, int64(800), report.TotalOperations)
}
