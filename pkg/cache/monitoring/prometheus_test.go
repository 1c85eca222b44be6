package monitoring

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderag/coderag/pkg/cache"
)

func newTestCache(t *testing.T) *cache.TieredCache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c, err := cache.New(cache.NewResilientClient(client, nil, nil), nil, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// scrape runs one Collect pass and returns metric values keyed by
// "name{level}" (level empty for unlabeled metrics).
func scrape(t *testing.T, collector prometheus.Collector) map[string]float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 64)
	collector.Collect(ch)
	close(ch)

	values := make(map[string]float64)
	for m := range ch {
		desc := m.Desc().String()
		start := strings.Index(desc, `fqName: "`)
		require.GreaterOrEqual(t, start, 0)
		rest := desc[start+len(`fqName: "`):]
		name := rest[:strings.Index(rest, `"`)]

		var pb dto.Metric
		require.NoError(t, m.Write(&pb))

		level := ""
		for _, l := range pb.GetLabel() {
			if l.GetName() == "level" {
				level = l.GetValue()
			}
		}

		var value float64
		switch {
		case pb.GetCounter() != nil:
			value = pb.GetCounter().GetValue()
		case pb.GetGauge() != nil:
			value = pb.GetGauge().GetValue()
		}
		values[name+"{"+level+"}"] = value
	}
	return values
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(newTestCache(t))))
}

func TestCollectorReportsCounters(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.GetEmbedding(ctx, "q") // miss
	c.PutEmbedding(ctx, "q", []float32{1, 2})
	c.GetEmbedding(ctx, "q") // hit

	values := scrape(t, NewCollector(c))

	assert.InDelta(t, 1.0, values["coderag_cache_hits_total{embedding}"], 0.001)
	assert.InDelta(t, 1.0, values["coderag_cache_misses_total{embedding}"], 0.001)
	assert.InDelta(t, 50.0, values["coderag_cache_hit_rate{embedding}"], 0.001)
	assert.InDelta(t, 0.0, values["coderag_cache_degraded{}"], 0.001)
	assert.Greater(t, values["coderag_cache_operations_total{}"], 0.0)

	// Untouched levels report zero, not absent.
	assert.InDelta(t, 0.0, values["coderag_cache_hits_total{retrieval}"], 0.001)
	assert.InDelta(t, 0.0, values["coderag_cache_hit_rate{response}"], 0.001)
}
