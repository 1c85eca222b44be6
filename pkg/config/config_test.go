package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)

	assert.Equal(t, time.Hour, cfg.Cache.EmbeddingTTL)
	assert.Equal(t, 6*time.Hour, cfg.Cache.RetrievalTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.ResponseTTL)
	assert.Equal(t, 512, cfg.Cache.CompressionThreshold)
	assert.True(t, cfg.Cache.AdaptiveTTL)

	assert.Equal(t, 5, cfg.Query.TopK)
	assert.InDelta(t, 0.6, cfg.Query.SemanticWeight, 0.001)
	assert.InDelta(t, 0.4, cfg.Query.KeywordWeight, 0.001)
	assert.Equal(t, 60, cfg.Query.RRFConstant)

	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
redis:
  addr: redis.internal:6380
  db: 2
cache:
  embedding_ttl: 30m
  adaptive_ttl: false
query:
  top_k: 10
  semantic_weight: 0.7
  keyword_weight: 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 30*time.Minute, cfg.Cache.EmbeddingTTL)
	assert.False(t, cfg.Cache.AdaptiveTTL)
	assert.Equal(t, 10, cfg.Query.TopK)

	// Unset values keep their defaults.
	assert.Equal(t, 24*time.Hour, cfg.Cache.ResponseTTL)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CODERAG_REDIS_ADDR", "env.redis:6379")
	t.Setenv("CODERAG_QUERY_TOP_K", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env.redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Query.TopK)
}

func TestNewRedisClient(t *testing.T) {
	client := NewRedisClient(RedisConfig{Addr: "localhost:6379", DB: 1, PoolSize: 4})
	require.NotNil(t, client)
	assert.Equal(t, "localhost:6379", client.Options().Addr)
	assert.Equal(t, 1, client.Options().DB)
	_ = client.Close()
}
