// Package config loads service configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/coderag/coderag/pkg/cache"
	"github.com/coderag/coderag/pkg/retrieval"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Config is the root configuration.
type Config struct {
	Redis RedisConfig            `mapstructure:"redis"`
	Cache cache.Config           `mapstructure:"cache"`
	Query retrieval.EngineConfig `mapstructure:"query"`
	// BM25IndexPath is where the keyword index snapshot is persisted.
	BM25IndexPath string `mapstructure:"bm25_index_path"`
	// LogLevel controls logger verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the given file path (optional, YAML) with
// CODERAG_* environment variables taking precedence. Missing files are not
// an error; defaults cover every setting.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODERAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	def := cache.DefaultConfig()
	v.SetDefault("cache.embedding_ttl", def.EmbeddingTTL.String())
	v.SetDefault("cache.retrieval_ttl", def.RetrievalTTL.String())
	v.SetDefault("cache.response_ttl", def.ResponseTTL.String())
	v.SetDefault("cache.compression_threshold", def.CompressionThreshold)
	v.SetDefault("cache.adaptive_ttl", def.AdaptiveTTL)
	v.SetDefault("cache.access_window", def.AccessWindow.String())
	v.SetDefault("cache.recovery_check_period", def.RecoveryCheckPeriod.String())

	eng := retrieval.DefaultEngineConfig()
	v.SetDefault("query.top_k", eng.TopK)
	v.SetDefault("query.semantic_weight", eng.SemanticWeight)
	v.SetDefault("query.keyword_weight", eng.KeywordWeight)
	v.SetDefault("query.rrf_constant", eng.RRFConstant)

	v.SetDefault("bm25_index_path", "data/bm25_index.msgpack")
	v.SetDefault("log_level", "info")
}

// NewRedisClient builds a go-redis client from the Redis settings.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}
