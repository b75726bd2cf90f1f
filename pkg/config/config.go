// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, ImgSeek, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	ImgSeek   ImgSeekConfig   `yaml:"imgseek"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// IngestionConfig holds the ingestion service's listen port and signature
// limits.
type IngestionConfig struct {
	Port            int `yaml:"port"`
	MaxCoefficients int `yaml:"maxCoefficients"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SignatureIngest string `yaml:"signatureIngest"`
	IndexComplete   string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls the indexing engine's memory thresholds, flush and
// reload intervals, and sharding.
type IndexerConfig struct {
	DataDir           string        `yaml:"dataDir"`
	SegmentMaxSize    int64         `yaml:"segmentMaxSize"`
	FlushInterval     time.Duration `yaml:"flushInterval"`
	ReloadInterval    time.Duration `yaml:"reloadInterval"`
	NumShards         int           `yaml:"numShards"`
	DocumentCacheSize int           `yaml:"documentCacheSize"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults      int           `yaml:"maxResults"`
	DefaultLimit    int           `yaml:"defaultLimit"`
	TimeoutPerShard time.Duration `yaml:"timeoutPerShard"`
}

// ImgSeekConfig describes the signature term layout. Indexers and searchers
// must share it: documents written under one layout cannot be queried under
// another.
type ImgSeekConfig struct {
	TermPrefix     string    `yaml:"termPrefix"`
	AverageFields  [3]string `yaml:"averageFields"`
	NumPixels      int       `yaml:"numPixels"`
	Buckets        int       `yaml:"buckets"`
	DistanceRadius int       `yaml:"distanceRadius"`
}

// Validate reports the first inconsistency in the layout as a configuration
// error.
func (c ImgSeekConfig) Validate() error {
	if c.NumPixels <= 0 {
		return apperrors.Configurationf("imgseek.numPixels must be positive, got %d", c.NumPixels)
	}
	if c.Buckets <= 0 {
		return apperrors.Configurationf("imgseek.buckets must be positive, got %d", c.Buckets)
	}
	if c.DistanceRadius < 0 {
		return apperrors.Configurationf("imgseek.distanceRadius must not be negative, got %d", c.DistanceRadius)
	}
	seen := make(map[string]bool, len(c.AverageFields))
	for i, f := range c.AverageFields {
		if f == "" {
			return apperrors.Configurationf("imgseek.averageFields[%d] is empty", i)
		}
		if seen[f] {
			return apperrors.Configurationf("imgseek.averageFields[%d] duplicates %q", i, f)
		}
		seen[f] = true
	}
	return nil
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.ImgSeek.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Ingestion: IngestionConfig{
			Port:            8081,
			MaxCoefficients: 60,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "imgseek",
			User:            "imgseek",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "imgseek-indexer",
			Topics: KafkaTopics{
				SignatureIngest: "signature-ingest",
				IndexComplete:   "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			DataDir:           "./data/index",
			SegmentMaxSize:    32 << 20,
			FlushInterval:     30 * time.Second,
			ReloadInterval:    10 * time.Second,
			NumShards:         4,
			DocumentCacheSize: 4096,
		},
		Search: SearchConfig{
			MaxResults:      100,
			DefaultLimit:    10,
			TimeoutPerShard: 2 * time.Second,
		},
		ImgSeek: ImgSeekConfig{
			TermPrefix:     "I",
			AverageFields:  [3]string{"avg_y", "avg_i", "avg_q"},
			NumPixels:      128,
			Buckets:        255,
			DistanceRadius: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads IMGSEEK_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IMGSEEK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("IMGSEEK_INGESTION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Port = port
		}
	}
	if v := os.Getenv("IMGSEEK_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("IMGSEEK_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("IMGSEEK_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("IMGSEEK_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("IMGSEEK_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("IMGSEEK_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("IMGSEEK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("IMGSEEK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("IMGSEEK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("IMGSEEK_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("IMGSEEK_INDEXER_NUM_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.NumShards = n
		}
	}
	if v := os.Getenv("IMGSEEK_TERM_PREFIX"); v != "" {
		cfg.ImgSeek.TermPrefix = v
	}
	if v := os.Getenv("IMGSEEK_NUM_PIXELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImgSeek.NumPixels = n
		}
	}
	if v := os.Getenv("IMGSEEK_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("IMGSEEK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IMGSEEK_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
