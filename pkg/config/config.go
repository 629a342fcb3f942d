// Package config loads and validates pipeline configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Postgres, Kafka, Redis, Blob, Extractor, Chunker, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Blob      BlobConfig      `yaml:"blob"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds process lifecycle settings.
type ServerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
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

// KafkaConfig holds broker, topic, consumer group and redelivery settings.
type KafkaConfig struct {
	Brokers          []string       `yaml:"brokers"`
	Topics           KafkaTopics    `yaml:"topics"`
	ConsumerGroups   ConsumerGroups `yaml:"consumerGroups"`
	DeadLetterSuffix string         `yaml:"deadLetterSuffix"`
	DeadLetterAfter  int            `yaml:"deadLetterAfter"`
	AutoCreateTopics bool           `yaml:"autoCreateTopics"`
	Retry            RetryConfig    `yaml:"retry"`
}

// KafkaTopics maps pipeline channels to their Kafka topic names.
type KafkaTopics struct {
	Ingested    string `yaml:"ingested"`
	ToTransform string `yaml:"toTransform"`
	ToIndex     string `yaml:"toIndex"`
	Audit       string `yaml:"audit"`
}

// ConsumerGroups holds one consumer group per worker type.
type ConsumerGroups struct {
	Ingest    string `yaml:"ingest"`
	Transform string `yaml:"transform"`
	Index     string `yaml:"index"`
}

// DeadLetterTopic returns the dead-letter topic paired with topic.
func (k KafkaConfig) DeadLetterTopic(topic string) string {
	return topic + k.DeadLetterSuffix
}

// RetryConfig bounds in-process retries of infrastructure failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// RedisConfig holds Redis connection parameters and the delivery attempt TTL.
type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"poolSize"`
	AttemptTTL time.Duration `yaml:"attemptTTL"`
}

// BlobConfig selects and configures the raw content store.
type BlobConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Bucket  string `yaml:"bucket"`
	// FetchRetry bounds how long a stage waits out a blob outage before it
	// fails the document.
	FetchRetry RetryConfig `yaml:"fetchRetry"`
}

// ExtractorConfig controls format extraction and the OCR fallback.
type ExtractorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	OCR     OCRConfig     `yaml:"ocr"`
}

// OCRConfig holds the external OCR tool settings and the scan heuristic.
type OCRConfig struct {
	Tesseract       string        `yaml:"tesseract"`
	Pdftoppm        string        `yaml:"pdftoppm"`
	Languages       string        `yaml:"languages"`
	DPI             int           `yaml:"dpi"`
	OEM             int           `yaml:"oem"`
	PSM             int           `yaml:"psm"`
	MinTextChars    int           `yaml:"minTextChars"`
	MaxPages        int           `yaml:"maxPages"`
	PageConcurrency int           `yaml:"pageConcurrency"`
	PageTimeout     time.Duration `yaml:"pageTimeout"`
}

// ChunkerConfig controls how extracted text is split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig configures the optional chunk embedder.
type EmbeddingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Token        string        `yaml:"token"`
	Model        string        `yaml:"model"`
	BatchSize    int           `yaml:"batchSize"`
	FailureLimit int           `yaml:"failureLimit"`
	ResetTimeout time.Duration `yaml:"resetTimeout"`
}

// SearchConfig controls the on-disk search index written by the index stage.
type SearchConfig struct {
	DataDir        string        `yaml:"dataDir"`
	Shards         int           `yaml:"shards"`
	SegmentMaxSize int64         `yaml:"segmentMaxSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values and rejects invalid combinations.
func Load(path string) (*Config, error) {
	cfg := Default()
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docpipeline",
			User:            "docpipeline",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				Ingested:    "document.ingested",
				ToTransform: "document.to_transform",
				ToIndex:     "document.to_index",
				Audit:       "document.audit",
			},
			ConsumerGroups: ConsumerGroups{
				Ingest:    "ingest-worker-group",
				Transform: "transform-worker-group",
				Index:     "index-worker-group",
			},
			DeadLetterSuffix: ".dlq",
			DeadLetterAfter:  5,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			AttemptTTL: 24 * time.Hour,
		},
		Blob: BlobConfig{
			Backend: "fs",
			Dir:     "./data/blobs",
			FetchRetry: RetryConfig{
				MaxAttempts:  4,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
		},
		Extractor: ExtractorConfig{
			OCR: OCRConfig{
				Tesseract:       "tesseract",
				Pdftoppm:        "pdftoppm",
				Languages:       "spa+eng+fra+por+cat+eus+glg",
				DPI:             300,
				OEM:             3,
				PSM:             6,
				MinTextChars:    100,
				PageConcurrency: 2,
			},
		},
		Chunker: ChunkerConfig{
			Size:    512,
			Overlap: 0,
		},
		Embedding: EmbeddingConfig{
			Enabled:      false,
			Host:         "http://localhost:11434/v1",
			Token:        "none",
			BatchSize:    32,
			FailureLimit: 5,
			ResetTimeout: 30 * time.Second,
		},
		Search: SearchConfig{
			DataDir:        "./data/index",
			Shards:         4,
			SegmentMaxSize: 64 << 20,
			FlushInterval:  30 * time.Second,
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

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers must not be empty")
	}
	if c.Kafka.DeadLetterSuffix == "" {
		problems = append(problems, "kafka.deadLetterSuffix must not be empty")
	}
	if c.Chunker.Size <= 0 {
		problems = append(problems, "chunker.size must be positive")
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		problems = append(problems, "chunker.overlap must be in [0, chunker.size)")
	}
	if c.Extractor.OCR.DPI <= 0 {
		problems = append(problems, "extractor.ocr.dpi must be positive")
	}
	if c.Extractor.OCR.MinTextChars < 0 {
		problems = append(problems, "extractor.ocr.minTextChars must not be negative")
	}
	switch c.Blob.Backend {
	case "fs":
		if c.Blob.Dir == "" {
			problems = append(problems, "blob.dir is required for the fs backend")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			problems = append(problems, "blob.bucket is required for the gcs backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown blob.backend %q", c.Blob.Backend))
	}
	if c.Search.Shards <= 0 {
		problems = append(problems, "search.shards must be positive")
	}
	if c.Search.FlushInterval <= 0 {
		problems = append(problems, "search.flushInterval must be positive")
	}
	if c.Embedding.Enabled && c.Embedding.Model == "" {
		problems = append(problems, "embedding.model is required when embedding is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides reads DP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("DP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DP_KAFKA_AUTO_CREATE_TOPICS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.AutoCreateTopics = b
		}
	}
	if v := os.Getenv("DP_KAFKA_DEAD_LETTER_AFTER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kafka.DeadLetterAfter = n
		}
	}
	if v := os.Getenv("DP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("DP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DP_BLOB_BACKEND"); v != "" {
		cfg.Blob.Backend = v
	}
	if v := os.Getenv("DP_BLOB_DIR"); v != "" {
		cfg.Blob.Dir = v
	}
	if v := os.Getenv("DP_BLOB_BUCKET"); v != "" {
		cfg.Blob.Bucket = v
	}
	if v := os.Getenv("DP_OCR_MIN_TEXT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extractor.OCR.MinTextChars = n
		}
	}
	if v := os.Getenv("DP_OCR_DPI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extractor.OCR.DPI = n
		}
	}
	if v := os.Getenv("DP_OCR_LANGUAGES"); v != "" {
		cfg.Extractor.OCR.Languages = v
	}
	if v := os.Getenv("DP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunker.Size = n
		}
	}
	if v := os.Getenv("DP_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunker.Overlap = n
		}
	}
	if v := os.Getenv("DP_EMBEDDING_HOST"); v != "" {
		cfg.Embedding.Host = v
	}
	if v := os.Getenv("DP_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
		cfg.Embedding.Enabled = true
	}
	if v := os.Getenv("DP_SEARCH_DATA_DIR"); v != "" {
		cfg.Search.DataDir = v
	}
	if v := os.Getenv("DP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
