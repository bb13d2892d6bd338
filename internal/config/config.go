package config

import (
	"log/slog"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for every binary. Extend as needed.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Collection
	CollectionName string `env:"COLLECTION_NAME" envDefault:"policies"`
	DefaultTopK    int    `env:"DEFAULT_TOP_K" envDefault:"10"`

	// Vector store
	VectorStoreProvider string `env:"VECTOR_STORE_PROVIDER" envDefault:"chroma"` // "chroma" or "postgres" (pgvector)
	ChromaURL           string `env:"CHROMA_URL" envDefault:"http://localhost:8000"`
	ChromaTenant        string `env:"CHROMA_TENANT" envDefault:"default_tenant"`
	ChromaDatabase      string `env:"CHROMA_DATABASE" envDefault:"default_database"`
	DBURL               string `env:"DB_URL"`

	// Embeddings
	EmbedderProvider string `env:"EMBEDDER_PROVIDER" envDefault:"hash"` // "hash" (simple-text-embedder) or "openai"
	OpenAIKey        string `env:"OPENAI_API_KEY"`
	EmbeddingModel   string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"noop"` // "noop" or "redis"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"300"` // seconds

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"` // "nats" (required for gateway -> indexer)
	QueueURL      string `env:"QUEUE_URL"`

	// Gateway
	QueryServiceURL string `env:"QUERY_SERVICE_URL" envDefault:"http://server:8080"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
