package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"policy-search/internal/cache"
	"policy-search/internal/collection"
	"policy-search/internal/config"
	"policy-search/internal/embeddings"
	"policy-search/internal/logger"
	"policy-search/internal/queue"
	"policy-search/internal/vectorstore"
)

const (
	ensureAttempts = 3
	ensureBackoff  = 500 * time.Millisecond
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config     config.Config
	Log        *slog.Logger
	Embedder   embeddings.Embedder
	Store      vectorstore.Store
	Collection *collection.Client
	Cache      cache.Cache
	Queue      queue.Queue
}

// Options selects which optional components a binary needs.
type Options struct {
	// Collection connects the vector store and ensures the collection exists.
	Collection bool
	// Queue connects the task queue.
	Queue bool
}

// Build loads env, config, and shared components. Whatever was opened before a
// failure is closed again.
func Build(service string, opts Options) (deps Deps, err error) {
	// .env is optional; containers pass real environment variables.
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, service)

	deps = Deps{Config: cfg, Log: log, Cache: buildCache(cfg, log)}
	defer func() {
		if err != nil {
			deps.Close()
			deps = Deps{}
		}
	}()

	if opts.Collection {
		embedder, err := buildEmbedder(cfg, log)
		if err != nil {
			return deps, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		st, err := buildVectorStore(cfg, log)
		if err != nil {
			return deps, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		deps.Store = st
		coll, err := collection.New(collection.Config{
			Name:     cfg.CollectionName,
			Embedder: embedder,
			Store:    st,
			DefaultK: cfg.DefaultTopK,
		})
		if err != nil {
			return deps, fmt.Errorf("failed to initialize collection: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := coll.EnsureCollection(ctx, ensureAttempts, ensureBackoff); err != nil {
			return deps, fmt.Errorf("failed to ensure collection %q: %w", cfg.CollectionName, err)
		}
		log.Info("collection ready", "collection", coll.Name(), "embedder", embedder.Name())
		deps.Embedder, deps.Collection = embedder, coll
	}

	if opts.Queue {
		q, err := buildQueue(cfg, log)
		if err != nil {
			return deps, fmt.Errorf("failed to initialize queue: %w", err)
		}
		deps.Queue = q
	}
	return deps, nil
}

// CacheTTL returns the configured response cache lifetime.
func (d Deps) CacheTTL() time.Duration {
	return time.Duration(d.Config.CacheTTL) * time.Second
}

// Close releases connections held by the store and cache.
func (d Deps) Close() {
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Log.Warn("failed to close vector store", "err", err)
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Log.Warn("failed to close cache", "err", err)
		}
	}
}

func buildVectorStore(cfg config.Config, log *slog.Logger) (vectorstore.Store, error) {
	switch cfg.VectorStoreProvider {
	case "chroma", "":
		st, err := vectorstore.NewChroma(cfg.ChromaURL, &http.Client{Timeout: 30 * time.Second},
			vectorstore.WithChromaDatabase(cfg.ChromaTenant, cfg.ChromaDatabase))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Chroma: %w", err)
		}
		log.Info("using Chroma vector store", "url", cfg.ChromaURL, "tenant", cfg.ChromaTenant, "database", cfg.ChromaDatabase)
		return st, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when VECTOR_STORE_PROVIDER=postgres")
		}
		st, err := vectorstore.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres vector store")
		return st, nil
	default:
		return nil, fmt.Errorf("invalid VECTOR_STORE_PROVIDER: %s (valid options: chroma, postgres)", cfg.VectorStoreProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "hash", "":
		log.Info("using hash embedder", "name", embeddings.HashEmbedderName, "dimensions", embeddings.Dimensions)
		return embeddings.NewHashEmbedder(), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDER_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid EMBEDDER_PROVIDER: %s (valid options: hash, openai)", cfg.EmbedderProvider)
	}
}

// buildCache never fails: an unreachable Redis degrades to no caching.
func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis cache", "addr", cfg.RedisAddr, "ttl_seconds", cfg.CacheTTL)
		return c
	case "noop", "":
		return cache.NewNoOpCache()
	default:
		log.Warn("unknown CACHE_PROVIDER, caching disabled", "provider", cfg.CacheProvider)
		return cache.NewNoOpCache()
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid option: nats)", cfg.QueueProvider)
	}
}
