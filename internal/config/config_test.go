package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Save original env and restore after test
	originalEnv := os.Environ()
	defer func() {
		os.Clearenv()
		for _, env := range originalEnv {
			// Parse and restore each env var
			for i, c := range env {
				if c == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}()

	// Clear env to test defaults
	os.Clearenv()

	cfg := Load()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"LogLevel", cfg.LogLevel, "info"},
		{"CollectionName", cfg.CollectionName, "policies"},
		{"DefaultTopK", cfg.DefaultTopK, 10},
		{"VectorStoreProvider", cfg.VectorStoreProvider, "chroma"},
		{"ChromaURL", cfg.ChromaURL, "http://localhost:8000"},
		{"ChromaTenant", cfg.ChromaTenant, "default_tenant"},
		{"ChromaDatabase", cfg.ChromaDatabase, "default_database"},
		{"EmbedderProvider", cfg.EmbedderProvider, "hash"},
		{"EmbeddingModel", cfg.EmbeddingModel, "text-embedding-3-small"},
		{"CacheProvider", cfg.CacheProvider, "noop"},
		{"CacheTTL", cfg.CacheTTL, 300},
		{"QueueProvider", cfg.QueueProvider, "nats"},
		{"MaxUploadSize", cfg.MaxUploadSize, int64(10485760)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHROMA_URL", "http://chroma:8000")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.ChromaURL != "http://chroma:8000" {
		t.Errorf("expected chroma url override, got %s", cfg.ChromaURL)
	}
}

func TestLoadProviderOverrides(t *testing.T) {
	t.Setenv("VECTOR_STORE_PROVIDER", "postgres")
	t.Setenv("EMBEDDER_PROVIDER", "openai")

	cfg := Load()

	if cfg.VectorStoreProvider != "postgres" {
		t.Errorf("expected vector store provider 'postgres', got %s", cfg.VectorStoreProvider)
	}
	if cfg.EmbedderProvider != "openai" {
		t.Errorf("expected embedder provider 'openai', got %s", cfg.EmbedderProvider)
	}
}

func TestLoadInvalidValueKeepsOtherDefaults(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg := Load()

	if cfg.CollectionName != "policies" {
		t.Errorf("expected default collection name, got %s", cfg.CollectionName)
	}
}
