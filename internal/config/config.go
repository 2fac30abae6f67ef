package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Vector    VectorConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Chunking  ChunkingConfig
	Fetch     FetchConfig
	Retrieval RetrievalConfig
	Recovery  RecoveryConfig
	Ingest    IngestConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// VectorConfig selects the vector index. Size is the stored vector width;
// zero keeps the model's native width.
type VectorConfig struct {
	Backend string
	Size    int
}

type QdrantConfig struct {
	URL        string
	Collection string
	Timeout    time.Duration
	APIKey     string
}

type EmbeddingConfig struct {
	Provider    string
	Model       string
	BatchSize   int
	Concurrency int
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type ChunkingConfig struct {
	WordsPerChunk int
}

type FetchConfig struct {
	Timeout   time.Duration
	MaxBytes  int
	RateLimit float64
}

type RetrievalConfig struct {
	TopK int
}

type RecoveryConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

type IngestConfig struct {
	Workers int
}

const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Vector:  VectorConfig{Backend: BackendSQLite, Size: 3072},
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6333",
			Collection: "contextmore",
			Timeout:    15 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:    ProviderOllama,
			Model:       "nomic-embed-text",
			BatchSize:   32,
			Concurrency: 4,
		},
		Ollama:    OllamaConfig{BaseURL: "http://localhost:11434"},
		OpenAI:    OpenAIConfig{BaseURL: "https://api.openai.com/v1"},
		Chunking:  ChunkingConfig{WordsPerChunk: 300},
		Fetch:     FetchConfig{Timeout: 30 * time.Second, MaxBytes: 5 << 20, RateLimit: 5},
		Retrieval: RetrievalConfig{TopK: 5},
		Recovery:  RecoveryConfig{Enabled: true, PollInterval: 2 * time.Second},
		Ingest:    IngestConfig{Workers: 4},
	}
}

// Load reads configuration from the JSON config file and environment
// variables. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must not be empty"))
	}
	switch c.Vector.Backend {
	case BackendSQLite:
	case BackendQdrant:
		if err := checkURL("qdrant.url", c.Qdrant.URL); err != nil {
			errs = append(errs, err)
		}
		if c.Qdrant.Collection == "" {
			errs = append(errs, errors.New("qdrant.collection must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("vector.backend must be %q or %q, got %q", BackendSQLite, BackendQdrant, c.Vector.Backend))
	}
	if c.Vector.Size < 0 {
		errs = append(errs, fmt.Errorf("vector.size must not be negative, got %d", c.Vector.Size))
	}
	switch c.Embedding.Provider {
	case ProviderOllama:
		if err := checkURL("ollama.base_url", c.Ollama.BaseURL); err != nil {
			errs = append(errs, err)
		}
	case ProviderOpenAI:
		if err := checkURL("openai.base_url", c.OpenAI.BaseURL); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be %q or %q, got %q", ProviderOllama, ProviderOpenAI, c.Embedding.Provider))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model must not be empty"))
	}
	positive := []struct {
		key string
		val int
	}{
		{"embedding.batch_size", c.Embedding.BatchSize},
		{"embedding.concurrency", c.Embedding.Concurrency},
		{"chunking.words_per_chunk", c.Chunking.WordsPerChunk},
		{"fetch.max_bytes", c.Fetch.MaxBytes},
		{"retrieval.top_k", c.Retrieval.TopK},
		{"ingest.workers", c.Ingest.Workers},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.key, p.val))
		}
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout))
	}
	if c.Fetch.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("fetch.rate_limit must not be negative, got %g", c.Fetch.RateLimit))
	}
	if c.Qdrant.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("qdrant.timeout must be positive, got %s", c.Qdrant.Timeout))
	}
	if c.Recovery.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("recovery.poll_interval must be positive, got %s", c.Recovery.PollInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", s)
}

func checkURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}
