package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CONTEXTMORE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "CONTEXTMORE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CONTEXTMORE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "vector.backend", typ: kString, env: "CONTEXTMORE_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "vector.size", typ: kInt, env: "CONTEXTMORE_VECTOR_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Vector.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Vector.Size },
	},
	{
		key: "qdrant.url", typ: kString, env: "CONTEXTMORE_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.URL },
	},
	{
		key: "qdrant.collection", typ: kString, env: "CONTEXTMORE_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.Collection },
	},
	{
		key: "qdrant.timeout", typ: kDuration, env: "CONTEXTMORE_QDRANT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Qdrant.Timeout },
	},
	{
		key: "qdrant.api_key", typ: kString, env: "CONTEXTMORE_QDRANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Qdrant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.APIKey },
	},
	{
		key: "embedding.provider", typ: kString, env: "CONTEXTMORE_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "CONTEXTMORE_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.batch_size", typ: kInt, env: "CONTEXTMORE_EMBEDDING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.BatchSize },
	},
	{
		key: "embedding.concurrency", typ: kInt, env: "CONTEXTMORE_EMBEDDING_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Concurrency },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CONTEXTMORE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "CONTEXTMORE_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "CONTEXTMORE_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "chunking.words_per_chunk", typ: kInt, env: "CONTEXTMORE_CHUNKING_WORDS_PER_CHUNK",
		apply:   func(cfg *Config, v any) { cfg.Chunking.WordsPerChunk = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.WordsPerChunk },
	},
	{
		key: "fetch.timeout", typ: kDuration, env: "CONTEXTMORE_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Fetch.Timeout },
	},
	{
		key: "fetch.max_bytes", typ: kInt, env: "CONTEXTMORE_FETCH_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Fetch.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Fetch.MaxBytes },
	},
	{
		key: "fetch.rate_limit", typ: kFloat, env: "CONTEXTMORE_FETCH_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Fetch.RateLimit },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "CONTEXTMORE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "recovery.enabled", typ: kBool, env: "CONTEXTMORE_RECOVERY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Recovery.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Recovery.Enabled },
	},
	{
		key: "recovery.poll_interval", typ: kDuration, env: "CONTEXTMORE_RECOVERY_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Recovery.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Recovery.PollInterval },
	},
	{
		key: "ingest.workers", typ: kInt, env: "CONTEXTMORE_INGEST_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Workers },
	},
}

// parseValue converts a raw string into the value type of a key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
