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
		key: "server.port", typ: kInt, env: "FREIGHTDOCS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "FREIGHTDOCS_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FREIGHTDOCS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.spool_dir", typ: kString, env: "FREIGHTDOCS_STORAGE_SPOOL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.SpoolDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SpoolDir },
	},
	{
		key: "blob.backend", typ: kString, env: "FREIGHTDOCS_BLOB_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Blob.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Backend },
	},
	{
		key: "blob.dir", typ: kString, env: "FREIGHTDOCS_BLOB_DIR",
		apply:   func(cfg *Config, v any) { cfg.Blob.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Dir },
	},
	{
		key: "s3.endpoint", typ: kString, env: "FREIGHTDOCS_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.S3.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Endpoint },
	},
	{
		key: "s3.bucket", typ: kString, env: "FREIGHTDOCS_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.S3.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Bucket },
	},
	{
		key: "s3.access_key", typ: kString, env: "FREIGHTDOCS_S3_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.S3.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.AccessKey },
	},
	{
		key: "s3.secret_key", typ: kString, env: "FREIGHTDOCS_S3_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.S3.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.SecretKey },
	},
	{
		key: "s3.use_ssl", typ: kBool, env: "FREIGHTDOCS_S3_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.S3.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.S3.UseSSL },
	},
	{
		key: "extract.provider", typ: kString, env: "FREIGHTDOCS_EXTRACT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Extract.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Provider },
	},
	{
		key: "extract.model", typ: kString, env: "FREIGHTDOCS_EXTRACT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Extract.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Model },
	},
	{
		key: "extract.timeout", typ: kDuration, env: "FREIGHTDOCS_EXTRACT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Extract.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Extract.Timeout },
	},
	{
		key: "extract.concurrency", typ: kInt, env: "FREIGHTDOCS_EXTRACT_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Extract.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Extract.Concurrency },
	},
	{
		key: "extract.poll_interval", typ: kDuration, env: "FREIGHTDOCS_EXTRACT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Extract.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Extract.PollInterval },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "FREIGHTDOCS_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "FREIGHTDOCS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "redis.url", typ: kString, env: "FREIGHTDOCS_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Redis.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.URL },
	},
	{
		key: "ratelimit.uploads_per_minute", typ: kInt, env: "FREIGHTDOCS_RATELIMIT_UPLOADS_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.UploadsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.UploadsPerMinute },
	},
	{
		key: "reaper.interval", typ: kDuration, env: "FREIGHTDOCS_REAPER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reaper.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reaper.Interval },
	},
	{
		key: "reaper.stale_after", typ: kDuration, env: "FREIGHTDOCS_REAPER_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Reaper.StaleAfter = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reaper.StaleAfter },
	},
	{
		key: "log.level", typ: kString, env: "FREIGHTDOCS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string for the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || (raw == "" && s.typ != kString) {
				continue
			}
			v, err := s.parse(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
				continue
			}
			s.apply(cfg, v)
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
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
