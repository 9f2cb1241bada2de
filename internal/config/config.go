package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Blob       BlobConfig
	S3         S3Config
	Extract    ExtractConfig
	OpenRouter OpenRouterConfig
	Ollama     OllamaConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Reaper     ReaperConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
}

type StorageConfig struct {
	DataDir  string
	SpoolDir string // defaults to DataDir/spool
}

// SpoolPath resolves the spool directory.
func (s StorageConfig) SpoolPath() string {
	if s.SpoolDir != "" {
		return s.SpoolDir
	}
	return filepath.Join(s.DataDir, "spool")
}

type BlobConfig struct {
	Backend string // disk or s3
	Dir     string // disk backend root; defaults to DataDir/blobs
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type ExtractConfig struct {
	Provider     string // disabled, openrouter, ollama or pdftext
	Model        string
	Timeout      time.Duration
	Concurrency  int
	PollInterval time.Duration
}

type OpenRouterConfig struct {
	APIKey string
}

type OllamaConfig struct {
	BaseURL string
}

type RedisConfig struct {
	URL string // empty disables upload rate limiting
}

type RateLimitConfig struct {
	UploadsPerMinute int
}

type ReaperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type LogConfig struct {
	Level string
}

// Extractor providers.
const (
	ProviderDisabled   = "disabled"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderPDFText    = "pdftext"
)

// Default models per provider, used when extract.model is empty.
var defaultModels = map[string]string{
	ProviderOpenRouter: "openai/gpt-4o-mini",
	ProviderOllama:     "llava:7b",
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MaxConnections: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Blob: BlobConfig{
			Backend: "disk",
		},
		S3: S3Config{
			Bucket: "freightdocs",
		},
		Extract: ExtractConfig{
			Provider:     ProviderDisabled,
			Timeout:      60 * time.Second,
			Concurrency:  2,
			PollInterval: 2 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		RateLimit: RateLimitConfig{
			UploadsPerMinute: 30,
		},
		Reaper: ReaperConfig{
			Interval:   time.Minute,
			StaleAfter: 10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/freightdocs/config.json, then applies FREIGHTDOCS_*
// environment variables, then fills secrets still empty from the secrets
// file at $XDG_DATA_HOME/freightdocs/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretReader abstracts the secrets file for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = filepath.Join(cfg.Storage.DataDir, "blobs")
	}
	if cfg.Extract.Model == "" {
		cfg.Extract.Model = defaultModels[cfg.Extract.Provider]
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Extract.Provider {
	case ProviderDisabled, ProviderOllama, ProviderPDFText:
	case ProviderOpenRouter:
		if c.OpenRouter.APIKey == "" {
			errs = append(errs, errors.New("missing required config: OpenRouter API key. "+
				"Set it via environment variable FREIGHTDOCS_OPENROUTER_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("extract.provider %q is not one of disabled, openrouter, ollama, pdftext", c.Extract.Provider))
	}

	switch c.Blob.Backend {
	case "disk":
	case "s3":
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, errors.New("missing required config: s3.endpoint and s3.bucket are required for blob.backend=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend %q is not one of disk, s3", c.Blob.Backend))
	}

	if c.Extract.Timeout <= 0 {
		errs = append(errs, errors.New("extract.timeout must be positive"))
	}
	if c.Extract.Concurrency < 1 {
		errs = append(errs, errors.New("extract.concurrency must be at least 1"))
	}
	// A job still inside its extraction timeout is alive; the reaper must
	// not fail it or remove its spool file.
	if c.Reaper.StaleAfter <= c.Extract.Timeout {
		errs = append(errs, fmt.Errorf("reaper.stale_after (%s) must be longer than extract.timeout (%s)",
			c.Reaper.StaleAfter, c.Extract.Timeout))
	}
	if c.Reaper.Interval <= 0 {
		errs = append(errs, errors.New("reaper.interval must be positive"))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "freightdocs-data"
		}
	}
	return filepath.Join(dir, "freightdocs")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "freightdocs", "config.json")
}

// SlogLevel parses log.level (debug, info, warn or error).
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
