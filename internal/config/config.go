// Package config loads docpipe settings from docpipe.toml, .env and DOCPIPE_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is the config file looked up in the working directory
const DefaultFileName = "docpipe.toml"

// EnvPrefix prefixes every environment override
const EnvPrefix = "DOCPIPE_"

// Duration is a time.Duration that reads and writes as "2s", "1m" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full docpipe configuration
type Config struct {
	Mode       string `toml:"mode"`
	StateDir   string `toml:"state_dir"`
	DBPath     string `toml:"db_path"`
	ReportPath string `toml:"report_path"`
	LogLevel   string `toml:"log_level"`
	LogPretty  bool   `toml:"log_pretty"`

	Pipeline   PipelineConfig   `toml:"pipeline"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Chunking   ChunkingConfig   `toml:"chunking"`
	Extraction ExtractionConfig `toml:"extraction"`
	Breaker    BreakerConfig    `toml:"breaker"`
	Models     ModelsConfig     `toml:"models"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Store      StoreConfig      `toml:"store"`
	Input      InputConfig      `toml:"input"`
}

// PipelineConfig controls the worker pool and deduplication
type PipelineConfig struct {
	Workers             int     `toml:"workers"`
	StabilityCap        int     `toml:"stability_cap"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	DedupBatchSize      int     `toml:"dedup_batch_size"`
	CheckpointEvery     int     `toml:"checkpoint_every"`
}

// MonitorConfig controls resource sampling
type MonitorConfig struct {
	SampleInterval Duration `toml:"sample_interval"`
	RingCapacity   int      `toml:"ring_capacity"`
}

// ChunkingConfig controls text windowing
type ChunkingConfig struct {
	Window  int `toml:"window"`
	Overlap int `toml:"overlap"`
	Radius  int `toml:"radius"`
}

// ExtractionConfig controls the extraction retry loop
type ExtractionConfig struct {
	MaxRetries int `toml:"max_retries"`
}

// BreakerConfig controls circuit breakers around model calls
type BreakerConfig struct {
	Threshold int      `toml:"threshold"`
	Cooldown  Duration `toml:"cooldown"`
}

// ModelsConfig names the generation models and their backend
type ModelsConfig struct {
	BaseURL    string   `toml:"base_url"`
	Primary    string   `toml:"primary"`
	Validation string   `toml:"validation"`
	Reasoning  string   `toml:"reasoning"`
	RateLimit  float64  `toml:"rate_limit"`
	RateBurst  int      `toml:"rate_burst"`
	Timeout    Duration `toml:"timeout"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider string `toml:"provider"` // ollama, openai, local
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
}

// StoreConfig selects the vector store for accepted embeddings
type StoreConfig struct {
	Vector    string `toml:"vector"` // sqlite, redis
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

// InputConfig controls input validation
type InputConfig struct {
	MaxDocumentBytes int64    `toml:"max_document_bytes"`
	MaxChars         int      `toml:"max_chars"`
	Exclude          []string `toml:"exclude"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Mode:       "extract",
		StateDir:   ".docpipe",
		DBPath:     filepath.Join(".docpipe", "content_versions.db"),
		ReportPath: "extraction_report.json",
		LogLevel:   "info",
		Pipeline: PipelineConfig{
			Workers:             8,
			StabilityCap:        4,
			SimilarityThreshold: 0.85,
			DedupBatchSize:      8,
			CheckpointEvery:     5,
		},
		Monitor: MonitorConfig{
			SampleInterval: Duration{2 * time.Second},
			RingCapacity:   10,
		},
		Chunking: ChunkingConfig{
			Window:  2000,
			Overlap: 100,
			Radius:  50,
		},
		Extraction: ExtractionConfig{
			MaxRetries: 2,
		},
		Breaker: BreakerConfig{
			Threshold: 3,
			Cooldown:  Duration{60 * time.Second},
		},
		Models: ModelsConfig{
			BaseURL:    "http://localhost:11434",
			Primary:    "qwen2.5:7b",
			Validation: "phi3:mini",
			Reasoning:  "deepseek-r1:8b",
			RateLimit:  4,
			RateBurst:  4,
			Timeout:    Duration{120 * time.Second},
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Store: StoreConfig{
			Vector:    "sqlite",
			RedisAddr: "localhost:6379",
		},
		Input: InputConfig{
			MaxDocumentBytes: 50 << 20,
			MaxChars:         200_000,
		},
	}
}

// CheckpointDir is where checkpoint files live
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.StateDir, "checkpoints")
}

// Load builds a Config from defaults, then the TOML file at path (if it exists),
// then environment variables. A .env file in the working directory is loaded first.
// An empty path means DefaultFileName.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// no config file, defaults apply
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}

	str("MODE", &c.Mode)
	str("STATE_DIR", &c.StateDir)
	str("DB_PATH", &c.DBPath)
	str("REPORT_PATH", &c.ReportPath)
	str("LOG_LEVEL", &c.LogLevel)
	num("WORKERS", &c.Pipeline.Workers)
	num("STABILITY_CAP", &c.Pipeline.StabilityCap)
	float("SIMILARITY_THRESHOLD", &c.Pipeline.SimilarityThreshold)
	num("MAX_RETRIES", &c.Extraction.MaxRetries)
	str("OLLAMA_URL", &c.Models.BaseURL)
	str("PRIMARY_MODEL", &c.Models.Primary)
	str("VALIDATION_MODEL", &c.Models.Validation)
	str("REASONING_MODEL", &c.Models.Reasoning)
	str("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("EMBEDDING_MODEL", &c.Embedding.Model)
	str("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	str("VECTOR_STORE", &c.Store.Vector)
	str("REDIS_ADDR", &c.Store.RedisAddr)

	// The OpenAI key follows the conventional variable when no prefixed one is set
	str("OPENAI_API_KEY", &c.Embedding.APIKey)
	if c.Embedding.APIKey == "" {
		if v, ok := lookup("OPENAI_API_KEY"); ok {
			c.Embedding.APIKey = v
		}
	}

	return errors.Join(errs...)
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case "extract", "knowledge":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.StabilityCap < 1 {
		errs = append(errs, fmt.Errorf("stability_cap must be at least 1, got %d", c.Pipeline.StabilityCap))
	}
	if c.Pipeline.SimilarityThreshold <= 0 || c.Pipeline.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be in (0,1], got %v", c.Pipeline.SimilarityThreshold))
	}
	if c.Pipeline.DedupBatchSize < 1 {
		errs = append(errs, fmt.Errorf("dedup_batch_size must be at least 1, got %d", c.Pipeline.DedupBatchSize))
	}
	if c.Chunking.Window < 1 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Window {
		errs = append(errs, fmt.Errorf("chunk overlap %d must be smaller than window %d", c.Chunking.Overlap, c.Chunking.Window))
	}
	if c.Extraction.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries cannot be negative"))
	}
	if c.Breaker.Threshold < 1 {
		errs = append(errs, fmt.Errorf("breaker threshold must be at least 1"))
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "ollama", "openai", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	switch c.Store.Vector {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown vector store %q", c.Store.Vector))
	}

	return errors.Join(errs...)
}
