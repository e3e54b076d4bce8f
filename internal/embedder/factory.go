package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config selects and configures an embedding provider
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
}

// New creates an embedder for cfg.Provider. A zero CacheSize disables caching.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Timeout, cache), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(ctx, OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, cache)
	case ProviderLocal:
		return NewLocalProvider(cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}
