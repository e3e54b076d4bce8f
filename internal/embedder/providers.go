package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
)

// Provider names and defaults
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOpenAIModel = "text-embedding-3-small"

	OllamaDimension = 768
	LocalDimension  = 384
)

// OllamaProvider embeds text with an Ollama server. Ollama has no batch
// endpoint, so a batch is one request per text.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaProvider creates an Ollama embedder. Empty values take the defaults.
func NewOllamaProvider(baseURL, model string, timeout time.Duration, cache *Cache) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimension:  OllamaDimension,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}
}

// GenerateEmbedding implements Embedder
func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	embs, err := o.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

// GenerateBatch implements Embedder
func (o *OllamaProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	return cachedBatch(ctx, o.cache, ProviderOllama, o.model, texts, func(ctx context.Context, missing []string) ([][]float32, error) {
		vectors := make([][]float32, len(missing))
		for i, text := range missing {
			vec, err := retryWithBackoff(ctx, o.retry, func() ([]float32, error) {
				return o.callAPI(ctx, text)
			})
			if err != nil {
				return nil, fmt.Errorf("%w: text %d: %v", ErrProviderFailed, i, err)
			}
			vectors[i] = vec
		}
		return vectors, nil
	})
}

func (o *OllamaProvider) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return toFloat32(apiResp.Embedding), nil
}

func (o *OllamaProvider) Dimension() int   { return o.dimension }
func (o *OllamaProvider) Provider() string { return ProviderOllama }
func (o *OllamaProvider) Model() string    { return o.model }

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// EinoProvider adapts any eino embedding component, such as the
// OpenAI-compatible one, to Embedder
type EinoProvider struct {
	embedder embedding.Embedder
	name     string
	model    string
	cache    *Cache
	retry    RetryConfig

	mu        sync.Mutex
	dimension int
}

// OpenAIConfig configures an OpenAI-compatible embedding endpoint
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// NewOpenAIProvider creates an embedder for an OpenAI-compatible API through eino
func NewOpenAIProvider(ctx context.Context, cfg OpenAIConfig, cache *Cache) (*EinoProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNoProviderEnabled)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	emb, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}
	return NewEinoProvider(emb, ProviderOpenAI, cfg.Model, cfg.Dimension, cache), nil
}

// NewEinoProvider wraps an eino embedder
func NewEinoProvider(emb embedding.Embedder, name, model string, dimension int, cache *Cache) *EinoProvider {
	return &EinoProvider{
		embedder:  emb,
		name:      name,
		model:     model,
		dimension: dimension,
		cache:     cache,
		retry:     DefaultRetryConfig(),
	}
}

// GenerateEmbedding implements Embedder
func (e *EinoProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	embs, err := e.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

// GenerateBatch implements Embedder with a single EmbedStrings call for all cache misses
func (e *EinoProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	return cachedBatch(ctx, e.cache, e.name, e.model, texts, func(ctx context.Context, missing []string) ([][]float32, error) {
		raw, err := retryWithBackoff(ctx, e.retry, func() ([][]float64, error) {
			return e.embedder.EmbedStrings(ctx, missing)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		vectors := make([][]float32, len(raw))
		for i, v := range raw {
			vectors[i] = toFloat32(v)
		}
		if len(vectors) > 0 {
			e.mu.Lock()
			if e.dimension == 0 {
				e.dimension = len(vectors[0])
			}
			e.mu.Unlock()
		}
		return vectors, nil
	})
}

func (e *EinoProvider) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

func (e *EinoProvider) Provider() string { return e.name }
func (e *EinoProvider) Model() string    { return e.model }
func (e *EinoProvider) Close() error     { return nil }

// LocalProvider produces deterministic feature-hashed bag-of-words vectors.
// Texts sharing most of their words land close together, which is enough for
// offline runs and tests without a model server.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder
func NewLocalProvider(cache *Cache) *LocalProvider {
	return &LocalProvider{model: "local-hash", dimension: LocalDimension, cache: cache}
}

// GenerateEmbedding implements Embedder
func (l *LocalProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	embs, err := l.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

// GenerateBatch implements Embedder
func (l *LocalProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	return cachedBatch(ctx, l.cache, ProviderLocal, l.model, texts, func(ctx context.Context, missing []string) ([][]float32, error) {
		vectors := make([][]float32, len(missing))
		for i, text := range missing {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			vectors[i] = hashVector(text, l.dimension)
		}
		return vectors, nil
	})
}

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return NormalizeVector(vec)
}

func (l *LocalProvider) Dimension() int   { return l.dimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return l.model }
func (l *LocalProvider) Close() error     { return nil }
