// Package llm is the generation-model collaborator. Client talks to an Ollama
// server; Guarded adds rate limiting and a circuit breaker in front of any
// Generator.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Default configuration values
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultTimeout = 120 * time.Second
)

// ErrRateLimited is returned when the backend answers 429
var ErrRateLimited = errors.New("model backend rate limited")

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VisionGenerator also accepts an image alongside the prompt
type VisionGenerator interface {
	Generator
	GenerateWithImage(ctx context.Context, prompt, imagePath string) (string, error)
}

// Config holds configuration for a Client
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string
	// Model is the model name, e.g. qwen2.5:7b
	Model string
	// Timeout is the request timeout (default: 120s)
	Timeout time.Duration
	// Temperature is passed through when non-zero
	Temperature float64
}

// Client calls Ollama's /api/generate endpoint
type Client struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature float64
}

var _ VisionGenerator = (*Client)(nil)

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Images  []string `json:"images,omitempty"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewClient creates a Client. Model is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the model name
func (c *Client) Model() string {
	return c.model
}

// Generate implements Generator
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{Model: c.model, Prompt: prompt})
}

// GenerateWithImage sends the image file base64-encoded in the images field
func (c *Client) GenerateWithImage(ctx context.Context, prompt, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return c.generate(ctx, generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	})
}

func (c *Client) generate(ctx context.Context, reqBody generateRequest) (string, error) {
	if c.temperature > 0 {
		reqBody.Options = &options{Temperature: c.temperature}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, c.model)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Response, nil
}
