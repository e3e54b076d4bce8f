package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/docpipe/internal/breaker"
)

// ErrVisionUnsupported is returned when the wrapped generator cannot take images
var ErrVisionUnsupported = errors.New("generator does not support images")

// Guarded throttles calls through a Limiter and isolates failures behind a
// Breaker. A nil limiter or breaker is skipped.
type Guarded struct {
	gen     Generator
	breaker *breaker.Breaker
	limiter *Limiter
}

var _ VisionGenerator = (*Guarded)(nil)

// NewGuarded wraps gen
func NewGuarded(gen Generator, b *breaker.Breaker, limiter *Limiter) *Guarded {
	return &Guarded{gen: gen, breaker: b, limiter: limiter}
}

// Generate implements Generator
func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	return g.call(ctx, func() (string, error) {
		return g.gen.Generate(ctx, prompt)
	})
}

// GenerateWithImage implements VisionGenerator
func (g *Guarded) GenerateWithImage(ctx context.Context, prompt, imagePath string) (string, error) {
	vision, ok := g.gen.(VisionGenerator)
	if !ok {
		return "", ErrVisionUnsupported
	}
	return g.call(ctx, func() (string, error) {
		return vision.GenerateWithImage(ctx, prompt, imagePath)
	})
}

func (g *Guarded) call(ctx context.Context, fn func() (string, error)) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	wrapped := func() (string, error) {
		out, err := fn()
		if errors.Is(err, ErrRateLimited) && g.limiter != nil {
			g.limiter.Backoff(DefaultBackoff)
		}
		return out, err
	}

	if g.breaker == nil {
		return wrapped()
	}
	return breaker.Do(g.breaker, wrapped)
}

// Breaker names for the model roles
const (
	RolePrimary    = "model.primary"
	RoleValidation = "model.validation"
	RoleReasoning  = "model.reasoning"
)

// SetConfig describes the three model roles on one backend
type SetConfig struct {
	BaseURL    string
	Primary    string
	Validation string
	Reasoning  string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
}

// Set holds the guarded model for each role. All roles share one limiter
// because they share one backend; each role has its own breaker.
type Set struct {
	Primary    *Guarded
	Validation *Guarded
	Reasoning  *Guarded
}

// NewSet builds the three role clients, taking breakers from reg
func NewSet(cfg SetConfig, reg *breaker.Registry) (*Set, error) {
	limiter := NewLimiter(cfg.RateLimit, cfg.RateBurst)

	build := func(role, model string) (*Guarded, error) {
		client, err := NewClient(Config{BaseURL: cfg.BaseURL, Model: model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s model client: %w", role, err)
		}
		var b *breaker.Breaker
		if reg != nil {
			b = reg.Get(role)
		}
		return NewGuarded(client, b, limiter), nil
	}

	primary, err := build(RolePrimary, cfg.Primary)
	if err != nil {
		return nil, err
	}
	validation, err := build(RoleValidation, cfg.Validation)
	if err != nil {
		return nil, err
	}
	reasoning, err := build(RoleReasoning, cfg.Reasoning)
	if err != nil {
		return nil, err
	}

	return &Set{Primary: primary, Validation: validation, Reasoning: reasoning}, nil
}
