// Package knowledge is the knowledge-graph processing mode. Each document is
// chunked; concepts come from two models, principles and controversies from a
// reasoning model, and everything is folded into one graph per run.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/extractor"
	"github.com/dshills/docpipe/internal/llm"
)

// ReasoningSampleChars bounds the text handed to the reasoning model
const ReasoningSampleChars = 8000

// DefaultConfidence is used when a model omits a confidence
const DefaultConfidence = 0.5

// Concept is a named idea found in a document
type Concept struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Principle is a foundational truth the text relies on
type Principle struct {
	Name       string  `json:"name"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Controversy is a debated topic with its viewpoints
type Controversy struct {
	Topic      string   `json:"topic"`
	Viewpoints []string `json:"viewpoints"`
	Confidence float64  `json:"confidence"`
}

const conceptPrompt = `Extract the key concepts from the text below. Respond with ONLY a JSON array of objects with fields "name", "description" and "confidence" (a number between 0 and 1).

Text:
%s
JSON:`

const principlePrompt = `Given these concepts: %s

Identify the first principles (foundational truths) that the text below relies on. Respond with ONLY a JSON array of objects with fields "name", "rationale" and "confidence" (a number between 0 and 1).

Text:
%s
JSON:`

const controversyPrompt = `Given these concepts: %s

Identify debates or controversies discussed in the text below. Respond with ONLY a JSON array of objects with fields "topic", "viewpoints" (an array of strings) and "confidence" (a number between 0 and 1).

Text:
%s
JSON:`

// Extractor asks the models for concepts, principles and controversies.
// Unparseable answers yield nothing; model errors are returned.
type Extractor struct {
	primary    llm.Generator
	validation llm.Generator
	reasoning  llm.Generator
	loader     *extractor.JSONLoader
}

// NewExtractor creates an Extractor. validation may be nil, in which case
// concepts come from the primary model alone.
func NewExtractor(primary, validation, reasoning llm.Generator, logger zerolog.Logger) *Extractor {
	return &Extractor{
		primary:    primary,
		validation: validation,
		reasoning:  reasoning,
		loader:     extractor.NewJSONLoader(nil, logger),
	}
}

// Concepts returns the union of both models' concepts keyed by lower-cased
// name. A concept both models report gets the mean confidence, capped at 1.
func (e *Extractor) Concepts(ctx context.Context, text string) ([]Concept, error) {
	first, err := e.concepts(ctx, e.primary, text)
	if err != nil {
		return nil, err
	}
	var second []Concept
	if e.validation != nil {
		second, err = e.concepts(ctx, e.validation, text)
		if err != nil {
			return nil, err
		}
	}

	index := make(map[string]int)
	var out []Concept
	for _, c := range append(first, second...) {
		key := strings.ToLower(c.Name)
		if i, ok := index[key]; ok {
			out[i].Confidence = min(1.0, (out[i].Confidence+c.Confidence)/2)
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}
	return out, nil
}

func (e *Extractor) concepts(ctx context.Context, model llm.Generator, text string) ([]Concept, error) {
	resp, err := model.Generate(ctx, fmt.Sprintf(conceptPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("concept extraction failed: %w", err)
	}

	var items []struct {
		Name        any      `json:"name"`
		Description any      `json:"description"`
		Confidence  *float64 `json:"confidence"`
	}
	if !e.decode(ctx, resp, &items) {
		return nil, nil
	}

	out := make([]Concept, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(stringify(it.Name))
		if name == "" {
			continue
		}
		out = append(out, Concept{
			Name:        name,
			Description: strings.TrimSpace(stringify(it.Description)),
			Confidence:  confidence(it.Confidence),
		})
	}
	return out, nil
}

// Principles extracts first principles from text, using concepts as context
func (e *Extractor) Principles(ctx context.Context, concepts []Concept, text string) ([]Principle, error) {
	if len(concepts) == 0 {
		return nil, nil
	}
	resp, err := e.reasoning.Generate(ctx, fmt.Sprintf(principlePrompt, conceptNames(concepts), sample(text)))
	if err != nil {
		return nil, fmt.Errorf("principle extraction failed: %w", err)
	}

	var items []struct {
		Name       string   `json:"name"`
		Rationale  string   `json:"rationale"`
		Confidence *float64 `json:"confidence"`
	}
	if !e.decode(ctx, resp, &items) {
		return nil, nil
	}

	var out []Principle
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		out = append(out, Principle{
			Name:       name,
			Rationale:  strings.TrimSpace(it.Rationale),
			Confidence: confidence(it.Confidence),
		})
	}
	return out, nil
}

// Controversies finds debated topics that have at least one viewpoint
func (e *Extractor) Controversies(ctx context.Context, concepts []Concept, text string) ([]Controversy, error) {
	if len(concepts) == 0 {
		return nil, nil
	}
	resp, err := e.reasoning.Generate(ctx, fmt.Sprintf(controversyPrompt, conceptNames(concepts), sample(text)))
	if err != nil {
		return nil, fmt.Errorf("controversy detection failed: %w", err)
	}

	var items []struct {
		Topic      string   `json:"topic"`
		Viewpoints []string `json:"viewpoints"`
		Confidence *float64 `json:"confidence"`
	}
	if !e.decode(ctx, resp, &items) {
		return nil, nil
	}

	var out []Controversy
	for _, it := range items {
		topic := strings.TrimSpace(it.Topic)
		if topic == "" || len(it.Viewpoints) == 0 {
			continue
		}
		out = append(out, Controversy{Topic: topic, Viewpoints: it.Viewpoints, Confidence: confidence(it.Confidence)})
	}
	return out, nil
}

func (e *Extractor) decode(ctx context.Context, resp string, v any) bool {
	raw, ok := e.loader.Load(ctx, resp)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func conceptNames(concepts []Concept) string {
	names := make([]string, len(concepts))
	for i, c := range concepts {
		names[i] = fmt.Sprintf("%q", c.Name)
	}
	return strings.Join(names, ", ")
}

func sample(text string) string {
	runes := []rune(text)
	if len(runes) <= ReasoningSampleChars {
		return text
	}
	return string(runes[:ReasoningSampleChars])
}

func confidence(c *float64) float64 {
	if c == nil {
		return DefaultConfidence
	}
	return *c
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
