// Package extractor turns document text into validated structured data. The
// Engine drives a bounded retry loop against a generation model; every
// response is parsed into an Outcome and the loop switches on its variant.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/llm"
	"github.com/dshills/docpipe/internal/metrics"
)

// DefaultMaxRetries gives three attempts in total
const DefaultMaxRetries = 2

// Attempt is one generate, parse and validate cycle. Attempts are not persisted.
type Attempt struct {
	Number   int
	Prompt   string
	Response string
	Outcome  Outcome
}

// Options configures an Engine
type Options struct {
	// MaxRetries is the number of retries after the first attempt. Negative
	// means no retries.
	MaxRetries int
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	// OnAttempt observes every attempt
	OnAttempt func(Attempt)
}

// Engine extracts schema-shaped data with validation and self-correction
type Engine struct {
	model      llm.VisionGenerator
	loader     *JSONLoader
	maxRetries int
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	onAttempt  func(Attempt)
}

// New creates an Engine. model answers the extraction prompts; sanitizer,
// which may be nil, cleans up responses that are not valid JSON.
func New(model llm.VisionGenerator, sanitizer llm.Generator, opts Options) *Engine {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Engine{
		model:      model,
		loader:     NewJSONLoader(sanitizer, opts.Logger),
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		onAttempt:  opts.OnAttempt,
	}
}

// MaxRetries returns the configured retry count
func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

// Extract runs the retry loop. When imagePath is set the vision variant of
// the model is used and text serves as an OCR hint. A model call error ends
// the loop at once; parse and validation failures are retried.
func (e *Engine) Extract(ctx context.Context, text string, schema Schema, imagePath string) (*Result, error) {
	return e.extract(ctx, text, schema, imagePath, e.maxRetries)
}

// ExtractOnce is Extract without retries
func (e *Engine) ExtractOnce(ctx context.Context, text string, schema Schema, imagePath string) (*Result, error) {
	return e.extract(ctx, text, schema, imagePath, 0)
}

func (e *Engine) extract(ctx context.Context, text string, schema Schema, imagePath string, maxRetries int) (*Result, error) {
	prompt := buildPrompt(text, schema, imagePath != "")
	attempts := maxRetries + 1

	for n := 1; n <= attempts; n++ {
		var response string
		var err error
		if imagePath != "" {
			response, err = e.model.GenerateWithImage(ctx, prompt, imagePath)
		} else {
			response, err = e.model.Generate(ctx, prompt)
		}
		if err != nil {
			e.metrics.RecordAttempt("model_error")
			return nil, fmt.Errorf("model call failed on attempt %d: %w", n, err)
		}

		outcome := e.Parse(ctx, response, schema)
		e.metrics.RecordAttempt(outcome.Kind())
		if e.onAttempt != nil {
			e.onAttempt(Attempt{Number: n, Prompt: prompt, Response: response, Outcome: outcome})
		}
		last := n == attempts

		switch o := outcome.(type) {
		case Ok:
			o.Result.Attempts = n
			return o.Result, nil
		case ParseFailure:
			e.logger.Debug().Int("attempt", n).Str("schema", schema.Name()).Msg("response was not JSON")
			if last {
				return nil, fmt.Errorf("%w after %d attempts", ErrParse, n)
			}
			prompt += parseCorrection
		case ValidationFailure:
			e.logger.Debug().Int("attempt", n).Str("schema", schema.Name()).Err(o.Err).Msg("response failed validation")
			if last {
				return nil, fmt.Errorf("after %d attempts: %w", n, o.Err)
			}
			prompt += fmt.Sprintf(validationCorrection, o.Err.Error())
		default:
			return nil, fmt.Errorf("unexpected outcome %T", outcome)
		}
	}

	return nil, fmt.Errorf("%w: no attempts made", ErrParse)
}

// Parse classifies a raw model response
func (e *Engine) Parse(ctx context.Context, response string, schema Schema) Outcome {
	data, ok := e.loader.Load(ctx, response)
	if !ok {
		return ParseFailure{Raw: response}
	}
	result, verr := validateResult(data, schema)
	if verr != nil {
		return ValidationFailure{Err: verr}
	}
	return Ok{Result: result}
}

const (
	textIntro = "You are an expert data extractor. Your task is to extract structured data " +
		"from the provided text based on the target schema, and then wrap it in the " +
		"provided result schema. For justifications, briefly quote the text " +
		"that supports the extracted value. Respond with ONLY the JSON object that " +
		"matches the result schema."

	visionIntro = "You are an expert data extractor analyzing a document image. " +
		"Your task is to extract structured data from the image based on the " +
		"target schema, and then wrap it in the provided result schema. " +
		"The provided text is an OCR transcript of the image; use it to improve accuracy, " +
		"but trust the visual information in the image first. For justifications, briefly " +
		"describe the location of the data on the page (e.g., 'top right corner'). " +
		"Respond with ONLY the JSON object that matches the result schema."

	parseCorrection = "\n\nPrevious attempt failed. The output was not valid JSON. Please try again, " +
		"ensuring the output is a single, valid JSON object that conforms to the Result Schema."

	validationCorrection = "\n\nPrevious attempt failed validation with the following errors:\n%s\n" +
		"Please re-examine the document, target schema, and result schema, then provide a corrected JSON object.\n\nJSON Output:"
)

func buildPrompt(text string, schema Schema, vision bool) string {
	var b strings.Builder
	if vision {
		b.WriteString(visionIntro)
	} else {
		b.WriteString(textIntro)
	}
	b.WriteString("\n\nResult Schema:\n---\n")
	b.WriteString(ResultDefinition)
	b.WriteString("\n---\n\nTarget Data Schema (to be placed inside 'extracted_data' field):\n---\n")
	b.WriteString(schema.Definition())
	b.WriteString("\n---\n\n")
	if text != "" {
		b.WriteString("Text:\n---\n")
		b.WriteString(text)
		b.WriteString("\n---\n\n")
	}
	b.WriteString("JSON Output:")
	return b.String()
}
