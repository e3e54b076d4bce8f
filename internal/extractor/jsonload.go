package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/llm"
)

const sanitizerPrompt = `You are a JSON cleaning utility. Extract the single valid, parseable JSON value (an object or an array) from the text below. Respond with ONLY the JSON and nothing else. If no JSON is present, respond with {}.

Text to clean:
---
%s
---
Valid JSON:`

// JSONLoader recovers JSON from model output in three stages: a direct
// parse, a pass through a small sanitizer model, then the outermost
// bracketed span of the sanitized text. A nil sanitizer skips stage two.
type JSONLoader struct {
	sanitizer llm.Generator
	logger    zerolog.Logger
}

// NewJSONLoader creates a loader
func NewJSONLoader(sanitizer llm.Generator, logger zerolog.Logger) *JSONLoader {
	return &JSONLoader{sanitizer: sanitizer, logger: logger}
}

// Load returns the decoded JSON value and whether any stage succeeded
func (l *JSONLoader) Load(ctx context.Context, text string) (json.RawMessage, bool) {
	if raw, ok := decode(text); ok {
		return raw, true
	}

	cleaned := text
	if l.sanitizer != nil {
		out, err := l.sanitizer.Generate(ctx, fmt.Sprintf(sanitizerPrompt, text))
		if err != nil {
			l.logger.Warn().Err(err).Msg("JSON sanitizer failed")
		} else {
			cleaned = out
			if raw, ok := decode(cleaned); ok {
				return raw, true
			}
		}
	}

	return sliceOutermost(cleaned)
}

func decode(text string) (json.RawMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" || !json.Valid([]byte(text)) {
		return nil, false
	}
	return json.RawMessage(text), true
}

// sliceOutermost tries the span from the first opening bracket to the last
// matching closing bracket, objects before arrays
func sliceOutermost(text string) (json.RawMessage, bool) {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start == -1 || end <= start {
			continue
		}
		if raw, ok := decode(text[start : end+1]); ok {
			return raw, true
		}
	}
	return nil, false
}
