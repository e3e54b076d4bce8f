package extractor

import (
	"bytes"
	"encoding/json"
	"math"
)

// Schema is a target shape for extracted data
type Schema interface {
	// Name identifies the schema in logs and results
	Name() string
	// Definition is the JSON Schema shown to the model
	Definition() string
	// Validate decodes and checks data, returning the typed payload
	Validate(data json.RawMessage) (any, *ValidationError)
}

// Result is the wrapper every extraction response must match
type Result struct {
	ExtractedData   json.RawMessage   `json:"extracted_data"`
	ConfidenceScore float64           `json:"confidence_score"`
	Justifications  map[string]string `json:"justifications"`

	// Schema and Payload are filled in after validation
	Schema   string `json:"schema,omitempty"`
	Payload  any    `json:"-"`
	Attempts int    `json:"attempts,omitempty"`
}

// ResultDefinition is the JSON Schema of Result
const ResultDefinition = `{
  "title": "ExtractionResult",
  "type": "object",
  "properties": {
    "extracted_data": {"type": "object", "description": "The data extracted according to the target schema."},
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 1, "description": "Confidence in the extraction, from 0 to 1."},
    "justifications": {"type": "object", "additionalProperties": {"type": "string"}, "description": "For each extracted field, the evidence that supports it."}
  },
  "required": ["extracted_data", "confidence_score", "justifications"]
}`

type rawResult struct {
	ExtractedData   json.RawMessage   `json:"extracted_data"`
	ConfidenceScore *float64          `json:"confidence_score"`
	Justifications  map[string]string `json:"justifications"`
}

// validateResult checks the wrapper, then the inner payload against schema
func validateResult(data json.RawMessage, schema Schema) (*Result, *ValidationError) {
	// a lone object inside an array is accepted as the object
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil && len(list) == 1 {
		data = list[0]
	}

	var p problems
	var raw rawResult
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		p.addf("result", "invalid: %v", err)
		return nil, p.err()
	}

	trimmed := bytes.TrimSpace(raw.ExtractedData)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		p.addf("extracted_data", "field required")
	case trimmed[0] != '{':
		p.addf("extracted_data", "must be an object")
	}
	switch {
	case raw.ConfidenceScore == nil:
		p.addf("confidence_score", "field required")
	case math.IsNaN(*raw.ConfidenceScore) || *raw.ConfidenceScore < 0 || *raw.ConfidenceScore > 1:
		p.addf("confidence_score", "must be between 0 and 1, got %v", *raw.ConfidenceScore)
	}
	if raw.Justifications == nil {
		p.addf("justifications", "field required")
	}
	if err := p.err(); err != nil {
		return nil, err
	}

	payload, verr := schema.Validate(trimmed)
	if verr != nil {
		return nil, verr
	}

	return &Result{
		ExtractedData:   trimmed,
		ConfidenceScore: *raw.ConfidenceScore,
		Justifications:  raw.Justifications,
		Schema:          schema.Name(),
		Payload:         payload,
	}, nil
}
