package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpipe/internal/metrics"
	"github.com/dshills/docpipe/pkg/types"
)

const validResponse = `{
  "extracted_data": {
    "vendor_name": "Acme Corp",
    "invoice_number": "INV-001",
    "line_items": [
      {"description": "Widget", "quantity": 2, "unit_price": 10.50, "total": 21.00},
      {"description": "Gadget", "quantity": 1, "unit_price": "4.00", "total": "$4.00"}
    ],
    "total_amount": 25.00
  },
  "confidence_score": 0.92,
  "justifications": {"vendor_name": "Acme Corp in the letterhead"}
}`

const badLineItemResponse = `{
  "extracted_data": {
    "vendor_name": "Acme Corp",
    "line_items": [{"description": "Widget", "quantity": 2, "unit_price": 10.00, "total": 25.00}],
    "total_amount": 25.00
  },
  "confidence_score": 0.8,
  "justifications": {}
}`

// scriptedModel replays responses in order, repeating the last one
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	images    []string
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string) (string, error) {
	return m.next(prompt, "")
}

func (m *scriptedModel) GenerateWithImage(ctx context.Context, prompt, imagePath string) (string, error) {
	return m.next(prompt, imagePath)
}

func (m *scriptedModel) next(prompt, image string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.images = append(m.images, image)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.prompts) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func TestEngine_SuccessOnFirstAttempt(t *testing.T) {
	model := &scriptedModel{responses: []string{validResponse}}
	engine := New(model, nil, Options{MaxRetries: DefaultMaxRetries})

	res, err := engine.Extract(context.Background(), "invoice text", InvoiceSchema{}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "invoice", res.Schema)
	assert.InDelta(t, 0.92, res.ConfidenceScore, 1e-9)

	inv, ok := res.Payload.(*Invoice)
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", inv.VendorName)
	require.NotNil(t, inv.InvoiceNumber)
	assert.Equal(t, "INV-001", *inv.InvoiceNumber)
	assert.Len(t, inv.LineItems, 2)
	assert.InDelta(t, 25.0, float64(inv.TotalAmount), 1e-9)

	prompt := model.prompts[0]
	assert.Contains(t, prompt, "Result Schema")
	assert.Contains(t, prompt, `"title": "Invoice"`)
	assert.Contains(t, prompt, "invoice text")
	assert.True(t, strings.HasSuffix(prompt, "JSON Output:"))
}

func TestEngine_ParseFailureThenSuccess(t *testing.T) {
	model := &scriptedModel{responses: []string{"I could not find anything", validResponse}}
	var kinds []string
	engine := New(model, nil, Options{
		MaxRetries: 2,
		OnAttempt:  func(a Attempt) { kinds = append(kinds, a.Outcome.Kind()) },
	})

	res, err := engine.Extract(context.Background(), "text", InvoiceSchema{}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"parse_failure", "ok"}, kinds)
	assert.Contains(t, model.prompts[1], "not valid JSON")
}

func TestEngine_LineItemMismatchIsTerminal(t *testing.T) {
	model := &scriptedModel{responses: []string{badLineItemResponse}}
	m := metrics.New()
	var kinds []string
	engine := New(model, nil, Options{
		MaxRetries: 2,
		Metrics:    m,
		OnAttempt:  func(a Attempt) { kinds = append(kinds, a.Outcome.Kind()) },
	})

	_, err := engine.Extract(context.Background(), "text", InvoiceSchema{}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "does not match quantity * unit_price")

	assert.Equal(t, 3, model.calls())
	assert.Equal(t, []string{"validation_failure", "validation_failure", "validation_failure"}, kinds)
	assert.Contains(t, model.prompts[1], "failed validation")
	assert.Contains(t, model.prompts[2], "line_items.0.total")
}

func TestEngine_ParseFailureIsTerminal(t *testing.T) {
	model := &scriptedModel{responses: []string{"nope"}}
	engine := New(model, nil, Options{MaxRetries: 1})

	_, err := engine.Extract(context.Background(), "text", InvoiceSchema{}, "")
	assert.ErrorIs(t, err, ErrParse)
	assert.Equal(t, 2, model.calls())
}

func TestEngine_ModelErrorStopsLoop(t *testing.T) {
	model := &scriptedModel{err: errors.New("connection refused")}
	engine := New(model, nil, Options{MaxRetries: 2})

	_, err := engine.Extract(context.Background(), "text", InvoiceSchema{}, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrParse)
	assert.Equal(t, 1, model.calls())
}

func TestEngine_VisionPrompt(t *testing.T) {
	model := &scriptedModel{responses: []string{validResponse}}
	engine := New(model, nil, Options{})

	_, err := engine.Extract(context.Background(), "", InvoiceSchema{}, "/in/receipt.png")
	require.NoError(t, err)
	assert.Equal(t, "/in/receipt.png", model.images[0])
	assert.Contains(t, model.prompts[0], "document image")
	assert.NotContains(t, model.prompts[0], "Text:\n---")
}

func TestEngine_ExtractOnce(t *testing.T) {
	model := &scriptedModel{responses: []string{"nope"}}
	engine := New(model, nil, Options{MaxRetries: 5})

	_, err := engine.ExtractOnce(context.Background(), "text", InvoiceSchema{}, "")
	assert.ErrorIs(t, err, ErrParse)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, 5, engine.MaxRetries())
}

func TestJSONLoader(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		sanitized string
		want      string
		ok        bool
	}{
		{"direct object", `{"a":1}`, "", `{"a":1}`, true},
		{"direct array", ` [1,2] `, "", `[1,2]`, true},
		{"sanitizer cleans", "Sure! here: {a:1}", `{"a":1}`, `{"a":1}`, true},
		{"slice after sanitizer", "junk", "Here you go: {\"a\":2} done", `{"a":2}`, true},
		{"slice array", "junk", "result [1, 2] end", `[1, 2]`, true},
		{"nothing", "no json here", "still none", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sanitizer := &scriptedModel{responses: []string{tt.sanitized}}
			loader := NewJSONLoader(sanitizer, zerolog.Nop())

			raw, ok := loader.Load(context.Background(), tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.JSONEq(t, tt.want, string(raw))
			}
		})
	}
}

func TestJSONLoader_DirectParseSkipsSanitizer(t *testing.T) {
	sanitizer := &scriptedModel{responses: []string{"{}"}}
	loader := NewJSONLoader(sanitizer, zerolog.Nop())

	_, ok := loader.Load(context.Background(), `{"a":1}`)
	require.True(t, ok)
	assert.Equal(t, 0, sanitizer.calls())
}

func TestJSONLoader_SanitizerErrorFallsBackToSlice(t *testing.T) {
	sanitizer := &scriptedModel{err: errors.New("down")}
	loader := NewJSONLoader(sanitizer, zerolog.Nop())

	raw, ok := loader.Load(context.Background(), "prefix {\"a\":1} suffix")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestValidateResult_Wrapper(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		problem string
	}{
		{"missing confidence", `{"extracted_data":{},"justifications":{}}`, "confidence_score: field required"},
		{"confidence out of range", `{"extracted_data":{},"confidence_score":1.5,"justifications":{}}`, "between 0 and 1"},
		{"data not object", `{"extracted_data":[1],"confidence_score":0.5,"justifications":{}}`, "must be an object"},
		{"missing data", `{"confidence_score":0.5,"justifications":{}}`, "extracted_data: field required"},
		{"missing justifications", `{"extracted_data":{},"confidence_score":0.5}`, "justifications: field required"},
		{"not an object", `"text"`, "result: invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verr := validateResult([]byte(tt.input), InvoiceSchema{})
			require.NotNil(t, verr)
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}
}

func TestValidateResult_SingleElementArray(t *testing.T) {
	res, verr := validateResult([]byte("["+validResponse+"]"), InvoiceSchema{})
	require.Nil(t, verr)
	assert.Equal(t, "invoice", res.Schema)
}

func TestInvoiceSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		problem string
	}{
		{
			name:  "valid",
			input: `{"vendor_name":"A","line_items":[{"description":"x","quantity":1,"unit_price":1,"total":1}],"total_amount":1}`,
		},
		{
			name:  "within tolerance",
			input: `{"vendor_name":"A","line_items":[{"description":"x","quantity":1,"unit_price":1,"total":1.02}],"total_amount":1.02}`,
		},
		{
			name:    "line total beyond tolerance",
			input:   `{"vendor_name":"A","line_items":[{"description":"x","quantity":1,"unit_price":1,"total":1.03}],"total_amount":1.03}`,
			problem: "line_items.0.total",
		},
		{
			name:    "invoice total mismatch",
			input:   `{"vendor_name":"A","line_items":[{"description":"x","quantity":2,"unit_price":5,"total":10}],"total_amount":12}`,
			problem: "does not match the sum of line items",
		},
		{
			name:    "missing vendor",
			input:   `{"line_items":[{"description":"x","quantity":1,"unit_price":1,"total":1}],"total_amount":1}`,
			problem: "vendor_name: field required",
		},
		{
			name:    "no line items",
			input:   `{"vendor_name":"A","line_items":[],"total_amount":0}`,
			problem: "at least one line item",
		},
		{
			name:    "missing line item field",
			input:   `{"vendor_name":"A","line_items":[{"description":"x","quantity":1,"total":1}],"total_amount":1}`,
			problem: "line_items.0.unit_price: field required",
		},
		{
			name:    "missing total",
			input:   `{"vendor_name":"A","line_items":[{"description":"x","quantity":1,"unit_price":1,"total":1}]}`,
			problem: "total_amount: field required",
		},
		{
			name:    "bad amount",
			input:   `{"vendor_name":"A","line_items":[{"description":"x","quantity":1,"unit_price":"abc","total":1}],"total_amount":1}`,
			problem: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, verr := InvoiceSchema{}.Validate([]byte(tt.input))
			if tt.problem == "" {
				require.Nil(t, verr)
				assert.IsType(t, &Invoice{}, payload)
				return
			}
			require.NotNil(t, verr)
			assert.Contains(t, verr.Error(), tt.problem)
			assert.ErrorIs(t, verr, ErrValidation)
		})
	}
}

func TestDocumentClassifier(t *testing.T) {
	model := &scriptedModel{responses: []string{" Invoice. "}}
	c, err := NewDocumentClassifier(model, 8)
	require.NoError(t, err)

	doc := types.NewDocument("/in/a.pdf", strings.Repeat("x", 5000))
	cat, err := c.Classify(context.Background(), &doc)
	require.NoError(t, err)
	assert.Equal(t, CategoryInvoice, cat)

	cat, err = c.Classify(context.Background(), &doc)
	require.NoError(t, err)
	assert.Equal(t, CategoryInvoice, cat)
	assert.Equal(t, 1, model.calls())
	assert.LessOrEqual(t, len(model.prompts[0]), ClassifierSampleChars+len(documentClassificationPrompt))
}

func TestDocumentClassifier_Images(t *testing.T) {
	model := &scriptedModel{responses: []string{"resume"}}
	c, err := NewDocumentClassifier(model, 8)
	require.NoError(t, err)

	receipt := types.Document{ID: "1", SourcePath: "/in/Receipt-042.jpg", ImagePath: "/in/Receipt-042.jpg"}
	photo := types.Document{ID: "2", SourcePath: "/in/cat.png", ImagePath: "/in/cat.png"}

	cat, err := c.Classify(context.Background(), &receipt)
	require.NoError(t, err)
	assert.Equal(t, CategoryInvoice, cat)

	cat, err = c.Classify(context.Background(), &photo)
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, cat)
	assert.Equal(t, 0, model.calls())
}

func TestDocumentClassifier_ErrorNotCached(t *testing.T) {
	model := &scriptedModel{err: errors.New("down")}
	c, err := NewDocumentClassifier(model, 8)
	require.NoError(t, err)

	doc := types.NewDocument("/in/a.txt", "text")
	_, err = c.Classify(context.Background(), &doc)
	require.Error(t, err)
	_, err = c.Classify(context.Background(), &doc)
	require.Error(t, err)
	assert.Equal(t, 2, model.calls())
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryResume, ParseCategory("RESUME"))
	assert.Equal(t, CategoryInvoice, ParseCategory("'invoice'"))
	assert.Equal(t, CategoryOther, ParseCategory("receipt"))
	assert.Equal(t, CategoryOther, ParseCategory(""))
}

func TestPipeline_Process(t *testing.T) {
	t.Run("non-invoice is not extracted", func(t *testing.T) {
		classify := &scriptedModel{responses: []string{"resume"}}
		extract := &scriptedModel{responses: []string{validResponse}}
		p := newTestPipeline(t, classify, extract)

		doc := types.NewDocument("/in/cv.txt", "Jane Doe, engineer")
		res := p.Process(context.Background(), &doc, types.ActionFull)
		assert.Equal(t, types.StatusSuccess, res.Status)
		assert.Equal(t, "resume", res.Category)
		assert.Nil(t, res.Payload)
		assert.Equal(t, doc.Content, res.Content)
		assert.Equal(t, 0, extract.calls())
	})

	t.Run("invoice is extracted", func(t *testing.T) {
		classify := &scriptedModel{responses: []string{"invoice"}}
		extract := &scriptedModel{responses: []string{validResponse}}
		p := newTestPipeline(t, classify, extract)

		doc := types.NewDocument("/in/inv.txt", "Invoice INV-001")
		res := p.Process(context.Background(), &doc, types.ActionFull)
		assert.Equal(t, types.StatusSuccess, res.Status)
		assert.Equal(t, 1, res.Counters[CounterSuccessfulExtractions])
		assert.IsType(t, &Result{}, res.Payload)
	})

	t.Run("failed extraction is an error result", func(t *testing.T) {
		classify := &scriptedModel{responses: []string{"invoice"}}
		extract := &scriptedModel{responses: []string{badLineItemResponse}}
		p := newTestPipeline(t, classify, extract)

		doc := types.NewDocument("/in/inv.txt", "Invoice")
		res := p.Process(context.Background(), &doc, types.ActionFull)
		assert.Equal(t, types.StatusError, res.Status)
		assert.Equal(t, "invoice", res.Category)
		assert.Equal(t, doc.Content, res.Content)
		assert.Contains(t, res.Reason, "validation")
		assert.Equal(t, 3, extract.calls())
	})

	t.Run("limited gets one attempt", func(t *testing.T) {
		classify := &scriptedModel{responses: []string{"invoice"}}
		extract := &scriptedModel{responses: []string{badLineItemResponse}}
		p := newTestPipeline(t, classify, extract)

		doc := types.NewDocument("/in/inv.txt", "Invoice")
		res := p.Process(context.Background(), &doc, types.ActionLimited)
		assert.Equal(t, types.StatusError, res.Status)
		assert.Equal(t, 1, extract.calls())
	})

	t.Run("classifier error", func(t *testing.T) {
		classify := &scriptedModel{err: errors.New("down")}
		p := newTestPipeline(t, classify, &scriptedModel{responses: []string{"{}"}})

		doc := types.NewDocument("/in/a.txt", "text")
		res := p.Process(context.Background(), &doc, types.ActionFull)
		assert.Equal(t, types.StatusError, res.Status)
	})
}

func newTestPipeline(t *testing.T, classify, extract *scriptedModel) *Pipeline {
	t.Helper()
	c, err := NewDocumentClassifier(classify, 8)
	require.NoError(t, err)
	return NewPipeline(c, New(extract, nil, Options{MaxRetries: 2}), zerolog.Nop())
}
