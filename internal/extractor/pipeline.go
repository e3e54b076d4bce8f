package extractor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/pkg/types"
)

// CounterSuccessfulExtractions is the summary counter for extracted documents
const CounterSuccessfulExtractions = "successful_extractions"

// Pipeline is the extract-mode document processor: classify, then run the
// Engine on invoices. Limited documents get a single attempt.
type Pipeline struct {
	classifier *DocumentClassifier
	engine     *Engine
	schema     Schema
	logger     zerolog.Logger
}

// NewPipeline creates the extract-mode processor
func NewPipeline(classifier *DocumentClassifier, engine *Engine, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		engine:     engine,
		schema:     InvoiceSchema{},
		logger:     logger,
	}
}

// Process handles one document. Failures are returned as error results,
// never as a Go error, so one document cannot abort the batch.
func (p *Pipeline) Process(ctx context.Context, doc *types.Document, action types.Action) *types.DocumentResult {
	category, err := p.classifier.Classify(ctx, doc)
	if err != nil {
		return types.Failed(doc, err.Error())
	}
	p.logger.Debug().Str("path", doc.SourcePath).Str("doc_type", string(category)).Msg("document classified")

	result := &types.DocumentResult{
		DocumentID: doc.ID,
		Path:       doc.SourcePath,
		Status:     types.StatusSuccess,
		Category:   string(category),
		Content:    doc.Content,
	}
	if category != CategoryInvoice {
		return result
	}

	extract := p.engine.Extract
	if action == types.ActionLimited {
		extract = p.engine.ExtractOnce
	}
	extracted, err := extract(ctx, doc.Content, p.schema, doc.ImagePath)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", doc.SourcePath).Msg("invoice extraction failed")
		failed := types.Failed(doc, err.Error())
		failed.Category = string(category)
		return failed
	}

	result.Payload = extracted
	result.Counters = map[string]int{CounterSuccessfulExtractions: 1}
	return result
}
