package knowledge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/chunker"
	"github.com/dshills/docpipe/pkg/types"
)

// Summary counter names
const (
	CounterConcepts      = "concepts"
	CounterPrinciples    = "principles"
	CounterControversies = "controversies"
)

// ReasonNoConcepts marks a document that yielded nothing
const ReasonNoConcepts = "no concepts extracted from any chunk"

// DocumentKnowledge is what one document contributes to the graph
type DocumentKnowledge struct {
	Concepts      []Concept     `json:"concepts"`
	Principles    []Principle   `json:"principles"`
	Controversies []Controversy `json:"controversies"`
}

// Pipeline is the knowledge-mode document processor. It owns the run's
// graph; Absorb must only be called from one goroutine at a time.
type Pipeline struct {
	extractor *Extractor
	chunker   *chunker.Chunker
	graph     *Graph
	logger    zerolog.Logger
}

// NewPipeline creates the knowledge-mode processor
func NewPipeline(ex *Extractor, ch *chunker.Chunker, logger zerolog.Logger) *Pipeline {
	return &Pipeline{extractor: ex, chunker: ch, graph: NewGraph(), logger: logger}
}

// Graph returns the run graph
func (p *Pipeline) Graph() *Graph {
	return p.graph
}

// Process chunks the document and extracts from each chunk. Limited
// documents get concepts only; the reasoning model is not called for them.
func (p *Pipeline) Process(ctx context.Context, doc *types.Document, action types.Action) *types.DocumentResult {
	window := p.chunker.OptimalWindowSize(doc.Sample(p.chunker.Window()))
	chunks := p.chunker.WithWindow(window).Chunk(doc.Content)

	var all DocumentKnowledge
	yielded := false
	for _, chunk := range chunks {
		concepts, err := p.extractor.Concepts(ctx, chunk)
		if err != nil {
			return types.Failed(doc, err.Error())
		}
		if len(concepts) == 0 {
			continue
		}
		yielded = true
		all.Concepts = append(all.Concepts, concepts...)

		if action == types.ActionLimited {
			continue
		}
		principles, err := p.extractor.Principles(ctx, concepts, chunk)
		if err != nil {
			return types.Failed(doc, err.Error())
		}
		controversies, err := p.extractor.Controversies(ctx, concepts, chunk)
		if err != nil {
			return types.Failed(doc, err.Error())
		}
		all.Principles = append(all.Principles, principles...)
		all.Controversies = append(all.Controversies, controversies...)
	}

	if !yielded {
		return &types.DocumentResult{
			DocumentID: doc.ID,
			Path:       doc.SourcePath,
			Status:     types.StatusSkipped,
			Reason:     ReasonNoConcepts,
			Content:    doc.Content,
		}
	}

	k := &DocumentKnowledge{
		Concepts:      uniqueBy(all.Concepts, func(c Concept) string { return c.Name }),
		Principles:    uniqueBy(all.Principles, func(p Principle) string { return p.Name }),
		Controversies: uniqueBy(all.Controversies, func(c Controversy) string { return c.Topic }),
	}
	quality := Quality(k.Concepts).AvgConceptConfidence

	return &types.DocumentResult{
		DocumentID: doc.ID,
		Path:       doc.SourcePath,
		Status:     types.StatusSuccess,
		Content:    doc.Content,
		Quality:    &quality,
		Payload:    k,
		Counters: map[string]int{
			CounterConcepts:      len(k.Concepts),
			CounterPrinciples:    len(k.Principles),
			CounterControversies: len(k.Controversies),
		},
	}
}

// Absorb folds a successful result into the graph
func (p *Pipeline) Absorb(result *types.DocumentResult) {
	if result.Status != types.StatusSuccess {
		return
	}
	k, ok := result.Payload.(*DocumentKnowledge)
	if !ok {
		return
	}
	p.graph.AddConcepts(k.Concepts, result.DocumentID)
	p.graph.AddPrinciples(k.Principles, result.DocumentID)
	p.graph.AddControversies(k.Controversies, result.DocumentID)
	p.graph.MapDependencies(k.Concepts, k.Principles)
}

// Snapshot serializes the graph for a checkpoint or report
func (p *Pipeline) Snapshot() (json.RawMessage, error) {
	return json.Marshal(p.graph)
}

// Restore loads a graph snapshot taken by Snapshot
func (p *Pipeline) Restore(data json.RawMessage) error {
	if err := p.graph.UnmarshalJSON(data); err != nil {
		return err
	}
	p.logger.Info().Int("nodes", p.graph.NodeCount()).Msg("restored knowledge graph")
	return nil
}

// uniqueBy keeps the last item for each lower-cased key, in first-seen order
func uniqueBy[T any](items []T, key func(T) string) []T {
	index := make(map[string]int)
	var out []T
	for _, it := range items {
		k := strings.ToLower(key(it))
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}
