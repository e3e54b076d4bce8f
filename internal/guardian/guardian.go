// Package guardian decides, per document, whether it is processed fully,
// in limited form, or skipped, based on its domain and current memory pressure.
package guardian

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/metrics"
	"github.com/dshills/docpipe/pkg/types"
)

// Memory thresholds, as used-memory fractions
const (
	CriticalMemoryFraction = 0.9
	LimitedMemoryFraction  = 0.75
)

// ReasonCriticalMemory is attached to skip decisions made under memory pressure
const ReasonCriticalMemory = "critical memory pressure"

// MemoryGauge reports the instantaneous memory-used fraction
type MemoryGauge interface {
	MemoryUsedFraction(ctx context.Context) float64
}

// Guardian turns documents into a processing plan
type Guardian struct {
	classifier Classifier
	memory     MemoryGauge
	high       map[string]struct{}
	medium     map[string]struct{}
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a Guardian
func New(classifier Classifier, memory MemoryGauge, logger zerolog.Logger, m *metrics.Metrics) *Guardian {
	return &Guardian{
		classifier: classifier,
		memory:     memory,
		high:       toSet(HighSuccessDomains),
		medium:     toSet(MediumSuccessDomains),
		logger:     logger,
		metrics:    m,
	}
}

// Plan builds one decision per document, in input order. Memory is read once
// for the whole batch; above the critical fraction every document is skipped
// without classification.
func (g *Guardian) Plan(ctx context.Context, docs []*types.Document) *types.ProcessingPlan {
	plan := &types.ProcessingPlan{Decisions: make([]types.ProcessingDecision, 0, len(docs))}
	memUsed := g.memory.MemoryUsedFraction(ctx)

	g.logger.Info().
		Float64("memory_used", memUsed).
		Int("documents", len(docs)).
		Msg("planning admission")

	for _, doc := range docs {
		if memUsed > CriticalMemoryFraction {
			plan.AddSkip(doc.SourcePath, ReasonCriticalMemory)
			g.record(types.ActionSkip)
			continue
		}

		domain, err := g.classifier.Classify(ctx, doc)
		if err != nil {
			g.logger.Warn().Err(err).Str("path", doc.SourcePath).Msg("classification failed, treating domain as unknown")
			domain = UnknownDomain
		}

		action := g.decide(domain, memUsed)
		switch action {
		case types.ActionLimited:
			plan.AddLimited(doc.SourcePath)
		default:
			plan.AddFull(doc.SourcePath)
		}
		g.record(action)
		g.logger.Debug().Str("path", doc.SourcePath).Str("domain", domain).Str("action", string(action)).Msg("admission decision")
	}

	return plan
}

// decide maps a domain to an action. Unknown and low-success domains get full
// processing so unclassifiable content is never silently degraded.
func (g *Guardian) decide(domain string, memUsed float64) types.Action {
	if _, ok := g.high[domain]; ok {
		return types.ActionFull
	}
	if _, ok := g.medium[domain]; ok {
		if memUsed > LimitedMemoryFraction {
			return types.ActionLimited
		}
		return types.ActionFull
	}
	return types.ActionFull
}

func (g *Guardian) record(action types.Action) {
	g.metrics.RecordAdmission(string(action))
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
