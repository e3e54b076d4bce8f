package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dshills/docpipe/internal/checkpoint"
	"github.com/dshills/docpipe/internal/extractor"
	"github.com/dshills/docpipe/internal/knowledge"
	"github.com/dshills/docpipe/pkg/types"
)

// MessageNothingToProcess is the report message when no document needed work
const MessageNothingToProcess = "No new documents to process"

// Failure is one document that ended in an error result
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report is the outcome of one run. The mode-specific counters are pointers
// so a report only carries the fields of its own mode.
type Report struct {
	RunID      string     `json:"run_id"`
	InputDir   string     `json:"input_dir"`
	Mode       types.Mode `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMS int64      `json:"duration_ms"`

	FilesValidated           int `json:"files_validated"`
	FilesChanged             int `json:"files_changed"`
	FilesProcessedAfterDedup int `json:"files_processed_after_dedup"`

	// extract mode
	SuccessfulExtractions *int `json:"successful_extractions,omitempty"`

	// knowledge mode
	ConceptsExtracted   *int            `json:"concepts_extracted,omitempty"`
	PrinciplesExtracted *int            `json:"principles_extracted,omitempty"`
	ControversiesFound  *int            `json:"controversies_found,omitempty"`
	AverageQualityScore *float64        `json:"average_quality_score,omitempty"`
	GraphJSON           json.RawMessage `json:"graph_json,omitempty"`

	Summary           checkpoint.Summary         `json:"summary"`
	Issues            int                        `json:"issues"`
	DuplicatesDropped int                        `json:"duplicates_dropped"`
	Skipped           []types.ProcessingDecision `json:"skipped,omitempty"`
	Failures          []Failure                  `json:"failures,omitempty"`
	Warnings          []string                   `json:"warnings,omitempty"`
	Workers           int                        `json:"workers,omitempty"`
	Resumed           bool                       `json:"resumed,omitempty"`
	Interrupted       bool                       `json:"interrupted,omitempty"`
	Message           string                     `json:"message,omitempty"`
}

// fillCounters copies the mode's aggregates out of the summary
func (r *Report) fillCounters(graph json.RawMessage) {
	s := &r.Summary
	switch r.Mode {
	case types.ModeKnowledge:
		concepts := s.Counter(knowledge.CounterConcepts)
		principles := s.Counter(knowledge.CounterPrinciples)
		controversies := s.Counter(knowledge.CounterControversies)
		quality := knowledge.Round3(s.AverageQuality())
		r.ConceptsExtracted = &concepts
		r.PrinciplesExtracted = &principles
		r.ControversiesFound = &controversies
		r.AverageQualityScore = &quality
		r.GraphJSON = graph
	default:
		n := s.Counter(extractor.CounterSuccessfulExtractions)
		r.SuccessfulExtractions = &n
	}
}

func (r *Report) addFailure(res *types.DocumentResult) {
	r.Failures = append(r.Failures, Failure{Path: res.Path, Reason: res.Reason})
}

func (r *Report) sortFailures() {
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Path < r.Failures[j].Path })
}

// WriteReport writes the report as indented JSON, creating parent directories
func WriteReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
