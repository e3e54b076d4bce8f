package types

// Status is the terminal state of one document's processing
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// DocumentResult is what a worker hands back to the orchestrator for one
// document. Payload carries the mode-specific output.
type DocumentResult struct {
	DocumentID string `json:"doc_id"`
	Path       string `json:"path"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Category   string `json:"doc_type,omitempty"`
	// Content is what the versioner fingerprints after processing. Failed
	// documents keep the content they were read with, so an unchanged file
	// is not retried on the next run.
	Content string `json:"-"`
	// Counters are summed into the run summary
	Counters map[string]int `json:"counters,omitempty"`
	// Quality is set when the mode scores documents
	Quality *float64 `json:"quality,omitempty"`
	Payload any      `json:"payload,omitempty"`
}

// Failed builds an error result for doc
func Failed(doc *Document, reason string) *DocumentResult {
	return &DocumentResult{
		DocumentID: doc.ID,
		Path:       doc.SourcePath,
		Status:     StatusError,
		Reason:     reason,
		Content:    doc.Content,
	}
}
