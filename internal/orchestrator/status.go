package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dshills/docpipe/internal/breaker"
	"github.com/dshills/docpipe/internal/checkpoint"
	"github.com/dshills/docpipe/internal/monitor"
	"github.com/dshills/docpipe/internal/storage"
)

// CheckpointStatus describes a pending checkpoint
type CheckpointStatus struct {
	Path           string    `json:"path"`
	Mode           string    `json:"mode"`
	ProcessedPaths int       `json:"processed_paths"`
	Succeeded      int       `json:"succeeded"`
	SavedAt        time.Time `json:"saved_at"`
}

// RunRecord is the stored outcome of a past run
type RunRecord struct {
	RunID      string          `json:"run_id"`
	Mode       string          `json:"mode"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// Status is a point-in-time view of the pipeline state for one directory
type Status struct {
	InputDir           string            `json:"input_dir"`
	Running            bool              `json:"running"`
	TrackedFiles       int               `json:"tracked_files"`
	AcceptedEmbeddings int               `json:"accepted_embeddings"`
	Checkpoint         *CheckpointStatus `json:"checkpoint,omitempty"`
	LatestRun          *RunRecord        `json:"latest_run,omitempty"`
	Resources          *monitor.Snapshot `json:"resources,omitempty"`
	Breakers           []breaker.Status  `json:"breakers,omitempty"`
}

// Status reports what is known about inputDir without running anything
func (o *Orchestrator) Status(ctx context.Context, inputDir string) (*Status, error) {
	dir, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", inputDir, err)
	}
	st := &Status{InputDir: dir, Running: o.Running()}

	if store := o.deps.Store; store != nil {
		if st.TrackedFiles, err = store.CountFiles(ctx); err != nil {
			return nil, fmt.Errorf("failed to count fingerprints: %w", err)
		}
		if st.AcceptedEmbeddings, err = store.CountEmbeddings(ctx); err != nil {
			return nil, fmt.Errorf("failed to count embeddings: %w", err)
		}
		last, err := store.LatestRun(ctx, dir)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to load latest run: %w", err)
		default:
			st.LatestRun = &RunRecord{
				RunID:      last.RunID,
				Mode:       last.Mode,
				StartedAt:  last.StartedAt,
				FinishedAt: last.FinishedAt,
			}
			if json.Valid([]byte(last.ReportJSON)) {
				st.LatestRun.Report = json.RawMessage(last.ReportJSON)
			}
		}
	}

	if cp, ok := checkpoint.Inspect(o.cfg.CheckpointDir, dir); ok {
		st.Checkpoint = &CheckpointStatus{
			Path:           checkpoint.FilePath(o.cfg.CheckpointDir, dir),
			Mode:           cp.Mode,
			ProcessedPaths: len(cp.ProcessedPaths),
			Succeeded:      cp.Summary.Succeeded,
			SavedAt:        cp.SavedAt,
		}
	}

	if o.deps.Monitor != nil {
		if snap, ok := o.deps.Monitor.Latest(); ok {
			st.Resources = &snap
		}
	}
	if o.deps.Breakers != nil {
		st.Breakers = o.deps.Breakers.Statuses()
	}
	return st, nil
}
