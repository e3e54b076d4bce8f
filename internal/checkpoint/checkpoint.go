// Package checkpoint persists run progress so an interrupted ingest can
// resume. A checkpoint is versioned JSON holding the processed path set, the
// aggregate summary and, in knowledge mode, a graph snapshot.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/pkg/types"
)

// FormatVersion is bumped whenever State changes incompatibly
const FormatVersion = 1

// DefaultEvery is how many successful documents pass between saves
const DefaultEvery = 5

// Summary aggregates per-document results. Every field only grows and Add
// is commutative, so the summary does not depend on completion order.
type Summary struct {
	Processed    int            `json:"processed"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	Skipped      int            `json:"skipped"`
	Counters     map[string]int `json:"counters,omitempty"`
	QualitySum   float64        `json:"quality_sum,omitempty"`
	QualityCount int            `json:"quality_count,omitempty"`
}

// Add folds one result into the summary
func (s *Summary) Add(r *types.DocumentResult) {
	s.Processed++
	switch r.Status {
	case types.StatusSuccess:
		s.Succeeded++
	case types.StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
	if r.Status != types.StatusSuccess {
		return
	}
	for k, v := range r.Counters {
		if s.Counters == nil {
			s.Counters = make(map[string]int)
		}
		s.Counters[k] += v
	}
	if r.Quality != nil {
		s.QualitySum += *r.Quality
		s.QualityCount++
	}
}

// Counter returns a named counter, zero when absent
func (s *Summary) Counter(name string) int {
	return s.Counters[name]
}

// AverageQuality is the mean document quality, zero when nothing was scored
func (s *Summary) AverageQuality() float64 {
	if s.QualityCount == 0 {
		return 0
	}
	return s.QualitySum / float64(s.QualityCount)
}

// State is the persisted checkpoint
type State struct {
	Version        int             `json:"version"`
	InputDir       string          `json:"input_dir"`
	Mode           string          `json:"mode"`
	ProcessedPaths []string        `json:"processed_paths"`
	Summary        Summary         `json:"summary"`
	Graph          json.RawMessage `json:"graph,omitempty"`
	SavedAt        time.Time       `json:"saved_at"`
}

// Processed returns the processed paths as a set
func (s *State) Processed() map[string]struct{} {
	out := make(map[string]struct{}, len(s.ProcessedPaths))
	for _, p := range s.ProcessedPaths {
		out[p] = struct{}{}
	}
	return out
}

// Empty reports whether the state carries no progress
func (s *State) Empty() bool {
	return len(s.ProcessedPaths) == 0 && s.Summary.Processed == 0
}

// Key derives the checkpoint name for an input directory
func Key(inputDir string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(inputDir)).String()
}

// FilePath is where the checkpoint of inputDir lives inside dir
func FilePath(dir, inputDir string) string {
	return filepath.Join(dir, Key(inputDir)+".checkpoint.json")
}

// Manager loads and saves the checkpoint of one input directory
type Manager struct {
	inputDir string
	mode     string
	path     string
	logger   zerolog.Logger
}

// NewManager creates dir if needed. Failing to create it is a setup error.
// A checkpoint written in another mode is not resumed.
func NewManager(dir, inputDir, mode string, logger zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{
		inputDir: inputDir,
		mode:     mode,
		path:     FilePath(dir, inputDir),
		logger:   logger,
	}, nil
}

// Path returns the checkpoint file path
func (m *Manager) Path() string {
	return m.path
}

// Exists reports whether a checkpoint file is present
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load returns the saved state. A missing, unreadable, corrupt or
// incompatible checkpoint yields an empty state; every case but a missing
// file is logged.
func (m *Manager) Load() *State {
	empty := &State{Version: FormatVersion, InputDir: m.inputDir, Mode: m.mode}

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("checkpoint unreadable, starting fresh")
		return empty
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("checkpoint corrupt, starting fresh")
		return empty
	}
	if st.Version != FormatVersion {
		m.logger.Warn().Int("version", st.Version).Int("want", FormatVersion).Msg("checkpoint format mismatch, starting fresh")
		return empty
	}
	if st.InputDir != m.inputDir {
		m.logger.Warn().Str("input_dir", st.InputDir).Msg("checkpoint belongs to another directory, starting fresh")
		return empty
	}
	if st.Mode != m.mode {
		m.logger.Warn().Str("mode", st.Mode).Str("want", m.mode).Msg("checkpoint written in another mode, starting fresh")
		return empty
	}

	m.logger.Info().Int("processed", len(st.ProcessedPaths)).Msg("resuming from checkpoint")
	return &st
}

// Save writes the state atomically: a temp file in the same directory is
// synced and renamed over the old checkpoint.
func (m *Manager) Save(processed map[string]struct{}, summary Summary, graph json.RawMessage) error {
	paths := make([]string, 0, len(processed))
	for p := range processed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	st := State{
		Version:        FormatVersion,
		InputDir:       m.inputDir,
		Mode:           m.mode,
		ProcessedPaths: paths,
		Summary:        summary,
		Graph:          graph,
		SavedAt:        time.Now().UTC(),
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	m.logger.Info().Int("processed", len(paths)).Msg("checkpoint saved")
	return nil
}

// Clear removes the checkpoint. A missing file is not an error.
func (m *Manager) Clear() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// Inspect reads the checkpoint of inputDir in dir without checking its mode
// or version. It reports false when there is nothing readable.
func Inspect(dir, inputDir string) (*State, bool) {
	data, err := os.ReadFile(FilePath(dir, inputDir))
	if err != nil {
		return nil, false
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false
	}
	return &st, true
}
