// Package orchestrator runs the ingestion pipeline over an input directory:
// validate, detect changes, resume from the checkpoint, read, admit,
// deduplicate, then process the survivors on a bounded worker pool.
//
// Results are drained one at a time on the calling goroutine. The summary,
// the processed path set, the fingerprint store and the checkpoint are only
// touched there, so they need no locking of their own.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docpipe/internal/breaker"
	"github.com/dshills/docpipe/internal/checkpoint"
	"github.com/dshills/docpipe/internal/dedup"
	"github.com/dshills/docpipe/internal/metrics"
	"github.com/dshills/docpipe/internal/monitor"
	"github.com/dshills/docpipe/internal/reader"
	"github.com/dshills/docpipe/internal/storage"
	"github.com/dshills/docpipe/internal/validator"
	"github.com/dshills/docpipe/internal/versioner"
	"github.com/dshills/docpipe/pkg/types"
)

// DefaultStabilityCap bounds concurrent calls into the model backend
const DefaultStabilityCap = 4

// Validator screens the input directory
type Validator interface {
	ValidateFolder(ctx context.Context, dir string) (*validator.Result, error)
}

// Versioner tracks file fingerprints between runs
type Versioner interface {
	DetectChanges(ctx context.Context, paths []string, read versioner.ReadFunc) (changed, unchanged []string, err error)
	RecordFile(ctx context.Context, path, content string) error
}

// Reader turns a path into text
type Reader interface {
	ReadAny(path string) (string, error)
}

// Planner makes the admission decisions
type Planner interface {
	Plan(ctx context.Context, docs []*types.Document) *types.ProcessingPlan
}

// Deduper drops duplicate documents
type Deduper interface {
	Dedupe(ctx context.Context, docs []*types.Document) (*dedup.Result, error)
}

// ResourceMonitor sizes the worker pool and reports host load
type ResourceMonitor interface {
	OptimalWorkers() int
	Latest() (monitor.Snapshot, bool)
}

// Processor handles one admitted document. It must be safe for concurrent
// use and report failures as error results.
type Processor interface {
	Process(ctx context.Context, doc *types.Document, action types.Action) *types.DocumentResult
}

// Accumulator is implemented by processors that build run-wide state from
// successful results. Absorb is only called from the draining goroutine.
type Accumulator interface {
	Absorb(result *types.DocumentResult)
	Snapshot() (json.RawMessage, error)
	Restore(data json.RawMessage) error
}

// ProcessorFactory builds a fresh processor for one run
type ProcessorFactory func(mode types.Mode) (Processor, error)

// Config holds run settings
type Config struct {
	CheckpointDir string
	// ReportPath is where the report is written; empty disables the file
	ReportPath      string
	StabilityCap    int
	CheckpointEvery int
}

// Deps are the collaborators of a run. Deduper, Monitor, Store and Breakers
// are optional.
type Deps struct {
	Validator  Validator
	Versioner  Versioner
	Reader     Reader
	Planner    Planner
	Deduper    Deduper
	Monitor    ResourceMonitor
	Processors ProcessorFactory
	Store      storage.Storage
	Breakers   *breaker.Registry
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Orchestrator runs the pipeline. One run at a time per Orchestrator.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	lock    RunLock
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an Orchestrator
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("orchestrator: validator is required")
	case deps.Versioner == nil:
		return nil, errors.New("orchestrator: versioner is required")
	case deps.Reader == nil:
		return nil, errors.New("orchestrator: reader is required")
	case deps.Planner == nil:
		return nil, errors.New("orchestrator: planner is required")
	case deps.Processors == nil:
		return nil, errors.New("orchestrator: processor factory is required")
	}
	if cfg.CheckpointDir == "" {
		return nil, errors.New("orchestrator: checkpoint directory is required")
	}
	if cfg.StabilityCap <= 0 {
		cfg.StabilityCap = DefaultStabilityCap
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = checkpoint.DefaultEvery
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: deps.Logger, metrics: deps.Metrics}, nil
}

// Running reports whether a run is in progress
func (o *Orchestrator) Running() bool {
	return o.lock.Held()
}

// run is the mutable state of one run, owned by the draining goroutine
type run struct {
	report    *Report
	processed map[string]struct{}
	summary   checkpoint.Summary
	acc       Accumulator
	ckpt      *checkpoint.Manager
	started   time.Time
	logger    zerolog.Logger

	// fingerprints of completed documents not yet covered by a saved
	// checkpoint
	unrecorded []fingerprint
}

type fingerprint struct {
	path    string
	content string
}

// Run processes inputDir in the given mode. Only setup failures return a
// nil report. When ctx is canceled, dispatch stops, in-flight documents
// drain, progress is checkpointed and the partial report is returned
// together with ctx's error.
func (o *Orchestrator) Run(ctx context.Context, inputDir string, mode types.Mode) (*Report, error) {
	if !o.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer o.lock.Release()

	mode, err := types.ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", inputDir, err)
	}

	r := &run{
		report: &Report{
			RunID:     uuid.NewString(),
			InputDir:  dir,
			Mode:      mode,
			StartedAt: time.Now().UTC(),
		},
		started: time.Now(),
	}
	r.logger = o.logger.With().Str("run_id", r.report.RunID).Str("input_dir", dir).Str("mode", string(mode)).Logger()

	processor, err := o.deps.Processors(mode)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s processor: %w", mode, err)
	}
	r.acc, _ = processor.(Accumulator)

	r.ckpt, err = checkpoint.NewManager(o.cfg.CheckpointDir, dir, string(mode), r.logger)
	if err != nil {
		return nil, err
	}
	state := r.ckpt.Load()
	r.processed = state.Processed()
	r.summary = state.Summary
	r.report.Resumed = !state.Empty()
	if r.acc != nil && len(state.Graph) > 0 {
		if err := r.acc.Restore(state.Graph); err != nil {
			r.logger.Warn().Err(err).Msg("could not restore graph snapshot")
		}
	}

	validation, err := o.deps.Validator.ValidateFolder(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to validate input: %w", err)
	}
	r.report.FilesValidated = len(validation.ValidPaths)
	r.report.Issues = len(validation.Issues)
	for _, issue := range validation.Issues {
		r.logger.Debug().Str("path", issue.Path).Str("reason", issue.Reason).Msg("file rejected")
	}

	changed, _, err := o.deps.Versioner.DetectChanges(ctx, validation.ValidPaths, o.deps.Reader.ReadAny)
	if err != nil {
		return nil, fmt.Errorf("failed to detect changes: %w", err)
	}
	r.report.FilesChanged = len(changed)

	pending := make([]string, 0, len(changed))
	for _, p := range changed {
		if _, done := r.processed[p]; !done {
			pending = append(pending, p)
			continue
		}
		// checkpointed by a run that stopped before writing its fingerprint
		if content, err := o.deps.Reader.ReadAny(p); err == nil {
			r.unrecorded = append(r.unrecorded, fingerprint{path: p, content: content})
		}
	}
	if len(pending) == 0 {
		r.logger.Info().Msg("no new documents to process")
		r.report.Message = MessageNothingToProcess
		return o.finish(ctx, r, true), nil
	}
	r.logger.Info().Int("pending", len(pending)).Int("changed", len(changed)).Msg("processing documents")

	docs := o.buildDocuments(pending, r.logger)

	plan := o.deps.Planner.Plan(ctx, docs)
	actions := plan.Admitted()
	admitted := make([]*types.Document, 0, len(docs))
	for _, d := range plan.Decisions {
		if d.Action == types.ActionSkip {
			r.report.Skipped = append(r.report.Skipped, d)
		}
	}
	for _, doc := range docs {
		if _, ok := actions[doc.SourcePath]; ok {
			admitted = append(admitted, doc)
		}
	}

	unique := admitted
	if o.deps.Deduper != nil {
		res, err := o.deps.Deduper.Dedupe(ctx, admitted)
		if err != nil {
			r.logger.Warn().Err(err).Msg("deduplication failed, continuing without it")
			r.report.Warnings = append(r.report.Warnings, "deduplication skipped: "+err.Error())
		} else {
			unique = res.Unique
			r.report.DuplicatesDropped = res.ExactDuplicates + res.NearDuplicates
		}
	}
	r.report.FilesProcessedAfterDedup = len(unique)

	workers := o.workerCount()
	r.report.Workers = workers
	o.metrics.SetWorkers(workers)
	r.logger.Info().Int("workers", workers).Int("documents", len(unique)).Msg("starting workers")

	o.process(ctx, r, processor, unique, actions, workers)

	if err := ctx.Err(); err != nil {
		r.report.Interrupted = true
		r.logger.Warn().Err(err).Int("processed", r.summary.Processed).Msg("run interrupted")
		return o.finish(ctx, r, false), err
	}
	return o.finish(ctx, r, true), nil
}

// buildDocuments reads each path. Text documents that read empty are
// dropped; images enter with no text and their path in ImagePath.
func (o *Orchestrator) buildDocuments(paths []string, logger zerolog.Logger) []*types.Document {
	docs := make([]*types.Document, 0, len(paths))
	for _, p := range paths {
		content, err := o.deps.Reader.ReadAny(p)
		if err != nil {
			logger.Debug().Err(err).Str("path", p).Msg("unreadable, dropped")
			continue
		}
		doc := types.NewDocument(p, content)
		if reader.IsImage(p) {
			doc.ImagePath = p
		} else if strings.TrimSpace(content) == "" {
			logger.Debug().Str("path", p).Msg("no content, dropped")
			continue
		}
		docs = append(docs, &doc)
	}
	return docs
}

func (o *Orchestrator) workerCount() int {
	n := o.cfg.StabilityCap
	if o.deps.Monitor != nil {
		n = min(o.deps.Monitor.OptimalWorkers(), n)
	}
	return max(n, 1)
}

// process fans documents out to the pool and drains results in completion
// order until every dispatched document has reported back.
func (o *Orchestrator) process(ctx context.Context, r *run, p Processor, docs []*types.Document, actions map[string]types.Action, workers int) {
	results := make(chan *types.DocumentResult)
	semaphore := make(chan struct{}, workers)

	go func() {
		defer close(results)
		var g errgroup.Group
	dispatch:
		for _, doc := range docs {
			if ctx.Err() != nil {
				break
			}
			select {
			case <-ctx.Done():
				break dispatch
			case semaphore <- struct{}{}:
			}

			action := actions[doc.SourcePath]
			g.Go(func() error {
				defer func() { <-semaphore }()
				results <- o.processOne(ctx, p, doc, action)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for res := range results {
		o.complete(ctx, r, res)
	}
}

func (o *Orchestrator) processOne(ctx context.Context, p Processor, doc *types.Document, action types.Action) (res *types.DocumentResult) {
	defer func() {
		if v := recover(); v != nil {
			o.logger.Error().Str("path", doc.SourcePath).Interface("panic", v).Msg("processor panicked")
			res = types.Failed(doc, fmt.Sprintf("panic: %v", v))
		}
	}()
	res = p.Process(ctx, doc, action)
	if res == nil {
		res = types.Failed(doc, "processor returned no result")
	}
	return res
}

// complete folds one result into the run. A fingerprint is queued for every
// outcome so hard failures are not retried forever, and written only once a
// checkpoint lists the path as processed. Errors that arrive after
// cancellation are left unrecorded so the next run retries them.
func (o *Orchestrator) complete(ctx context.Context, r *run, res *types.DocumentResult) {
	if res.Status == types.StatusError && ctx.Err() != nil {
		r.logger.Debug().Str("path", res.Path).Msg("interrupted document left for next run")
		return
	}

	r.summary.Add(res)
	if r.acc != nil {
		r.acc.Absorb(res)
	}
	o.metrics.RecordDocument(string(res.Status))

	switch res.Status {
	case types.StatusError:
		r.report.addFailure(res)
		r.logger.Warn().Str("path", res.Path).Str("reason", res.Reason).Msg("document failed")
	default:
		r.logger.Debug().Str("path", res.Path).Str("status", string(res.Status)).Msg("document done")
	}

	r.unrecorded = append(r.unrecorded, fingerprint{path: res.Path, content: res.Content})
	r.processed[res.Path] = struct{}{}

	if res.Status == types.StatusSuccess && r.summary.Succeeded%o.cfg.CheckpointEvery == 0 {
		o.save(ctx, r)
	}
}

// save writes the checkpoint and then the fingerprints it covers. A failed
// save keeps them queued, so a crash leaves those paths changed and the next
// run processes them again.
func (o *Orchestrator) save(ctx context.Context, r *run) {
	graph := o.snapshot(r)
	if err := r.ckpt.Save(r.processed, r.summary, graph); err != nil {
		r.logger.Warn().Err(err).Msg("checkpoint save failed")
		return
	}
	o.recordFingerprints(ctx, r)
}

func (o *Orchestrator) recordFingerprints(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	for _, fp := range r.unrecorded {
		if err := o.deps.Versioner.RecordFile(ctx, fp.path, fp.content); err != nil {
			r.logger.Warn().Err(err).Str("path", fp.path).Msg("failed to record fingerprint")
		}
	}
	r.unrecorded = r.unrecorded[:0]
}

func (o *Orchestrator) snapshot(r *run) json.RawMessage {
	if r.acc == nil {
		return nil
	}
	graph, err := r.acc.Snapshot()
	if err != nil {
		r.logger.Warn().Err(err).Msg("graph snapshot failed")
		return nil
	}
	return graph
}

// finish completes the report. The checkpoint is saved so it covers every
// fingerprint written, then a complete run clears it.
func (o *Orchestrator) finish(ctx context.Context, r *run, complete bool) *Report {
	o.save(ctx, r)
	if complete {
		// still queued only when the save failed
		o.recordFingerprints(ctx, r)
		if err := r.ckpt.Clear(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to clear checkpoint")
		}
	}

	rep := r.report
	rep.Summary = r.summary
	rep.fillCounters(o.snapshot(r))
	rep.sortFailures()
	elapsed := time.Since(r.started)
	rep.DurationMS = elapsed.Milliseconds()
	o.metrics.ObserveRun(elapsed.Seconds())

	if o.cfg.ReportPath != "" {
		if err := WriteReport(o.cfg.ReportPath, rep); err != nil {
			r.logger.Warn().Err(err).Msg("failed to write report file")
		} else {
			r.logger.Info().Str("path", o.cfg.ReportPath).Msg("report saved")
		}
	}
	o.recordRun(context.WithoutCancel(ctx), rep, r.logger)

	r.logger.Info().
		Int("processed", rep.Summary.Processed).
		Int("succeeded", rep.Summary.Succeeded).
		Int("failed", rep.Summary.Failed).
		Int64("duration_ms", rep.DurationMS).
		Msg("pipeline finished")
	return rep
}

func (o *Orchestrator) recordRun(ctx context.Context, rep *Report, logger zerolog.Logger) {
	if o.deps.Store == nil {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode run record")
		return
	}
	err = o.deps.Store.InsertRun(ctx, &storage.Run{
		RunID:      rep.RunID,
		InputDir:   rep.InputDir,
		Mode:       string(rep.Mode),
		ReportJSON: string(data),
		StartedAt:  rep.StartedAt,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record run")
	}
}
