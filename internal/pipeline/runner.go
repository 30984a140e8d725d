// Package pipeline orchestrates the discover, enrich and persist stages of
// a harvest run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/checkpoint"
	"github.com/regdata/harvester/internal/harvest"
	"github.com/regdata/harvester/internal/policy/admission"
	"github.com/regdata/harvester/internal/policy/pacing"
	"github.com/regdata/harvester/internal/policy/retry"
	"github.com/regdata/harvester/internal/telemetry"
)

// Deps collects the collaborators a Runner composes. Adapter, Gate, Retry,
// Checkpointer, Clock, IDs and Logger are required; Pacer, Repository and
// Publisher are optional.
type Deps struct {
	Adapter      harvest.SiteAdapter
	Gate         *admission.Gate
	Retry        *retry.Policy
	Pacer        *pacing.Pacer
	Checkpointer *checkpoint.Checkpointer
	Repository   harvest.Repository
	Publisher    harvest.Publisher
	Clock        harvest.Clock
	IDs          harvest.IDGenerator
	Logger       *zap.Logger
}

// Progress is a point-in-time snapshot of a running harvest.
type Progress struct {
	RunID       string `json:"run_id"`
	CurrentTerm string `json:"current_term"`
	TermsDone   int    `json:"terms_done"`
	TotalTerms  int    `json:"total_terms"`
	TotalItems  int    `json:"total_items"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	Running     bool   `json:"running"`
}

// Runner drives a full harvest: terms are processed sequentially, the
// items within a term concurrently under the admission gate. A run never
// fails outright for partial failures; per-term and per-item errors are
// folded into the returned RunStats.
type Runner struct {
	deps Deps

	mu       sync.Mutex
	stats    harvest.RunStats
	progress Progress
}

// NewRunner validates deps and returns a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Adapter == nil {
		return nil, fmt.Errorf("site adapter is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("admission gate is required")
	}
	if deps.Retry == nil {
		return nil, fmt.Errorf("retry policy is required")
	}
	if deps.Checkpointer == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{deps: deps}, nil
}

// Progress returns the current run snapshot. Safe to call from other
// goroutines, including when no run is active.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Run harvests every term in order and returns aggregate statistics. The
// returned error is non-nil only when the context is canceled or a run
// cannot start at all; item and term failures are reported through
// RunStats instead.
func (r *Runner) Run(ctx context.Context, terms []string, opts harvest.RunOptions) (harvest.RunStats, error) {
	opts = opts.Normalized()

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return harvest.RunStats{}, fmt.Errorf("generate run id: %w", err)
	}

	r.mu.Lock()
	r.stats = harvest.RunStats{
		RunID:      runID,
		TotalTerms: len(terms),
		StartedAt:  r.deps.Clock.Now(),
	}
	r.progress = Progress{RunID: runID, TotalTerms: len(terms), Running: true}
	r.mu.Unlock()

	logger := r.deps.Logger.With(zap.String("run_id", runID), zap.String("search_type", opts.SearchType))
	logger.Info("run started", zap.Int("terms", len(terms)))

	var runErr error
	for i, term := range terms {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.setCurrentTerm(term)

		termFailures, fatal := r.processTermGuarded(ctx, term, opts, logger)
		if termFailures == 0 {
			telemetry.ObserveTerm("success")
		} else {
			telemetry.ObserveTerm("error")
		}
		r.termDone()
		if fatal {
			// A failure outside the per-term and per-item scopes ends
			// the run early; the stats still come back to the caller.
			break
		}

		if r.deps.Pacer != nil && i < len(terms)-1 {
			if err := r.deps.Pacer.Sleep(ctx); err != nil {
				runErr = err
				break
			}
		}
	}

	r.mu.Lock()
	r.stats.FinishedAt = r.deps.Clock.Now()
	stats := r.stats
	r.progress.Running = false
	r.progress.CurrentTerm = ""
	r.mu.Unlock()

	logger.Info("run finished",
		zap.Int("total_items", stats.TotalItems),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.FinishedAt.Sub(stats.StartedAt)))

	r.persistRun(stats, logger)

	return stats, runErr
}

// processTermGuarded runs one term. Errors inside the discover and enrich
// stages are already converted to stats entries; anything that escapes
// those scopes as a panic is recorded as one top-level failure and flagged
// fatal, ending the run early without losing the stats object.
func (r *Runner) processTermGuarded(ctx context.Context, term string, opts harvest.RunOptions, logger *zap.Logger) (failures int, fatal bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("term processing panicked", zap.String("term", term), zap.Any("panic", rec))
			r.addFailure(harvest.Failure{Term: term, Err: fmt.Sprintf("panic: %v", rec)})
			failures++
			fatal = true
		}
	}()
	return r.processTerm(ctx, term, opts, logger), false
}

func (r *Runner) processTerm(ctx context.Context, term string, opts harvest.RunOptions, logger *zap.Logger) int {
	logger = logger.With(zap.String("term", term))

	candidates, err := r.discover(ctx, term, opts)
	if err != nil {
		logger.Warn("discovery failed", zap.Error(err))
		r.addFailure(harvest.Failure{Term: term, Err: err.Error()})
		return 1
	}
	logger.Info("discovery complete", zap.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return 0
	}

	state := &termState{
		runner:     r,
		term:       term,
		searchType: opts.SearchType,
		batchSize:  opts.BatchSize,
		logger:     logger,
	}

	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(cand harvest.Candidate) {
			defer wg.Done()
			r.enrichOne(ctx, cand, state)
		}(cand)
	}
	wg.Wait()

	failures := state.finish(ctx)
	return failures
}

// discover fetches candidates under retry and the admission gate. The
// gate is acquired per attempt so a slot is never held across a backoff
// sleep.
func (r *Runner) discover(ctx context.Context, term string, opts harvest.RunOptions) ([]harvest.Candidate, error) {
	var candidates []harvest.Candidate
	err := r.deps.Retry.Do(ctx, func(ctx context.Context) error {
		queued := r.deps.Clock.Now()
		return r.deps.Gate.Do(ctx, func(ctx context.Context) error {
			telemetry.ObserveAdmissionWait(r.deps.Clock.Now().Sub(queued))
			var err error
			candidates, err = r.deps.Adapter.Discover(ctx, term, opts)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// enrichOne resolves one candidate and hands the outcome to the term
// state. Errors become item-level failures, never run-level ones. A panic
// here is recovered in place: it runs on its own goroutine, out of reach
// of the term-level guard.
func (r *Runner) enrichOne(ctx context.Context, cand harvest.Candidate, state *termState) {
	defer func() {
		if rec := recover(); rec != nil {
			state.logger.Error("enrich panicked", zap.String("item", cand.Key), zap.Any("panic", rec))
			state.fail(harvest.Failure{Term: state.term, ItemKey: cand.Key, Err: fmt.Sprintf("panic: %v", rec)})
		}
	}()
	var record harvest.Record
	started := r.deps.Clock.Now()
	err := r.deps.Retry.Do(ctx, func(ctx context.Context) error {
		queued := r.deps.Clock.Now()
		return r.deps.Gate.Do(ctx, func(ctx context.Context) error {
			telemetry.ObserveAdmissionWait(r.deps.Clock.Now().Sub(queued))
			var err error
			record, err = r.deps.Adapter.Enrich(ctx, cand)
			return err
		})
	})
	telemetry.ObserveEnrich(r.deps.Clock.Now().Sub(started))

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		state.logger.Warn("enrich failed", zap.String("item", cand.Key), zap.Error(err))
		telemetry.ObserveItem(string(harvest.StatusError))
		state.fail(harvest.Failure{Term: state.term, ItemKey: cand.Key, Err: err.Error()})
		return
	}
	telemetry.ObserveItem(string(record.Status))
	state.add(record)
}

func (r *Runner) persistRun(stats harvest.RunStats, logger *zap.Logger) {
	// History and events are best effort: the artifacts on disk are the
	// source of truth, so failures here are logged, not returned.
	bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if r.deps.Repository != nil {
		if err := r.deps.Repository.SaveRun(bg, stats); err != nil {
			logger.Warn("saving run history failed", zap.Error(err))
		}
	}
	if r.deps.Publisher != nil {
		if id, err := r.deps.Publisher.Publish(bg, stats); err != nil {
			logger.Warn("publishing run event failed", zap.Error(err))
		} else {
			logger.Info("run event published", zap.String("message_id", id))
		}
	}
}

func (r *Runner) setCurrentTerm(term string) {
	r.mu.Lock()
	r.progress.CurrentTerm = term
	r.mu.Unlock()
}

func (r *Runner) termDone() {
	r.mu.Lock()
	r.progress.TermsDone++
	r.mu.Unlock()
}

func (r *Runner) addFailure(f harvest.Failure) {
	r.mu.Lock()
	r.stats.Failed++
	r.stats.Failures = append(r.stats.Failures, f)
	r.progress.Failed = r.stats.Failed
	r.mu.Unlock()
}

// termState accumulates one term's records and flushes them in batches.
// All methods are called from enrich goroutines, so everything is guarded
// by its own mutex.
type termState struct {
	runner     *Runner
	term       string
	searchType string
	batchSize  int
	logger     *zap.Logger

	mu       sync.Mutex
	buffer   []harvest.Record
	batchNum int
	failures int
}

func (s *termState) add(rec harvest.Record) {
	r := s.runner
	// Any enrichment that produced a record counts as successful
	// processing; the status tag tells skipped and no_data apart in the
	// artifact itself.
	r.mu.Lock()
	r.stats.TotalItems++
	r.stats.Successful++
	r.progress.TotalItems = r.stats.TotalItems
	r.progress.Successful = r.stats.Successful
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, rec)
	if len(s.buffer) >= s.batchSize {
		s.flushLocked()
	}
}

func (s *termState) fail(f harvest.Failure) {
	r := s.runner
	r.mu.Lock()
	r.stats.TotalItems++
	r.progress.TotalItems = r.stats.TotalItems
	r.mu.Unlock()
	r.addFailure(f)

	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *termState) flushLocked() {
	s.batchNum++
	batch := s.buffer
	s.buffer = nil
	if err := s.runner.deps.Checkpointer.SaveBatch(batch, s.term, s.searchType, s.batchNum); err != nil {
		s.logger.Error("checkpoint flush failed", zap.Int("batch", s.batchNum), zap.Error(err))
		s.runner.addFailure(harvest.Failure{Term: s.term, Err: fmt.Sprintf("checkpoint batch %d: %v", s.batchNum, err)})
		s.failures++
	}
}

// finish flushes the remaining buffer and merges the term's temp
// artifacts into the final file. It returns the number of failures the
// term accumulated.
func (s *termState) finish(ctx context.Context) int {
	s.mu.Lock()
	if len(s.buffer) > 0 {
		s.flushLocked()
	}
	wrote := s.batchNum > 0
	s.mu.Unlock()

	if wrote && ctx.Err() == nil {
		path, err := s.runner.deps.Checkpointer.Merge(s.term, s.searchType)
		if err != nil {
			s.logger.Error("merge failed", zap.Error(err))
			s.runner.addFailure(harvest.Failure{Term: s.term, Err: fmt.Sprintf("merge: %v", err)})
			s.mu.Lock()
			s.failures++
			s.mu.Unlock()
		} else if path != "" {
			s.logger.Info("term artifact merged", zap.String("path", path))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}
