// Path: internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"loki-downloader/internal/cancel"
	"loki-downloader/internal/chunker"
	"loki-downloader/internal/config"
	"loki-downloader/internal/domain"
	"loki-downloader/internal/events"
	"loki-downloader/internal/pagination"
	"loki-downloader/internal/storage"
)

// Service is the download orchestrator. One Service drives one run.
type Service struct {
	cfg       *config.Config
	fetcher   Fetcher
	fs        FileSystem
	states    StateStore
	confirmer Confirmer
	broker    *events.Broker
	logger    *log.Logger
	runID     string

	mu       sync.RWMutex
	progress domain.Progress
}

// Option customizes a Service.
type Option func(*Service)

// WithConfirmer lets the service ask the operator before clearing the output directory
// or starting the download. Without one, those questions are answered from config alone.
func WithConfirmer(c Confirmer) Option {
	return func(s *Service) { s.confirmer = c }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Service) { s.runID = id }
}

// NewService creates a new download service.
func NewService(
	cfg *config.Config,
	fetcher Fetcher,
	fs FileSystem,
	states StateStore,
	broker *events.Broker,
	logger *log.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Service{
		cfg:     cfg,
		fetcher: fetcher,
		fs:      fs,
		states:  states,
		broker:  broker,
		logger:  logger,
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.progress = domain.Progress{RunID: s.runID, Phase: domain.PhaseIdle, UpdatedAt: time.Now().UTC()}
	return s
}

// Progress returns the latest snapshot of the run.
func (s *Service) Progress() domain.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Run downloads the configured window, resuming from the persisted state of an earlier
// run with the same fingerprint. Cancelling ctx stops the run cleanly: a batch whose
// commit has not started is discarded, and Run returns a summary with Cancelled set
// and a nil error. The summary is returned on failure too.
func (s *Service) Run(ctx context.Context) (*domain.Summary, error) {
	handle := s.states.Open(s.cfg.FingerprintInputs()...)
	summary := &domain.Summary{RunID: s.runID, Fingerprint: handle.Key()}
	logger := s.logger.With("run", s.runID, "fingerprint", handle.Key())

	proto := pagination.New(
		s.fetcher,
		s.cfg.Loki.Query,
		domain.CursorFromTime(s.cfg.Window.From),
		domain.CursorFromTime(s.cfg.Window.To),
		s.cfg.Window.Dir,
	)

	fail := func(state domain.State, err error) (*domain.Summary, error) {
		summary.State = state
		s.setPhase(domain.PhaseFailed, state, summary.Batches, handle.Key())
		logger.Error("Download failed", "error", err, "batches", summary.Batches)
		return summary, err
	}
	stopCancelled := func(state domain.State) (*domain.Summary, error) {
		summary.State = state
		summary.Cancelled = true
		s.setPhase(domain.PhaseCancelled, state, summary.Batches, handle.Key())
		logger.Warn("Download cancelled", "batches", summary.Batches, "totalRecords", state.TotalRecords)
		return summary, nil
	}

	// --- Preparing ---
	state := domain.State{StartFromTimestamp: proto.InitialCursor()}
	s.setPhase(domain.PhasePreparing, state, 0, handle.Key())

	prev, err := handle.Load(ctx)
	if err != nil {
		return fail(state, fmt.Errorf("failed to load state: %w", err))
	}
	if prev != nil {
		state = *prev
		summary.Resumed = true
		logger.Info("Resuming download", "cursor", state.StartFromTimestamp.Time().Format(time.RFC3339Nano),
			"totalRecords", state.TotalRecords, "fileNumber", state.FileNumber, "iteration", state.Iteration)
	}

	if err := s.prepareOutputDir(ctx, prev != nil, logger); err != nil {
		if ctx.Err() != nil {
			return stopCancelled(state)
		}
		return fail(state, err)
	}

	if s.cfg.Run.PromptToStart && s.confirmer != nil {
		ok, err := s.confirmer.Confirm(ctx, "Start download?",
			fmt.Sprintf("Query %s from %s to %s into %s", s.cfg.Loki.Query,
				s.cfg.Window.From.Format(time.RFC3339), s.cfg.Window.To.Format(time.RFC3339), s.cfg.OutputDir()))
		if ctx.Err() != nil {
			return stopCancelled(state)
		}
		if err != nil {
			return fail(state, fmt.Errorf("failed to confirm start: %w", err))
		}
		if !ok {
			return fail(state, domain.ErrAborted)
		}
	}

	// --- Running ---
	s.setPhase(domain.PhaseRunning, state, 0, handle.Key())
	if s.finished(state) {
		logger.Info("Nothing left to download", "totalRecords", state.TotalRecords, "exhausted", state.QueryRecordsExhausted)
	}

	for !s.finished(state) {
		if ctx.Err() != nil {
			return stopCancelled(state)
		}

		if state.Iteration != 0 && s.cfg.Run.CoolDown > 0 {
			s.setPhase(domain.PhaseCoolingDown, state, summary.Batches, handle.Key())
			logger.Debug("Cooling down", "duration", s.cfg.Run.CoolDown)
			if !cancel.Sleep(ctx, s.cfg.Run.CoolDown) {
				return stopCancelled(state)
			}
			s.setPhase(domain.PhaseRunning, state, summary.Batches, handle.Key())
		}

		batchSize := s.cfg.Limits.Batch
		if s.cfg.Limits.Total > 0 {
			batchSize = min(s.cfg.Limits.Total-state.TotalRecords, batchSize)
		}

		result, next, err := proto.Next(ctx, state.StartFromTimestamp, batchSize)
		if err != nil {
			if ctx.Err() != nil && !domain.IsUnrecoverable(err) {
				return stopCancelled(state)
			}
			return fail(state, fmt.Errorf("failed to fetch batch %d: %w", state.Iteration, err))
		}

		plan := chunker.Apply(result.Records, state.FileNumber, s.spaceLeft(state), s.cfg.Limits.File)

		// Commit gate: nothing from this batch is kept once cancellation is seen here.
		if ctx.Err() != nil {
			logger.Info("Discarding in-flight batch", "records", len(result.Records))
			return stopCancelled(state)
		}

		// A started commit runs to completion even if cancellation arrives meanwhile.
		committed, err := s.commit(context.WithoutCancel(ctx), handle, state, result, next, plan)
		if err != nil {
			return fail(state, err)
		}
		state = committed
		summary.Batches++

		logger.Info("Batch committed", "iteration", state.Iteration, "records", len(result.Records),
			"totalRecords", state.TotalRecords, "fileNumber", state.FileNumber, "exhausted", state.QueryRecordsExhausted)
		s.publish(events.TopicCommitted, state, summary.Batches, handle.Key())
	}

	summary.State = state
	s.setPhase(domain.PhaseDone, state, summary.Batches, handle.Key())
	logger.Info("Download complete", "totalRecords", state.TotalRecords, "files", filesWritten(state), "batches", summary.Batches)
	return summary, nil
}

// finished reports whether the loop invariant no longer holds.
func (s *Service) finished(state domain.State) bool {
	if state.QueryRecordsExhausted {
		return true
	}
	return s.cfg.Limits.Total > 0 && state.TotalRecords >= s.cfg.Limits.Total
}

// spaceLeft is how many records still fit in the current output file.
func (s *Service) spaceLeft(state domain.State) int {
	if s.cfg.Limits.File <= 0 {
		return chunker.Unbounded
	}
	return max(s.cfg.Limits.File-state.PrevSavedRecordsInFile, 0)
}

// commit makes the batch durable: records first, then the snapshot that points past them.
func (s *Service) commit(
	ctx context.Context,
	handle storage.StateHandle,
	state domain.State,
	result domain.BatchResult,
	next domain.Cursor,
	plan chunker.Plan,
) (domain.State, error) {
	dir := s.cfg.OutputDir()
	for _, w := range plan.Writes {
		if err := s.fs.AppendRecords(filepath.Join(dir, w.Filename()), w.Records); err != nil {
			return state, fmt.Errorf("failed to write %s: %w", w.Filename(), err)
		}
	}

	prevUsed := state.PrevSavedRecordsInFile
	if plan.FileNumber != state.FileNumber {
		prevUsed = 0
	}

	updated := state
	updated.TotalRecords += len(result.Records)
	updated.QueryRecordsExhausted = result.Exhausted
	updated.StartFromTimestamp = next
	updated.PrevSavedRecordsInFile = chunker.Used(plan.Space, s.cfg.Limits.File, prevUsed, len(result.Records))
	updated.FileNumber = plan.FileNumber
	updated.Iteration++

	if err := handle.Save(ctx, updated); err != nil {
		return state, fmt.Errorf("failed to save state: %w", err)
	}
	return updated, nil
}

// prepareOutputDir refuses to mix a fresh run into a directory that already has files,
// unless the operator allowed clearing it.
func (s *Service) prepareOutputDir(ctx context.Context, resumed bool, logger *log.Logger) error {
	dir := s.cfg.OutputDir()
	info, err := s.fs.DescribeOutputDir(dir)
	if err != nil {
		return fmt.Errorf("failed to inspect output directory: %w", err)
	}
	if !info.Exists || info.IsEmpty || resumed {
		return nil
	}

	allowed := s.cfg.Output.Clear
	if !allowed && s.confirmer != nil {
		allowed, err = s.confirmer.Confirm(ctx, "Output directory is not empty",
			fmt.Sprintf("%s already contains files. Delete them and start a new download?", dir))
		if err != nil {
			return fmt.Errorf("failed to confirm clearing %s: %w", dir, err)
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s (pass --clear-output-dir to delete its contents)", domain.ErrOutputDirNotEmpty, dir)
	}

	logger.Warn("Clearing output directory", "dir", dir)
	if err := s.fs.ClearOutputDir(dir); err != nil {
		return fmt.Errorf("failed to clear output directory: %w", err)
	}
	return nil
}

func (s *Service) setPhase(phase domain.Phase, state domain.State, batches int, fingerprint string) {
	s.mu.Lock()
	changed := s.progress.Phase != phase
	s.mu.Unlock()

	s.update(phase, state, batches, fingerprint)
	if changed {
		s.broker.Publish(events.TopicPhase, s.Progress())
	}
}

func (s *Service) publish(topic string, state domain.State, batches int, fingerprint string) {
	s.mu.RLock()
	phase := s.progress.Phase
	s.mu.RUnlock()

	s.update(phase, state, batches, fingerprint)
	s.broker.Publish(topic, s.Progress())
}

func (s *Service) update(phase domain.Phase, state domain.State, batches int, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = domain.Progress{
		RunID:       s.runID,
		Fingerprint: fingerprint,
		Phase:       phase,
		State:       state,
		Batches:     batches,
		UpdatedAt:   time.Now().UTC(),
	}
}

// filesWritten counts output files touched so far, including by earlier runs.
func filesWritten(state domain.State) int {
	if state.TotalRecords == 0 {
		return 0
	}
	return state.FileNumber + 1
}

// IsOperatorActionRequired reports errors that need a human before the run can start.
func IsOperatorActionRequired(err error) bool {
	return errors.Is(err, domain.ErrOutputDirNotEmpty) || errors.Is(err, domain.ErrAborted)
}
