// Package worker schedules periodic import runs.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/importer"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/types"
)

// Runner executes one import pass for a target date
type Runner interface {
	Run(ctx context.Context, targetDate time.Time) (*importer.Summary, error)
}

// ResultInvalidator drops cached query results after an import writes
type ResultInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Status describes the worker's most recent run
type Status struct {
	Entity      types.Entity      `json:"entity"`
	Running     bool              `json:"running"`
	LastRunAt   *time.Time        `json:"lastRunAt,omitempty"`
	LastSummary *importer.Summary `json:"lastSummary,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
}

// ImportWorker runs one entity's import on a fixed interval. Imports assume a
// single writer per entity; runMu enforces that for scheduled and manually
// triggered runs alike.
type ImportWorker struct {
	entity   types.Entity
	runner   Runner
	cache    ResultInvalidator
	interval time.Duration
	logger   *logging.Logger

	runMu sync.Mutex

	mu          sync.RWMutex
	running     bool
	lastRunAt   *time.Time
	lastSummary *importer.Summary
	lastError   error

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewImportWorker creates a worker for one entity. cache may be nil.
func NewImportWorker(entity types.Entity, runner Runner, cache ResultInvalidator, interval time.Duration, logger *logging.Logger) *ImportWorker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ImportWorker{
		entity:   entity,
		runner:   runner,
		cache:    cache,
		interval: interval,
		logger:   logger.WithField("entity", string(entity)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the scheduling loop
func (w *ImportWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("import worker for %s is already running", w.entity)
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithField("interval", w.interval.String()).Info("Starting import worker")
	go w.loop(ctx)
	return nil
}

// Stop stops the scheduling loop, waiting for an in-flight run to finish
func (w *ImportWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("import worker for %s is not running", w.entity)
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("Import worker stopped")
	return nil
}

func (w *ImportWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// run once at startup, then on the interval
	w.runScheduled(ctx)

	for {
		select {
		case <-ticker.C:
			w.runScheduled(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *ImportWorker) runScheduled(ctx context.Context) {
	if _, err := w.RunOnce(ctx, today()); err != nil {
		// retryable failures (rate limits, flaky upstream) resolve themselves
		// on the next tick; anything else needs a look
		w.logger.WithError(err).
			WithField("retryable", errors.IsRetryable(err)).
			Error("Scheduled import run failed")
	}
}

// RunOnce executes one import for targetDate. A second call while a run is in
// flight for the same entity is rejected rather than queued.
func (w *ImportWorker) RunOnce(ctx context.Context, targetDate time.Time) (*importer.Summary, error) {
	if !w.runMu.TryLock() {
		return nil, fmt.Errorf("import for %s is already in progress", w.entity)
	}
	defer w.runMu.Unlock()

	runID := uuid.New().String()
	log := w.logger.WithField("runId", runID)
	ctx = logging.WithLogger(ctx, log)

	summary, err := w.runner.Run(ctx, targetDate)

	now := time.Now()
	w.mu.Lock()
	w.lastRunAt = &now
	w.lastSummary = summary
	w.lastError = err
	w.mu.Unlock()

	if err != nil {
		return summary, err
	}

	if w.cache != nil && wrote(summary) {
		if cerr := w.cache.Invalidate(ctx); cerr != nil {
			log.WithError(cerr).Warn("Query cache invalidation failed")
		}
	}
	return summary, nil
}

// Status reports the worker's current state
func (w *ImportWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := Status{
		Entity:      w.entity,
		Running:     w.running,
		LastRunAt:   w.lastRunAt,
		LastSummary: w.lastSummary,
	}
	if w.lastError != nil {
		status.LastError = w.lastError.Error()
	}
	return status
}

func wrote(summary *importer.Summary) bool {
	return summary != nil && summary.New+summary.Changed+summary.Disappeared > 0
}

// today truncates the wall clock to a UTC date
func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
