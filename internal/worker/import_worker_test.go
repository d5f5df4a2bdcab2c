package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/importer"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/types"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	summary *importer.Summary
	err     error
	block   chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, _ time.Time) (*importer.Summary, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.summary, r.err
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (i *fakeInvalidator) Invalidate(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	return nil
}

func (i *fakeInvalidator) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func TestRunOnce_RecordsStatus(t *testing.T) {
	runner := &fakeRunner{summary: &importer.Summary{Processed: 3, New: 3}}
	w := NewImportWorker(types.EntityBalances, runner, nil, time.Hour, nil)

	summary, err := w.RunOnce(context.Background(), today())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.New)

	status := w.Status()
	assert.Equal(t, types.EntityBalances, status.Entity)
	require.NotNil(t, status.LastRunAt)
	assert.Equal(t, summary, status.LastSummary)
	assert.Empty(t, status.LastError)
}

func TestRunOnce_RecordsFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("chain api down")}
	w := NewImportWorker(types.EntityBalances, runner, nil, time.Hour, nil)

	_, err := w.RunOnce(context.Background(), today())
	require.Error(t, err)
	assert.Equal(t, "chain api down", w.Status().LastError)
}

func TestRunOnce_RejectsConcurrentRuns(t *testing.T) {
	runner := &fakeRunner{
		summary: &importer.Summary{},
		block:   make(chan struct{}),
	}
	w := NewImportWorker(types.EntityBalances, runner, nil, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = w.RunOnce(context.Background(), today())
	}()

	// wait until the first run holds the lock
	require.Eventually(t, func() bool { return runner.callCount() == 1 },
		time.Second, time.Millisecond)

	_, err := w.RunOnce(context.Background(), today())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(runner.block)
	<-done
}

func TestRunOnce_InvalidatesCacheAfterWrites(t *testing.T) {
	cache := &fakeInvalidator{}
	runner := &fakeRunner{summary: &importer.Summary{Processed: 1, Changed: 1}}
	w := NewImportWorker(types.EntityBalances, runner, cache, time.Hour, nil)

	_, err := w.RunOnce(context.Background(), today())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.callCount())
}

func TestRunOnce_SkipsInvalidationWhenNothingWritten(t *testing.T) {
	cache := &fakeInvalidator{}
	runner := &fakeRunner{summary: &importer.Summary{Processed: 5, Unchanged: 5}}
	w := NewImportWorker(types.EntityBalances, runner, cache, time.Hour, nil)

	_, err := w.RunOnce(context.Background(), today())
	require.NoError(t, err)
	assert.Zero(t, cache.callCount())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	runner := &fakeRunner{summary: &importer.Summary{}}
	w := NewImportWorker(types.EntityBalances, runner, nil, time.Hour, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start must fail")

	require.Eventually(t, func() bool { return runner.callCount() == 1 },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.Error(t, w.Stop(ctx), "second stop must fail")
}

func TestScheduledFailureLogsRetryability(t *testing.T) {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	runner := &fakeRunner{err: apperrors.NewFetchError("chain-api", true, errors.New("timeout"))}
	w := NewImportWorker(types.EntityBalances, runner, nil, time.Hour, logger)

	w.runScheduled(context.Background())

	assert.Contains(t, buf.String(), `"retryable":true`)
}
