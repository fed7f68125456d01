package task

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/evaluator"
	"github.com/codescope/codescope/internal/scan"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/types"
)

// slowEvaluator pauses per call so tests can observe a run in flight.
type slowEvaluator struct {
	delay    time.Duration
	findings []*types.Finding
}

func (s *slowEvaluator) Evaluate(ctx context.Context, cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if cat == types.CategorySecurity {
		return s.findings, nil
	}
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRun(t *testing.T, files int, eval evaluator.Evaluator) *scan.Run {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < files; i++ {
		name := filepath.Join(dir, string(rune('a'+i))+".go")
		require.NoError(t, os.WriteFile(name, []byte("package x"), 0o644))
	}
	docs, err := store.New(t.TempDir())
	require.NoError(t, err)
	return scan.New(dir, eval, docs, scan.Options{}, quietLogger())
}

func waitTerminal(t *testing.T, r *Registry, id string) Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		st, err := r.Status(id)
		require.NoError(t, err)
		if st.Status.Terminal() {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached a terminal status", id)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestStartAndPoll(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	f := types.NewFinding("a.go:1", types.CategorySecurity, types.SeverityHigh, "Issue", "x")
	f.Description = "test issue"
	run := newRun(t, 2, &slowEvaluator{delay: 5 * time.Millisecond, findings: []*types.Finding{f}})

	id := r.Start(run, 0)
	require.NotEmpty(t, id)

	st := waitTerminal(t, r, id)
	assert.Equal(t, scan.StatusDone, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 2, st.FilesAnalyzed)
	require.NotNil(t, st.Result)
	assert.Equal(t, 1, st.Result.IssuesFound)
	assert.NotNil(t, st.FinishedAt)
	assert.Empty(t, st.Error)
}

func TestProgressNonDecreasing(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	run := newRun(t, 5, &slowEvaluator{delay: 3 * time.Millisecond})
	id := r.Start(run, 0)

	last := -1
	for {
		st, err := r.Status(id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, st.Progress, last)
		last = st.Progress
		if st.Status.Terminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 100, last)
}

func TestStatusUnknownID(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	_, err := r.Status("no-such-task")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunSync(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	run := newRun(t, 1, &slowEvaluator{})

	result, err := r.RunSync(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesAnalyzed)
	assert.Equal(t, 100, result.HealthScore)
	// Synchronous runs are never registered.
	assert.Equal(t, 0, r.Len())
}

func TestCancel(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	run := newRun(t, 10, &slowEvaluator{delay: 20 * time.Millisecond})
	id := r.Start(run, 0)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Cancel(id))

	st := waitTerminal(t, r, id)
	assert.Equal(t, scan.StatusError, st.Status)
	assert.Equal(t, "cancelled", st.Error)
	assert.Less(t, st.FilesAnalyzed, 10)
}

func TestCancelUnknownID(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	assert.ErrorIs(t, r.Cancel("nope"), ErrNotFound)
}

func TestRunTimeout(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())
	run := newRun(t, 10, &slowEvaluator{delay: 30 * time.Millisecond})

	id := r.Start(run, 10*time.Millisecond)
	st := waitTerminal(t, r, id)
	assert.Equal(t, scan.StatusError, st.Status)
	assert.Equal(t, "cancelled", st.Error)
}

func TestRetentionSweep(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, quietLogger())
	run := newRun(t, 1, &slowEvaluator{})
	id := r.Start(run, 0)

	waitTerminal(t, r, id)
	time.Sleep(20 * time.Millisecond)

	// The sweep runs on the next registry access.
	_, err := r.Status(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestOnTerminalHook(t *testing.T) {
	r := NewRegistry(time.Minute, quietLogger())

	done := make(chan scan.Snapshot, 1)
	r.OnTerminal(func(id string, run *scan.Run, started, finished time.Time) {
		assert.NotEmpty(t, id)
		assert.NotEmpty(t, run.Target())
		assert.False(t, finished.Before(started))
		done <- run.Snapshot()
	})

	run := newRun(t, 1, &slowEvaluator{})
	r.Start(run, 0)

	select {
	case snap := <-done:
		assert.Equal(t, scan.StatusDone, snap.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal hook never fired")
	}
}
