package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/evaluator"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/types"
)

// stubEvaluator routes each (category, file) call to a scripted function.
type stubEvaluator struct {
	fn func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error)

	mu    sync.Mutex
	calls []string
}

func (s *stubEvaluator) Evaluate(ctx context.Context, cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf("%s/%s", file.Path, cat))
	s.mu.Unlock()
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(cat, file)
}

func (s *stubEvaluator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func finding(loc string, cat types.Category, sev types.Severity, title string) *types.Finding {
	f := types.NewFinding(loc, cat, sev, title, "snippet")
	f.Description = "description of " + title
	f.Author = "test"
	return f
}

func TestRunTwoFileProject(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.go": "package a",
		"b.go": "package b",
	})
	docs := newStore(t)

	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		switch {
		case file.Path == "a.go" && cat == types.CategorySecurity:
			return []*types.Finding{finding("a.go:3", cat, types.SeverityCritical, "Hardcoded key")}, nil
		case file.Path == "b.go" && cat == types.CategoryPerformance:
			return []*types.Finding{finding("b.go:7", cat, types.SeverityMedium, "Query in loop")}, nil
		}
		return nil, nil
	}}

	r := New(dir, eval, docs, Options{}, quietLogger())
	result, err := r.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.IssuesFound)
	assert.Equal(t, 2, result.FilesAnalyzed)
	assert.Equal(t, 82, result.HealthScore)
	assert.NotEmpty(t, result.Summary)

	snap := r.Snapshot()
	assert.Equal(t, StatusDone, snap.Status)
	assert.Equal(t, 100, snap.Progress)

	// Every file saw every category.
	assert.Equal(t, 6, eval.callCount())

	sum := docs.Summary()
	assert.Equal(t, 2, sum.Total)
}

func TestRunIdempotentRescan(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.go": "package a"})
	docs := newStore(t)

	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		if cat == types.CategorySecurity {
			return []*types.Finding{finding("a.go:1", cat, types.SeverityHigh, "Same issue")}, nil
		}
		return nil, nil
	}}

	for range 2 {
		r := New(dir, eval, docs, Options{}, quietLogger())
		result, err := r.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.IssuesFound)
	}
	assert.Equal(t, 1, docs.Summary().Total)
}

func TestRunDedupAcrossCategories(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.go": "package a"})
	docs := newStore(t)

	// Two categories report an identical (location, title, excerpt)
	// triple; exactly one document must be stored.
	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		if cat == types.CategoryArchitecture {
			return nil, nil
		}
		f := types.NewFinding("a.go:5", types.CategorySecurity, types.SeverityHigh, "Shared issue", "x = 1")
		f.Description = "duplicated across categories"
		return []*types.Finding{f}, nil
	}}

	r := New(dir, eval, docs, Options{}, quietLogger())
	result, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesFound)
	assert.Equal(t, 1, docs.Summary().Total)
}

func TestRunEvaluatorFailureBecomesDiagnostic(t *testing.T) {
	dir := writeProject(t, map[string]string{"c.go": "package c"})
	docs := newStore(t)

	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		if cat == types.CategorySecurity {
			return nil, errors.New("backend unavailable")
		}
		return nil, nil
	}}

	r := New(dir, eval, docs, Options{}, quietLogger())
	result, err := r.Execute(context.Background())
	require.NoError(t, err)

	// The run still completes and the file still counts as analyzed.
	assert.Equal(t, StatusDone, r.Snapshot().Status)
	assert.Equal(t, 1, result.FilesAnalyzed)
	require.Equal(t, 1, result.IssuesFound)

	listed := docs.List(store.Filter{}, 1, 10)
	require.Len(t, listed.Findings, 1)
	diag := listed.Findings[0]
	assert.Equal(t, types.CategoryArchitecture, diag.Category)
	assert.Equal(t, types.SeverityLow, diag.Severity)
	assert.Equal(t, "scan-diagnostic", diag.Author)
	assert.Contains(t, diag.Description, "backend unavailable")
}

func TestRunEvaluatorTimeoutBecomesDiagnostic(t *testing.T) {
	dir := writeProject(t, map[string]string{"slow.go": "package slow"})
	docs := newStore(t)

	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		if cat == types.CategoryPerformance {
			// Simulate an evaluator that honors its deadline.
			time.Sleep(20 * time.Millisecond)
			return nil, context.DeadlineExceeded
		}
		return nil, nil
	}}

	r := New(dir, eval, docs, Options{EvalTimeout: 5 * time.Millisecond}, quietLogger())
	result, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesAnalyzed)
	assert.Equal(t, 1, result.IssuesFound)
	assert.Equal(t, StatusDone, r.Snapshot().Status)
}

func TestRunEmptyQueue(t *testing.T) {
	dir := t.TempDir()
	docs := newStore(t)

	r := New(dir, &stubEvaluator{}, docs, Options{}, quietLogger())
	result, err := r.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.IssuesFound)
	assert.Equal(t, 0, result.FilesAnalyzed)
	assert.Equal(t, 100, result.HealthScore)
	assert.Equal(t, StatusDone, r.Snapshot().Status)
}

func TestRunMissingRoot(t *testing.T) {
	docs := newStore(t)
	r := New(filepath.Join(t.TempDir(), "nope"), &stubEvaluator{}, docs, Options{}, quietLogger())

	_, err := r.Execute(context.Background())
	require.Error(t, err)

	snap := r.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.NotEmpty(t, snap.Err)
}

func TestRunCancellationBetweenFiles(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.go": "package a",
		"b.go": "package b",
		"c.go": "package c",
	})
	docs := newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		if file.Path == "a.go" && cat == types.CategorySecurity {
			// Cancel mid-run; the in-flight fan-out still finishes and
			// its findings are persisted.
			cancel()
			return []*types.Finding{finding("a.go:1", cat, types.SeverityHigh, "Found before cancel")}, nil
		}
		return nil, nil
	}}

	r := New(dir, eval, docs, Options{}, quietLogger())
	_, err := r.Execute(ctx)
	require.ErrorIs(t, err, ErrCancelled)

	snap := r.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "cancelled", snap.Err)

	// a.go completed its barrier, so its finding survived cancellation.
	assert.Equal(t, 1, docs.Summary().Total)
	// Only the first file's fan-out ran.
	assert.Equal(t, 3, eval.callCount())
}

func TestRunProgressMonotonic(t *testing.T) {
	files := map[string]string{}
	for i := range 8 {
		files[fmt.Sprintf("f%d.go", i)] = "package f"
	}
	dir := writeProject(t, files)
	docs := newStore(t)

	r := New(dir, &stubEvaluator{fn: func(types.Category, evaluator.SourceFile) ([]*types.Finding, error) {
		time.Sleep(time.Millisecond)
		return nil, nil
	}}, docs, Options{}, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.Execute(context.Background())
		assert.NoError(t, err)
	}()

	last := -1
	for {
		snap := r.Snapshot()
		require.GreaterOrEqual(t, snap.Progress, last, "progress regressed")
		last = snap.Progress
		if snap.Status.Terminal() {
			break
		}
		time.Sleep(500 * time.Microsecond)
	}
	<-done

	snap := r.Snapshot()
	assert.Equal(t, StatusDone, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 8, snap.FilesAnalyzed)
}

func TestRunFilesProcessedInOrder(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"z.go": "package z",
		"a.go": "package a",
		"m.go": "package m",
	})
	docs := newStore(t)

	var mu sync.Mutex
	var order []string
	eval := &stubEvaluator{fn: func(cat types.Category, file evaluator.SourceFile) ([]*types.Finding, error) {
		if cat == types.CategorySecurity {
			mu.Lock()
			order = append(order, file.Path)
			mu.Unlock()
		}
		return nil, nil
	}}

	r := New(dir, eval, docs, Options{}, quietLogger())
	_, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "m.go", "z.go"}, order)
}

func TestStatusTransitionTable(t *testing.T) {
	assert.NoError(t, validateTransitions())

	assert.True(t, canTransition(StatusPending, StatusScanning))
	assert.True(t, canTransition(StatusPending, StatusCompiling))
	assert.True(t, canTransition(StatusScanning, StatusCompiling))
	assert.True(t, canTransition(StatusCompiling, StatusDone))
	assert.True(t, canTransition(StatusCompiling, StatusError))

	// No regressions, no exits from terminal states.
	assert.False(t, canTransition(StatusScanning, StatusPending))
	assert.False(t, canTransition(StatusCompiling, StatusScanning))
	assert.False(t, canTransition(StatusDone, StatusError))
	assert.False(t, canTransition(StatusError, StatusPending))
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusScanning.Terminal())
	assert.True(t, StatusPending.IsValid())
	assert.False(t, Status("running").IsValid())
}
