// Package scan drives one analysis run from submission to a terminal
// status. A run walks the target, fans each file out to the category
// evaluators, dedupes and persists what comes back, then compiles the
// report. One goroutine owns the run; any number of pollers may read its
// snapshot.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codescope/codescope/internal/evaluator"
	"github.com/codescope/codescope/internal/report"
	"github.com/codescope/codescope/internal/scanfs"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/types"
)

// DefaultEvalTimeout bounds one evaluator call. A timed-out call becomes a
// diagnostic finding, not a run failure.
const DefaultEvalTimeout = 2 * time.Minute

// ErrCancelled is the run error recorded when cancellation stops a run
// between files.
var ErrCancelled = errors.New("cancelled")

// Options configures one run.
type Options struct {
	// IncludeExtensions narrows which file types are queued.
	IncludeExtensions []string
	// ExcludePatterns adds ignore patterns on top of the defaults.
	ExcludePatterns []string
	// MaxFiles caps the queue; zero means unlimited.
	MaxFiles int
	// EvalTimeout is the per-evaluator-call deadline; zero means
	// DefaultEvalTimeout.
	EvalTimeout time.Duration
}

// Result is the terminal outcome of a successful run.
type Result struct {
	IssuesFound   int    `json:"issues_found"`
	FilesAnalyzed int    `json:"files_analyzed"`
	HealthScore   int    `json:"health_score"`
	Summary       string `json:"summary"`
}

// Snapshot is a consistent point-in-time view of a run for pollers.
type Snapshot struct {
	Status        Status
	Progress      int
	FilesAnalyzed int
	Result        *Result
	Err           string
}

// Run is one scan over a target root. Create with New, drive with
// Execute exactly once, observe with Snapshot.
type Run struct {
	root  string
	eval  evaluator.Evaluator
	docs  *store.Store
	opts  Options
	log   *slog.Logger
	cats  []types.Category

	mu        sync.Mutex
	status    Status
	progress  int
	processed int
	total     int
	errDetail string
	result    *Result

	// Owned by the Execute goroutine, never read concurrently.
	seen     map[string]struct{}
	findings []*types.Finding
}

// New builds a run in the pending state.
func New(root string, eval evaluator.Evaluator, docs *store.Store, opts Options, log *slog.Logger) *Run {
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Run{
		root:     root,
		eval:     eval,
		docs:     docs,
		opts:     opts,
		log:      log,
		cats:     types.Categories(),
		status:   StatusPending,
		progress: 5,
		seen:     make(map[string]struct{}),
	}
}

// Target returns the run's scan root.
func (r *Run) Target() string {
	return r.root
}

// Snapshot returns the run's current state. Progress is monotonically
// non-decreasing across successive calls.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Status:        r.status,
		Progress:      r.progress,
		FilesAnalyzed: r.processed,
		Result:        r.result,
		Err:           r.errDetail,
	}
}

// Execute drives the run to a terminal status. It must be called exactly
// once. Cancellation through ctx is honored between files only; the
// in-flight fan-out always completes and its findings are persisted.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	files, err := scanfs.Collect(r.root, scanfs.Options{
		IncludeExtensions: r.opts.IncludeExtensions,
		ExcludePatterns:   r.opts.ExcludePatterns,
		MaxFiles:          r.opts.MaxFiles,
	})
	if err != nil {
		r.fail(err.Error())
		return nil, err
	}

	r.mu.Lock()
	r.total = len(files)
	r.mu.Unlock()

	if len(files) == 0 {
		if err := r.transition(StatusCompiling); err != nil {
			return nil, err
		}
	} else {
		if err := r.transition(StatusScanning); err != nil {
			return nil, err
		}
		r.setProgress(10)

		for _, file := range files {
			// Cancellation is only observed here, between files.
			if ctx.Err() != nil {
				r.fail(ErrCancelled.Error())
				return nil, ErrCancelled
			}
			if err := r.processFile(ctx, file); err != nil {
				r.fail(err.Error())
				return nil, err
			}
			r.advance()
		}
		if err := r.transition(StatusCompiling); err != nil {
			return nil, err
		}
	}

	r.setProgress(95)
	compiled := report.Compile(r.root, len(files), r.findings)
	result := &Result{
		IssuesFound:   len(r.findings),
		FilesAnalyzed: len(files),
		HealthScore:   compiled.HealthScore,
		Summary:       compiled.Summary,
	}

	r.mu.Lock()
	r.result = result
	r.mu.Unlock()

	if err := r.transition(StatusDone); err != nil {
		return nil, err
	}
	r.setProgress(100)

	r.log.Info("scan complete",
		"root", r.root,
		"files", len(files),
		"findings", len(r.findings),
		"health_score", compiled.HealthScore)
	return result, nil
}

// processFile runs the full category fan-out for one file and persists the
// merged findings. Evaluator failures degrade to diagnostic findings; only
// persistence failures propagate.
func (r *Run) processFile(ctx context.Context, path string) error {
	content, ok, err := scanfs.ReadSource(r.root, path)
	if err != nil {
		return r.merge(diagnostic(path, "read", err))
	}
	if !ok {
		// Binary content slipped past the extension filter.
		return nil
	}
	file := evaluator.SourceFile{Path: path, Content: content}

	// Fixed-arity fan-out: one labeled slot per category, joined before
	// merging so a file's findings land in the store as a unit.
	found := make([][]*types.Finding, len(r.cats))
	failures := make([]error, len(r.cats))

	var g errgroup.Group
	for i, cat := range r.cats {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.opts.EvalTimeout)
			defer cancel()
			found[i], failures[i] = r.eval.Evaluate(callCtx, cat, file)
			return nil
		})
	}
	// The goroutines report through their slots, never through errgroup.
	_ = g.Wait()

	var merged []*types.Finding
	for i, cat := range r.cats {
		if failures[i] != nil {
			r.log.Warn("evaluator failed",
				"file", path, "category", cat, "error", failures[i])
			merged = append(merged, diagnostic(path, string(cat), failures[i]))
			continue
		}
		merged = append(merged, found[i]...)
	}
	return r.merge(merged...)
}

// merge dedupes findings against the run's accumulated set and upserts the
// new ones. A store failure is unrecoverable.
func (r *Run) merge(findings ...*types.Finding) error {
	for _, f := range findings {
		if _, dup := r.seen[f.ID]; dup {
			continue
		}
		r.seen[f.ID] = struct{}{}
		r.findings = append(r.findings, f)
		if err := r.docs.Upsert(f); err != nil {
			return fmt.Errorf("persisting finding %s: %w", f.ID, err)
		}
	}
	return nil
}

// diagnostic records a recoverable per-(file, category) failure as a
// low-severity finding so the run keeps its forward progress.
func diagnostic(path, stage string, cause error) *types.Finding {
	f := types.NewFinding(
		path+":1",
		types.CategoryArchitecture,
		types.SeverityLow,
		fmt.Sprintf("Incomplete %s analysis of %s", stage, path),
		"",
	)
	f.Description = fmt.Sprintf("The %s evaluation of this file did not complete: %v. Its findings for this category are missing from the report.", stage, cause)
	f.Solution = "Re-run the scan; if the failure persists, check evaluator connectivity and the file's readability."
	f.Author = "scan-diagnostic"
	return f
}

// transition moves the run's status, enforcing the transition table.
func (r *Run) transition(to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !canTransition(r.status, to) {
		return fmt.Errorf("illegal status transition %s -> %s", r.status, to)
	}
	r.status = to
	return nil
}

// fail moves the run to the error state with detail. Safe to call from any
// non-terminal state; a no-op once terminal.
func (r *Run) fail(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = StatusError
	r.errDetail = detail
}

// advance counts one processed file and recomputes progress in the
// 10..90 band.
func (r *Run) advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	if r.total > 0 {
		p := 10 + (80*r.processed)/r.total
		if p > r.progress {
			r.progress = p
		}
	}
}

// setProgress raises progress to p; it never lowers it.
func (r *Run) setProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p > r.progress {
		r.progress = p
	}
}
