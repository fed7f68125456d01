// Package task tracks asynchronous scan runs. The registry hands out task
// ids, drives each run on its own worker goroutine, and serves
// non-blocking status reads to pollers. Finished tasks linger for a
// retention window so late pollers still see the terminal result, then get
// swept.
package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codescope/codescope/internal/scan"
)

// DefaultRetention is how long a terminal task stays pollable.
const DefaultRetention = 30 * time.Minute

// ErrNotFound reports an unknown or already-swept task id.
var ErrNotFound = errors.New("task not found")

// Status is the pollable view of one task. Progress never decreases
// between successive reads of the same task.
type Status struct {
	TaskID        string       `json:"task_id"`
	Status        scan.Status  `json:"status"`
	Progress      int          `json:"progress"`
	FilesAnalyzed int          `json:"files_analyzed"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Result        *scan.Result `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// entry is the registry's record of one run.
type entry struct {
	id         string
	run        *scan.Run
	cancel     context.CancelFunc
	startedAt  time.Time
	finishedAt time.Time // zero until terminal
}

// Registry owns the task map. All methods are safe for concurrent use.
type Registry struct {
	retention time.Duration
	log       *slog.Logger

	// onTerminal, when set, fires once per task after its run reaches a
	// terminal status. Called outside the registry lock.
	onTerminal func(id string, run *scan.Run, started, finished time.Time)

	mu    sync.Mutex
	tasks map[string]*entry
}

// NewRegistry builds an empty registry. retention <= 0 selects
// DefaultRetention.
func NewRegistry(retention time.Duration, log *slog.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		retention: retention,
		log:       log,
		tasks:     make(map[string]*entry),
	}
}

// OnTerminal registers a completion hook. Must be called before the first
// Start.
func (r *Registry) OnTerminal(fn func(id string, run *scan.Run, started, finished time.Time)) {
	r.onTerminal = fn
}

// RunSync executes the run inline on the caller's path and returns its
// terminal result. Synchronous runs are not registered; they have no task
// id to poll.
func (r *Registry) RunSync(ctx context.Context, run *scan.Run) (*scan.Result, error) {
	return run.Execute(ctx)
}

// Start launches the run on its own worker and returns its task id
// immediately. timeout > 0 bounds the whole run; hitting it cancels the
// run between files, the same way an explicit Cancel does.
func (r *Registry) Start(run *scan.Run, timeout time.Duration) string {
	id := uuid.New().String()

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	e := &entry{id: id, run: run, cancel: cancel, startedAt: time.Now()}

	r.mu.Lock()
	r.sweepLocked()
	r.tasks[id] = e
	r.mu.Unlock()

	go func() {
		defer cancel()
		if _, err := run.Execute(ctx); err != nil {
			r.log.Warn("scan task failed", "task_id", id, "error", err)
		}
		finished := time.Now()

		r.mu.Lock()
		e.finishedAt = finished
		r.mu.Unlock()

		if r.onTerminal != nil {
			r.onTerminal(id, run, e.startedAt, finished)
		}
	}()

	r.log.Info("scan task started", "task_id", id)
	return id
}

// Status reads the task's current state. Unknown ids report ErrNotFound.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.Lock()
	r.sweepLocked()
	e, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return Status{}, ErrNotFound
	}

	snap := e.run.Snapshot()
	st := Status{
		TaskID:        id,
		Status:        snap.Status,
		Progress:      snap.Progress,
		FilesAnalyzed: snap.FilesAnalyzed,
		StartedAt:     e.startedAt,
		Result:        snap.Result,
		Error:         snap.Err,
	}
	r.mu.Lock()
	if !e.finishedAt.IsZero() {
		finished := e.finishedAt
		st.FinishedAt = &finished
	}
	r.mu.Unlock()
	return st, nil
}

// Cancel requests cooperative cancellation of a running task. The run
// stops after its in-flight file completes. Cancelling a terminal task is
// a no-op.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.cancel()
	return nil
}

// Len reports how many tasks are currently tracked, including terminal
// ones not yet swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// sweepLocked drops tasks that reached a terminal state longer than the
// retention window ago. Caller holds r.mu.
func (r *Registry) sweepLocked() {
	cutoff := time.Now().Add(-r.retention)
	for id, e := range r.tasks {
		if !e.finishedAt.IsZero() && e.finishedAt.Before(cutoff) {
			delete(r.tasks, id)
		}
	}
}
