// Package server exposes the JSON API: scan submission and polling,
// finding browsing and deletion, run history, and chat.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/codescope/codescope/internal/chat"
	"github.com/codescope/codescope/internal/evaluator"
	"github.com/codescope/codescope/internal/history"
	"github.com/codescope/codescope/internal/scan"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/task"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Options wires the server's collaborators. Docs and Tasks are required;
// History and Chat may be nil, which disables their endpoints' extra
// behavior gracefully.
type Options struct {
	Docs  *store.Store
	Tasks *task.Registry
	Runs  *history.Log
	Chat  *chat.Service

	// EvaluatorFor builds the evaluator for one run. The model comes
	// from the request and overrides nothing globally.
	EvaluatorFor func(model string) evaluator.Evaluator

	// ScanOptions are the base per-run limits from configuration.
	ScanOptions scan.Options
	// RunTimeout bounds asynchronous runs; 0 means unlimited.
	RunTimeout time.Duration
	// Offline is reported by the health endpoint.
	Offline bool

	Log *slog.Logger
}

// Server is the HTTP API. Build with New, serve via Handler.
type Server struct {
	docs    *store.Store
	tasks   *task.Registry
	runs    *history.Log
	chat    *chat.Service
	evalFor func(model string) evaluator.Evaluator

	scanOpts   scan.Options
	runTimeout time.Duration
	offline    bool
	log        *slog.Logger
}

// New builds the server.
func New(opts Options) (*Server, error) {
	if opts.Docs == nil {
		return nil, errors.New("server requires a finding store")
	}
	if opts.Tasks == nil {
		return nil, errors.New("server requires a task registry")
	}
	if opts.EvaluatorFor == nil {
		return nil, errors.New("server requires an evaluator factory")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		docs:       opts.Docs,
		tasks:      opts.Tasks,
		runs:       opts.Runs,
		chat:       opts.Chat,
		evalFor:    opts.EvaluatorFor,
		scanOpts:   opts.ScanOptions,
		runTimeout: opts.RunTimeout,
		offline:    opts.Offline,
		log:        log,
	}
	s.tasks.OnTerminal(s.onTaskTerminal)
	return s, nil
}

// onTaskTerminal records finished async runs in the audit log.
func (s *Server) onTaskTerminal(id string, run *scan.Run, started, finished time.Time) {
	s.recordRun(id, run.Target(), run.Snapshot(), started, finished)
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("GET /analyze/history", s.handleHistory)
	mux.HandleFunc("GET /analyze/{task_id}/status", s.handleTaskStatus)
	mux.HandleFunc("DELETE /analyze/{task_id}", s.handleTaskCancel)

	mux.HandleFunc("GET /issues", s.handleListIssues)
	mux.HandleFunc("GET /issues/summary", s.handleSummary)
	mux.HandleFunc("GET /issues/{id}", s.handleGetIssue)
	mux.HandleFunc("DELETE /issues/{id}", s.handleDeleteIssue)
	mux.HandleFunc("DELETE /issues", s.handleClearIssues)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/sessions", s.handleListSessions)
	mux.HandleFunc("GET /chat/sessions/{session_id}", s.handleGetSession)
	mux.HandleFunc("DELETE /chat/sessions/{session_id}", s.handleDeleteSession)

	return s.logRequests(mux)
}

// logRequests is the access-log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "codescope",
		"version": Version,
		"endpoints": []string{
			"POST /analyze",
			"GET /analyze/{task_id}/status",
			"GET /analyze/history",
			"GET /issues",
			"GET /issues/summary",
			"GET /issues/{id}",
			"DELETE /issues/{id}",
			"DELETE /issues",
			"DELETE /analyze/{task_id}",
			"POST /chat",
			"GET /chat/sessions",
			"GET /chat/sessions/{session_id}",
			"DELETE /chat/sessions/{session_id}",
			"GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"offline": s.offline,
		"issues":  s.docs.Count(),
	})
}

// newRun assembles a scan run from one analyze request.
func (s *Server) newRun(req analyzeRequest) *scan.Run {
	opts := s.scanOpts
	if len(req.FileTypes) > 0 {
		opts.IncludeExtensions = req.FileTypes
	}
	if len(req.Exclude) > 0 {
		// Clone before appending; the base options are shared across
		// requests.
		opts.ExcludePatterns = append(append([]string(nil), opts.ExcludePatterns...), req.Exclude...)
	}
	return scan.New(req.Path, s.evalFor(req.Model), s.docs, opts, s.log)
}

// recordRun writes one finished async run to the audit log.
func (s *Server) recordRun(id, target string, snap scan.Snapshot, started, finished time.Time) {
	if s.runs == nil {
		return
	}
	e := history.Entry{
		TaskID:        id,
		Target:        target,
		Status:        string(snap.Status),
		FilesAnalyzed: snap.FilesAnalyzed,
		Error:         snap.Err,
		StartedAt:     started,
		FinishedAt:    finished,
	}
	if snap.Result != nil {
		e.IssuesFound = snap.Result.IssuesFound
		score := snap.Result.HealthScore
		e.HealthScore = &score
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runs.Record(ctx, e); err != nil {
		s.log.Warn("failed to record run history", "task_id", id, "error", err)
	}
}

// validateTarget rejects bad scan paths before any run starts.
func validateTarget(path string) error {
	if path == "" {
		return errors.New("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path %s does not exist", path)
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", path)
	}
	return nil
}
