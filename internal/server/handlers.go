package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/codescope/codescope/internal/chat"
	"github.com/codescope/codescope/internal/history"
	"github.com/codescope/codescope/internal/scan"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/task"
	"github.com/codescope/codescope/internal/types"
)

type analyzeRequest struct {
	Path      string   `json:"path"`
	FileTypes []string `json:"file_types,omitempty"`
	Exclude   []string `json:"exclude,omitempty"`
	AsyncMode bool     `json:"async_mode,omitempty"`
	Model     string   `json:"model,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateTarget(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := s.newRun(req)

	if req.AsyncMode {
		id := s.tasks.Start(run, s.runTimeout)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"task_id": id,
			"status":  scan.StatusPending,
		})
		return
	}

	result, err := s.tasks.RunSync(r.Context(), run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.tasks.Status(r.PathValue("task_id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"task_id":        st.TaskID,
		"status":         st.Status,
		"progress":       st.Progress,
		"files_analyzed": st.FilesAnalyzed,
		"started_at":     st.StartedAt.UTC().Format(time.RFC3339),
	}
	if st.FinishedAt != nil {
		resp["finished_at"] = st.FinishedAt.UTC().Format(time.RFC3339)
	}
	if st.Result != nil {
		resp["issues_found"] = st.Result.IssuesFound
		resp["health_score"] = st.Result.HealthScore
		resp["summary"] = st.Result.Summary
	}
	if st.Error != "" {
		resp["error"] = st.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	if err := s.tasks.Cancel(id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "cancelling",
		"task_id": id,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	flt := store.Filter{
		Search: q.Get("search"),
		File:   q.Get("file"),
	}
	if v := q.Get("type"); v != "" {
		cat, err := types.ParseCategory(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		flt.Category = cat
	}
	if v := q.Get("risk_level"); v != "" {
		sev, err := types.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		flt.Severity = sev
	}

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	pageSize, err := positiveInt(q.Get("page_size"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page_size must be a positive integer")
		return
	}

	result := s.docs.List(flt, page, pageSize)
	if result.Findings == nil {
		result.Findings = []*types.Finding{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.docs.Summary())
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.docs.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "issue not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	doc, err := s.docs.Markdown(id)
	if err != nil {
		// The index entry exists but the document read failed.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issue":    f,
		"document": doc,
	})
}

func (s *Server) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.docs.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "issue not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "deleted",
		"id":     id,
	})
}

func (s *Server) handleClearIssues(w http.ResponseWriter, r *http.Request) {
	count, err := s.docs.Clear()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "cleared",
		"deleted_count": count,
		"message":       "all issues deleted",
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var req chat.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.chat.Ask(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case isValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.chat.Sessions()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	t, err := s.chat.Session(r.PathValue("session_id"))
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	id := r.PathValue("session_id")
	if err := s.chat.DeleteSession(id); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": id})
}

// isValidation distinguishes bad chat input from backend failure.
func isValidation(err error) bool {
	return err != nil && err.Error() == "message is required"
}

func positiveInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
