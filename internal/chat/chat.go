// Package chat answers questions about stored findings. Each session
// keeps a short rolling transcript; the current finding summary, and the
// specific finding when the caller names one, are folded into every
// prompt as context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/types"
)

// maxTurns bounds the transcript kept per session; older turns fall off.
const maxTurns = 20

// defaultSessionRetention is how long an idle session survives before
// the sweep drops it, when no retention is configured.
const defaultSessionRetention = time.Hour

// ErrUnavailable reports that no model backend is configured, so chat
// cannot answer.
var ErrUnavailable = errors.New("chat backend not configured")

// ErrSessionNotFound reports an unknown or expired session id.
var ErrSessionNotFound = errors.New("session not found")

// Completer is the slice of the AI client chat needs.
type Completer interface {
	Complete(ctx context.Context, prompt, operation, model string, maxTokens int) (string, error)
}

// Request is one user message. Context carries the optional finding
// reference and session continuation, passed through from the API
// unchanged.
type Request struct {
	Message string  `json:"message"`
	Context Context `json:"context"`
}

// Context scopes a chat message.
type Context struct {
	IssueID   string `json:"issue_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the answer plus the session id to continue with.
type Response struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	IssueID   string `json:"issue_id,omitempty"`
}

// SessionInfo summarizes one active session.
type SessionInfo struct {
	ID         string    `json:"session_id"`
	Turns      int       `json:"turns"`
	LastActive time.Time `json:"last_active"`
}

// Turn is one transcript entry.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Transcript is a session together with its retained turns.
type Transcript struct {
	SessionInfo
	History []Turn `json:"history"`
}

type session struct {
	turns    []Turn
	lastSeen time.Time
}

// Service runs chat sessions over the finding store.
type Service struct {
	completer Completer
	docs      *store.Store
	model     string
	retention time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds the chat service. completer may be nil when no backend is
// configured; Ask then reports ErrUnavailable. A zero retention keeps
// idle sessions for an hour.
func New(completer Completer, docs *store.Store, model string, retention time.Duration, log *slog.Logger) *Service {
	if retention <= 0 {
		retention = defaultSessionRetention
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		completer: completer,
		docs:      docs,
		model:     model,
		retention: retention,
		log:       log,
		sessions:  make(map[string]*session),
	}
}

// Ask answers one message. An empty SessionID starts a new session; the
// returned SessionID continues it. The request's IssueID, when set, is
// resolved against the store and echoed back unchanged.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	if s.completer == nil {
		return nil, ErrUnavailable
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.New("message is required")
	}

	var focused *types.Finding
	if req.Context.IssueID != "" {
		f, err := s.docs.Get(req.Context.IssueID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("resolving issue %s: %w", req.Context.IssueID, err)
			}
			// Unknown ids are passed through, not rejected; the model
			// is told the reference did not resolve.
		} else {
			focused = f
		}
	}

	sessionID, transcript := s.transcript(req.Context.SessionID)
	prompt := s.buildPrompt(message, transcript, focused, req.Context.IssueID)

	answer, err := s.completer.Complete(ctx, prompt, "chat", s.model, 2048)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	s.remember(sessionID, message, answer)
	return &Response{
		Response:  answer,
		SessionID: sessionID,
		IssueID:   req.Context.IssueID,
	}, nil
}

// transcript resolves or creates the session and returns a copy of its
// turns. The sweep of stale sessions piggybacks on this lookup.
func (s *Service) transcript(id string) (string, []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return id, append([]Turn(nil), sess.turns...)
		}
	}
	id = uuid.New().String()
	s.sessions[id] = &session{lastSeen: time.Now()}
	return id, nil
}

func (s *Service) remember(id, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	sess.turns = append(sess.turns, Turn{Role: "user", Text: question}, Turn{Role: "assistant", Text: answer})
	if len(sess.turns) > maxTurns {
		sess.turns = sess.turns[len(sess.turns)-maxTurns:]
	}
	sess.lastSeen = time.Now()
}

// Sessions lists active sessions, most recently used first. Stale
// sessions are swept before listing.
func (s *Service) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		infos = append(infos, SessionInfo{ID: id, Turns: len(sess.turns), LastActive: sess.lastSeen})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].LastActive.Equal(infos[j].LastActive) {
			return infos[i].LastActive.After(infos[j].LastActive)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Session returns one session with its transcript.
func (s *Service) Session(id string) (*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &Transcript{
		SessionInfo: SessionInfo{ID: id, Turns: len(sess.turns), LastActive: sess.lastSeen},
		History:     append([]Turn(nil), sess.turns...),
	}, nil
}

// DeleteSession drops a session and its transcript.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Service) sweepLocked() {
	cutoff := time.Now().Add(-s.retention)
	for sid, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, sid)
		}
	}
}

func (s *Service) buildPrompt(message string, transcript []Turn, focused *types.Finding, issueID string) string {
	var b strings.Builder
	b.WriteString("You are a code-review assistant. Answer questions about the analysis results below. Be concrete and cite finding ids when relevant.\n\n")

	sum := s.docs.Summary()
	fmt.Fprintf(&b, "Current findings: %d total.", sum.Total)
	if sum.Total > 0 {
		b.WriteString(" By severity:")
		for _, sev := range types.Severities() {
			fmt.Fprintf(&b, " %s=%d", sev, sum.BySeverity[sev])
		}
	}
	b.WriteString("\n\n")

	switch {
	case focused != nil:
		b.WriteString("The user is asking about this finding:\n\n")
		b.WriteString(focused.Markdown())
		b.WriteString("\n")
	case issueID != "":
		fmt.Fprintf(&b, "The user referenced finding %q, which does not exist in the store. Say so if asked about it.\n\n", issueID)
	default:
		top := s.docs.List(store.Filter{}, 1, 10)
		if len(top.Findings) > 0 {
			b.WriteString("Highest-severity findings:\n")
			for _, f := range top.Findings {
				fmt.Fprintf(&b, "- [%s] %s %s at %s: %s\n", f.ID, f.Severity, f.Category, f.Location, f.Title)
			}
			b.WriteString("\n")
		}
	}

	if len(transcript) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "user: %s\n", message)
	return b.String()
}
