// Package store implements the durable issue store: one markdown document
// per finding keyed by its content fingerprint, plus a consolidated JSON
// index used for listing and filtering without loading documents.
//
// Layout on disk:
//
//	{dir}/{category}/{severity}/{id}.md
//	{dir}/index.json
//
// All index-mutating operations are serialized behind a single writer lock.
// Upserts arrive concurrently from parallel evaluator fan-out, so the lock
// is the invariant that keeps the index and documents paired: an index entry
// never outlives its document and vice versa.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/codescope/codescope/internal/types"
)

// ErrNotFound is returned when a finding does not exist in the store.
var ErrNotFound = errors.New("finding not found")

// Store persists findings to the filesystem.
type Store struct {
	mu    sync.RWMutex
	dir   string
	index map[string]*types.Finding // fingerprint → finding
}

// New opens (or creates) a store rooted at dir and loads its index.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating issues directory: %w", err)
	}

	s := &Store{
		dir:   dir,
		index: make(map[string]*types.Finding),
	}
	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Upsert writes a finding keyed by its fingerprint. Writing the same
// fingerprint twice with identical content is a no-op. Writing different
// content under the same fingerprint replaces the document but preserves
// the original creation timestamp.
func (s *Store) Upsert(f *types.Finding) error {
	if f.ID == "" {
		f.ID = types.Fingerprint(f.Location, f.Title, f.CodeSnippet)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid finding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneFinding(f)
	if existing, ok := s.index[f.ID]; ok {
		if sameContent(existing, stored) {
			return nil
		}
		// Fingerprint-identical fields cannot have changed, but severity,
		// description, or solution may have. Keep the first-seen timestamp.
		stored.CreatedAt = existing.CreatedAt
		if existing.Severity != stored.Severity || existing.Category != stored.Category {
			// Document lives under {category}/{severity}; remove the old copy.
			_ = os.Remove(s.docPath(existing))
		}
	}

	if err := s.writeDoc(stored); err != nil {
		return err
	}

	s.index[stored.ID] = stored
	if err := s.saveIndex(); err != nil {
		// Roll the document back so index and documents stay paired.
		_ = os.Remove(s.docPath(stored))
		delete(s.index, stored.ID)
		return err
	}
	return nil
}

// Get returns the finding for a fingerprint, or ErrNotFound.
func (s *Store) Get(id string) (*types.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneFinding(f), nil
}

// Markdown returns the rendered document for a finding, or ErrNotFound.
func (s *Store) Markdown(id string) (string, error) {
	s.mu.RLock()
	f, ok := s.index[id]
	if !ok {
		s.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	path := s.docPath(f)
	s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading document for %s: %w", id, err)
	}
	return string(data), nil
}

// Delete removes a finding and its document. Returns ErrNotFound if the
// fingerprint is unknown.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(s.index, id)
	if err := s.saveIndex(); err != nil {
		s.index[id] = f
		return err
	}

	_ = os.Remove(s.docPath(f))
	s.pruneEmptyDirs(f)
	return nil
}

// Clear deletes every finding and returns how many were removed.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.index)
	for _, f := range s.index {
		_ = os.Remove(s.docPath(f))
		s.pruneEmptyDirs(f)
	}
	s.index = make(map[string]*types.Finding)
	if err := s.saveIndex(); err != nil {
		return 0, err
	}
	return count, nil
}

// Count returns the number of stored findings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Summary aggregates finding counts by category and severity.
type Summary struct {
	Total       int                    `json:"total"`
	ByCategory  map[types.Category]int `json:"by_type"`
	BySeverity  map[types.Severity]int `json:"by_risk_level"`
}

// Summary returns aggregate counts for all stored findings. Every valid
// category and severity appears in the maps, including zero counts.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Total:      len(s.index),
		ByCategory: make(map[types.Category]int, 3),
		BySeverity: make(map[types.Severity]int, 4),
	}
	for _, c := range types.Categories() {
		sum.ByCategory[c] = 0
	}
	for _, sev := range types.Severities() {
		sum.BySeverity[sev] = 0
	}
	for _, f := range s.index {
		sum.ByCategory[f.Category]++
		sum.BySeverity[f.Severity]++
	}
	return sum
}

// docPath returns the document location for a finding.
func (s *Store) docPath(f *types.Finding) string {
	return filepath.Join(s.dir, string(f.Category), string(f.Severity), f.ID+".md")
}

func (s *Store) writeDoc(f *types.Finding) error {
	path := s.docPath(f)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating document directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(f.Markdown()), 0644); err != nil {
		return fmt.Errorf("writing document %s: %w", f.ID, err)
	}
	return nil
}

// pruneEmptyDirs removes the finding's severity and category directories if
// they are now empty. Best effort only.
func (s *Store) pruneEmptyDirs(f *types.Finding) {
	sevDir := filepath.Join(s.dir, string(f.Category), string(f.Severity))
	_ = removeIfEmpty(sevDir)
	_ = removeIfEmpty(filepath.Dir(sevDir))
}

func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return err
	}
	return os.Remove(dir)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var findings []*types.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return fmt.Errorf("corrupt index: %w", err)
	}
	for _, f := range findings {
		s.index[f.ID] = f
	}
	return nil
}

// saveIndex atomically replaces index.json (temp file + rename) so a crash
// mid-write never leaves a truncated index behind. Must be called with the
// write lock held.
func (s *Store) saveIndex() error {
	findings := make([]*types.Finding, 0, len(s.index))
	for _, f := range s.index {
		findings = append(findings, f)
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].ID < findings[j].ID })

	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp index: %w", err)
	}
	if err := os.Rename(tmpName, s.indexPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

func cloneFinding(f *types.Finding) *types.Finding {
	c := *f
	return &c
}

// sameContent reports whether two findings are identical apart from their
// creation timestamps.
func sameContent(a, b *types.Finding) bool {
	return a.ID == b.ID &&
		a.Location == b.Location &&
		a.Category == b.Category &&
		a.Severity == b.Severity &&
		a.Title == b.Title &&
		a.Description == b.Description &&
		a.CodeSnippet == b.CodeSnippet &&
		a.Solution == b.Solution &&
		a.Author == b.Author
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Category types.Category
	Severity types.Severity
	Search   string // case-insensitive substring over title, description, location
	File     string // case-insensitive substring over location
}

func (flt Filter) matches(f *types.Finding) bool {
	if flt.Category != "" && f.Category != flt.Category {
		return false
	}
	if flt.Severity != "" && f.Severity != flt.Severity {
		return false
	}
	if flt.Search != "" {
		q := strings.ToLower(flt.Search)
		if !strings.Contains(strings.ToLower(f.Title), q) &&
			!strings.Contains(strings.ToLower(f.Description), q) &&
			!strings.Contains(strings.ToLower(f.Location), q) {
			return false
		}
	}
	if flt.File != "" && !strings.Contains(strings.ToLower(f.Location), strings.ToLower(flt.File)) {
		return false
	}
	return true
}

// MaxPageSize bounds List pagination.
const MaxPageSize = 100

// ListResult is one page of filtered findings.
type ListResult struct {
	Findings      []*types.Finding `json:"issues"`
	Total         int              `json:"total"`
	FilteredTotal int              `json:"filtered_total"`
	Page          int              `json:"page"`
	PageSize      int              `json:"page_size"`
}

// List returns findings matching the filter, paginated. Pages are 1-indexed;
// page size is clamped to [1, MaxPageSize]. Results are ordered by severity
// (most severe first), then newest first, then by fingerprint so the order
// is stable across calls.
func (s *Store) List(flt Filter, page, pageSize int) ListResult {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	s.mu.RLock()
	total := len(s.index)
	matched := make([]*types.Finding, 0, total)
	for _, f := range s.index {
		if flt.matches(f) {
			matched = append(matched, cloneFinding(f))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	result := ListResult{
		Total:         total,
		FilteredTotal: len(matched),
		Page:          page,
		PageSize:      pageSize,
		Findings:      []*types.Finding{},
	}

	start := (page - 1) * pageSize
	if start < len(matched) {
		end := start + pageSize
		if end > len(matched) {
			end = len(matched)
		}
		result.Findings = matched[start:end]
	}
	return result
}

// All returns every stored finding, unordered.
func (s *Store) All() []*types.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Finding, 0, len(s.index))
	for _, f := range s.index {
		out = append(out, cloneFinding(f))
	}
	return out
}
