package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Finding represents a single normalized analysis result detected in a
// scanned file. Findings are identified by a deterministic content
// fingerprint rather than an assigned ID, so re-detecting the same problem
// always resolves to the same record.
type Finding struct {
	ID          string    `json:"id"`
	Location    string    `json:"location"` // "path/to/file.go:42"
	Category    Category  `json:"type"`
	Severity    Severity  `json:"risk_level"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CodeSnippet string    `json:"code_snippet"`
	Solution    string    `json:"solution"`
	Author      string    `json:"author,omitempty"` // evaluator that produced it
	CreatedAt   time.Time `json:"created_at"`
}

// Fingerprint computes the deterministic identity for a finding from its
// location, title, and code snippet. The digest is truncated to 12 hex
// characters, which is short enough for URLs and long enough that
// collisions are not a practical concern at issue-store scale.
//
// Two findings with identical (location, title, snippet) always collapse to
// the same fingerprint, which is what makes re-scans idempotent.
func Fingerprint(location, title, snippet string) string {
	content := location + "|" + title + "|" + snippet
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:12]
}

// NewFinding constructs a finding with its fingerprint and creation
// timestamp populated. Description, Solution, and Author are set by the
// caller; they do not participate in identity.
func NewFinding(location string, category Category, severity Severity, title, snippet string) *Finding {
	return &Finding{
		ID:          Fingerprint(location, title, snippet),
		Location:    location,
		Category:    category,
		Severity:    severity,
		Title:       title,
		CodeSnippet: snippet,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks that the finding has valid field values.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.Location) == "" {
		return fmt.Errorf("location is required")
	}
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(f.Title) > 200 {
		return fmt.Errorf("title must be 200 characters or less (got %d)", len(f.Title))
	}
	if strings.TrimSpace(f.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if !f.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", f.Category)
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if f.ID != "" && f.ID != Fingerprint(f.Location, f.Title, f.CodeSnippet) {
		return fmt.Errorf("id %q does not match content fingerprint", f.ID)
	}
	return nil
}

// File returns the file portion of the finding's location ("a.go:15" → "a.go").
func (f *Finding) File() string {
	if i := strings.LastIndex(f.Location, ":"); i > 0 {
		return f.Location[:i]
	}
	return f.Location
}

// Category classifies what kind of problem a finding describes.
type Category string

const (
	CategorySecurity     Category = "security"
	CategoryPerformance  Category = "performance"
	CategoryArchitecture Category = "architecture"
)

// Categories lists all valid categories in evaluation order.
func Categories() []Category {
	return []Category{CategorySecurity, CategoryPerformance, CategoryArchitecture}
}

// IsValid checks if the category value is valid.
func (c Category) IsValid() bool {
	switch c {
	case CategorySecurity, CategoryPerformance, CategoryArchitecture:
		return true
	}
	return false
}

// Severity expresses how risky a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists all valid severities from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// IsValid checks if the severity value is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities for sorting: lower rank is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// ParseCategory validates and converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid category %q (want security, performance, or architecture)", s)
	}
	return c, nil
}

// ParseSeverity validates and converts a string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("invalid severity %q (want critical, high, medium, or low)", s)
	}
	return sev, nil
}
