package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("auth.go:15", "Hardcoded credentials", `password := "hunter2"`)
	b := Fingerprint("auth.go:15", "Hardcoded credentials", `password := "hunter2"`)
	assert.Equal(t, a, b, "identical inputs must produce identical fingerprints")
	assert.Len(t, a, 12)
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	base := Fingerprint("auth.go:15", "Hardcoded credentials", "x")

	assert.NotEqual(t, base, Fingerprint("auth.go:16", "Hardcoded credentials", "x"), "location change")
	assert.NotEqual(t, base, Fingerprint("auth.go:15", "Hardcoded secrets", "x"), "title change")
	assert.NotEqual(t, base, Fingerprint("auth.go:15", "Hardcoded credentials", "y"), "snippet change")
}

func TestNewFindingPopulatesIdentity(t *testing.T) {
	f := NewFinding("db.go:9", CategoryPerformance, SeverityMedium,
		"N+1 query in loop", "for { db.Query(...) }")
	f.Description = "Query executed per iteration"
	f.Solution = "Batch the query"
	f.Author = "performance-evaluator"

	require.NoError(t, f.Validate())
	assert.Equal(t, Fingerprint(f.Location, f.Title, f.CodeSnippet), f.ID)
	assert.False(t, f.CreatedAt.IsZero())
}

func TestFindingValidate(t *testing.T) {
	valid := func() *Finding {
		f := NewFinding("a.go:1", CategorySecurity, SeverityHigh, "t", "s")
		f.Description = "d"
		f.Author = "sec"
		return f
	}

	tests := []struct {
		name    string
		mutate  func(*Finding)
		wantErr string
	}{
		{"valid", func(f *Finding) {}, ""},
		{"missing location", func(f *Finding) { f.Location = " " }, "location is required"},
		{"missing title", func(f *Finding) { f.Title = "" }, "title is required"},
		{"title too long", func(f *Finding) { f.Title = strings.Repeat("x", 201) }, "200 characters"},
		{"missing description", func(f *Finding) { f.Description = "" }, "description is required"},
		{"bad category", func(f *Finding) { f.Category = "style" }, "invalid category"},
		{"bad severity", func(f *Finding) { f.Severity = "blocker" }, "invalid severity"},
		{"stale fingerprint", func(f *Finding) { f.Title = "changed" }, "does not match content fingerprint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(f)
			err := f.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFindingFile(t *testing.T) {
	f := &Finding{Location: "pkg/server/http.go:120"}
	assert.Equal(t, "pkg/server/http.go", f.File())

	f.Location = "README.md"
	assert.Equal(t, "README.md", f.File())
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Less(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityLow.Rank())
}

func TestParseCategoryAndSeverity(t *testing.T) {
	c, err := ParseCategory(" Security ")
	require.NoError(t, err)
	assert.Equal(t, CategorySecurity, c)

	_, err = ParseCategory("styles")
	assert.Error(t, err)

	s, err := ParseSeverity("CRITICAL")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, s)

	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
}

func TestMarkdownContainsCoreFields(t *testing.T) {
	f := NewFinding("auth.go:15", CategorySecurity, SeverityCritical,
		"SQL injection", `db.Query("SELECT * FROM users WHERE id = " + id)`)
	f.Description = "User input concatenated into query"
	f.Solution = "Use parameterized queries"
	f.Author = "security-evaluator"

	md := f.Markdown()
	assert.Contains(t, md, "# SQL injection")
	assert.Contains(t, md, f.ID)
	assert.Contains(t, md, "`auth.go:15`")
	assert.Contains(t, md, "Use parameterized queries")
	assert.Contains(t, md, "Security")
	assert.Contains(t, md, "Critical")
}
