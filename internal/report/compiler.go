// Package report compiles accumulated findings into a health score and a
// human-readable synopsis once a scan reaches its terminal scanning state.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codescope/codescope/internal/types"
)

// Severity penalty weights and per-severity caps. A single critical finding
// costs the most, but no severity class can sink the score on its own.
const (
	penaltyCritical = 15
	penaltyHigh     = 8
	penaltyMedium   = 3
	penaltyLow      = 1

	capCritical = 60
	capHigh     = 40
	capMedium   = 30
	capLow      = 10
)

// HealthScore computes a 0-100 score from a finding multiset. The result
// depends only on severity counts, so it is order-independent and
// deterministic for a given set of findings.
func HealthScore(findings []*types.Finding) int {
	var critical, high, medium, low int
	for _, f := range findings {
		switch f.Severity {
		case types.SeverityCritical:
			critical++
		case types.SeverityHigh:
			high++
		case types.SeverityMedium:
			medium++
		case types.SeverityLow:
			low++
		}
	}

	score := 100
	score -= min(critical*penaltyCritical, capCritical)
	score -= min(high*penaltyHigh, capHigh)
	score -= min(medium*penaltyMedium, capMedium)
	score -= min(low*penaltyLow, capLow)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Grade converts a health score to a letter grade.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A - Excellent"
	case score >= 80:
		return "B - Good"
	case score >= 70:
		return "C - Acceptable"
	case score >= 60:
		return "D - Needs Improvement"
	default:
		return "F - Critical"
	}
}

// Result holds the compiled outcome of a scan.
type Result struct {
	HealthScore int
	Summary     string
}

// Compile produces the terminal report for a run: the health score plus a
// markdown synopsis grouping findings by category and severity, with the
// most severe items listed first (ties broken newest first).
func Compile(target string, filesAnalyzed int, findings []*types.Finding) Result {
	score := HealthScore(findings)

	byCategory := make(map[types.Category]int)
	bySeverity := make(map[types.Severity]int)
	for _, f := range findings {
		byCategory[f.Category]++
		bySeverity[f.Severity]++
	}

	ordered := make([]*types.Finding, len(findings))
	copy(ordered, findings)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	var b strings.Builder
	b.WriteString("# Code Analysis Report\n\n")
	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "**Target:** `%s`  \n", target)
	fmt.Fprintf(&b, "**Files Analyzed:** %d  \n", filesAnalyzed)
	fmt.Fprintf(&b, "**Total Issues Found:** %d  \n", len(findings))
	fmt.Fprintf(&b, "**Health Score:** %d/100 (%s)\n\n", score, Grade(score))

	b.WriteString("## Issue Breakdown\n\n")
	b.WriteString("### By Severity\n\n")
	b.WriteString("| Severity | Count |\n|----------|-------|\n")
	for _, sev := range types.Severities() {
		fmt.Fprintf(&b, "| %s | %d |\n", capitalize(string(sev)), bySeverity[sev])
	}

	b.WriteString("\n### By Category\n\n")
	b.WriteString("| Category | Count |\n|----------|-------|\n")
	for _, cat := range types.Categories() {
		fmt.Fprintf(&b, "| %s | %d |\n", capitalize(string(cat)), byCategory[cat])
	}

	if top := topFindings(ordered, 10); len(top) > 0 {
		b.WriteString("\n## Top Issues\n\n")
		for i, f := range top {
			fmt.Fprintf(&b, "%d. **[%s]** %s at `%s` (%s)\n",
				i+1, strings.ToUpper(string(f.Severity)), f.Title, f.Location, f.Category)
		}
		if len(ordered) > len(top) {
			fmt.Fprintf(&b, "\n*...and %d more issues*\n", len(ordered)-len(top))
		}
	}

	b.WriteString("\n")
	b.WriteString(recommendations(byCategory, score))
	fmt.Fprintf(&b, "\n---\n\n*Report compiled at %s*\n", time.Now().UTC().Format("2006-01-02 15:04:05"))

	return Result{HealthScore: score, Summary: b.String()}
}

func topFindings(ordered []*types.Finding, n int) []*types.Finding {
	if len(ordered) < n {
		n = len(ordered)
	}
	return ordered[:n]
}

func recommendations(byCategory map[types.Category]int, score int) string {
	var b strings.Builder
	b.WriteString("## Recommendations\n\n")

	i := 1
	if n := byCategory[types.CategorySecurity]; n > 0 {
		fmt.Fprintf(&b, "%d. **Address %d security issues** - prioritize injection and credential findings first.\n", i, n)
		i++
	}
	if n := byCategory[types.CategoryPerformance]; n > 0 {
		fmt.Fprintf(&b, "%d. **Review %d performance issues** - focus on hot paths and repeated I/O.\n", i, n)
		i++
	}
	if n := byCategory[types.CategoryArchitecture]; n > 0 {
		fmt.Fprintf(&b, "%d. **Refactor %d architecture issues** - improve module boundaries and error handling.\n", i, n)
		i++
	}

	switch {
	case score < 60:
		fmt.Fprintf(&b, "%d. **Code health is critical** - schedule dedicated time for remediation.\n", i)
	case score < 80:
		fmt.Fprintf(&b, "%d. **Schedule regular reviews** - fold fixes into normal planning.\n", i)
	default:
		fmt.Fprintf(&b, "%d. **Maintain code quality** - keep current practices in place.\n", i)
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
