package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codescope/codescope/internal/types"
)

func finding(sev types.Severity, cat types.Category, title string) *types.Finding {
	f := types.NewFinding("file.go:1", cat, sev, title, "snippet")
	f.Description = "desc"
	f.Author = "test"
	return f
}

func TestHealthScoreWeights(t *testing.T) {
	tests := []struct {
		name     string
		findings []*types.Finding
		want     int
	}{
		{"no findings", nil, 100},
		{"one critical", []*types.Finding{finding(types.SeverityCritical, types.CategorySecurity, "a")}, 85},
		{"one high", []*types.Finding{finding(types.SeverityHigh, types.CategorySecurity, "a")}, 92},
		{"one medium", []*types.Finding{finding(types.SeverityMedium, types.CategoryPerformance, "a")}, 97},
		{"one low", []*types.Finding{finding(types.SeverityLow, types.CategoryArchitecture, "a")}, 99},
		{
			"one critical one medium",
			[]*types.Finding{
				finding(types.SeverityCritical, types.CategorySecurity, "a"),
				finding(types.SeverityMedium, types.CategoryPerformance, "b"),
			},
			82,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HealthScore(tt.findings))
		})
	}
}

func TestHealthScorePerSeverityCaps(t *testing.T) {
	// 10 criticals would be -150 uncapped; the critical class caps at -60.
	var findings []*types.Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, finding(types.SeverityCritical, types.CategorySecurity, "c"))
	}
	assert.Equal(t, 40, HealthScore(findings))

	// Max penalty across every class still floors at 0.
	for i := 0; i < 10; i++ {
		findings = append(findings,
			finding(types.SeverityHigh, types.CategorySecurity, "h"),
			finding(types.SeverityMedium, types.CategoryPerformance, "m"),
			finding(types.SeverityLow, types.CategoryArchitecture, "l"))
	}
	score := HealthScore(findings)
	assert.Equal(t, 0, score)
}

func TestHealthScoreBounds(t *testing.T) {
	var findings []*types.Finding
	for i := 0; i < 500; i++ {
		findings = append(findings, finding(types.SeverityCritical, types.CategorySecurity, "x"))
	}
	score := HealthScore(findings)
	assert.GreaterOrEqual(t, score, 0)
	assert.LessOrEqual(t, score, 100)
}

func TestHealthScoreOrderIndependent(t *testing.T) {
	a := finding(types.SeverityCritical, types.CategorySecurity, "a")
	b := finding(types.SeverityLow, types.CategoryPerformance, "b")
	c := finding(types.SeverityMedium, types.CategoryArchitecture, "c")

	assert.Equal(t,
		HealthScore([]*types.Finding{a, b, c}),
		HealthScore([]*types.Finding{c, a, b}))
}

func TestHealthScoreNonIncreasing(t *testing.T) {
	findings := []*types.Finding{finding(types.SeverityLow, types.CategorySecurity, "a")}
	prev := HealthScore(findings)
	for _, sev := range []types.Severity{types.SeverityMedium, types.SeverityHigh, types.SeverityCritical} {
		findings = append(findings, finding(sev, types.CategorySecurity, string(sev)))
		cur := HealthScore(findings)
		assert.LessOrEqual(t, cur, prev, "adding findings must not raise the score")
		prev = cur
	}
}

func TestGrade(t *testing.T) {
	assert.Equal(t, "A - Excellent", Grade(95))
	assert.Equal(t, "B - Good", Grade(82))
	assert.Equal(t, "C - Acceptable", Grade(70))
	assert.Equal(t, "D - Needs Improvement", Grade(60))
	assert.Equal(t, "F - Critical", Grade(12))
}

func TestCompileSummaryContent(t *testing.T) {
	old := finding(types.SeverityCritical, types.CategorySecurity, "older critical")
	old.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := finding(types.SeverityCritical, types.CategorySecurity, "newer critical")
	newer.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	medium := finding(types.SeverityMedium, types.CategoryPerformance, "medium perf")

	res := Compile("./example", 2, []*types.Finding{medium, old, newer})

	assert.Equal(t, 100-2*15-3, res.HealthScore)
	assert.Contains(t, res.Summary, "`./example`")
	assert.Contains(t, res.Summary, "**Files Analyzed:** 2")
	assert.Contains(t, res.Summary, "**Total Issues Found:** 3")

	// Highest severity first, newest first within a severity.
	iNewer := indexOf(t, res.Summary, "newer critical")
	iOlder := indexOf(t, res.Summary, "older critical")
	iMedium := indexOf(t, res.Summary, "medium perf")
	assert.Less(t, iNewer, iOlder)
	assert.Less(t, iOlder, iMedium)
}

func TestCompileEmptyFindings(t *testing.T) {
	res := Compile("./clean", 4, nil)
	assert.Equal(t, 100, res.HealthScore)
	assert.Contains(t, res.Summary, "**Total Issues Found:** 0")
	assert.Contains(t, res.Summary, "Maintain code quality")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	i := strings.Index(haystack, needle)
	if i < 0 {
		t.Fatalf("expected summary to contain %q", needle)
	}
	return i
}
