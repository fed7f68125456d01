package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/codescope/codescope/internal/types"
)

// maxMatchesPerRule caps how many findings one rule may produce for a
// single file. Noisy rules (hardcoded IPs, magic numbers) would otherwise
// drown the report.
const maxMatchesPerRule = 5

// HeuristicEvaluator finds issues with precompiled pattern rules. It needs
// no network or credentials, so it backs offline mode and gives scans a
// deterministic floor when no model is configured.
type HeuristicEvaluator struct{}

// NewHeuristicEvaluator returns the pattern-based evaluator. It is
// stateless; one instance serves any number of concurrent calls.
func NewHeuristicEvaluator() *HeuristicEvaluator {
	return &HeuristicEvaluator{}
}

// rule is one detectable issue shape. The regex runs over the whole file
// so multi-line shapes (nested loops, query-in-loop) can match.
type rule struct {
	name     string
	re       *regexp.Regexp
	severity types.Severity
	title    string
	detail   string
	solution string
}

var heuristicRules = map[types.Category][]rule{
	types.CategorySecurity: {
		{
			name:     "sql-string-building",
			re:       regexp.MustCompile(`(?i)(execute|query|rawsql)\s*\([^)]*("[^"]*"\s*\+|'[^']*'\s*\+|%s|%v|fmt\.Sprintf)`),
			severity: types.SeverityCritical,
			title:    "SQL built from string concatenation",
			detail:   "Query text is assembled from runtime values, which allows SQL injection if any value is attacker-controlled.",
			solution: "Use parameterized queries with placeholder arguments instead of building the SQL string.",
		},
		{
			name:     "shell-command-building",
			re:       regexp.MustCompile(`(?i)(os\.system|subprocess\.(call|run|popen)|exec\.Command)\s*\([^)]*("[^"]*"\s*\+|'[^']*'\s*\+|\$\{|fmt\.Sprintf)`),
			severity: types.SeverityCritical,
			title:    "Shell command built from dynamic input",
			detail:   "Command arguments assembled from runtime values allow command injection.",
			solution: "Pass arguments as a list to the process API and never interpolate untrusted input into a shell string.",
		},
		{
			name:     "eval-usage",
			re:       regexp.MustCompile(`\b(eval|exec)\s*\(`),
			severity: types.SeverityCritical,
			title:    "Dynamic code evaluation",
			detail:   "eval/exec on any runtime-constructed string executes arbitrary code.",
			solution: "Replace dynamic evaluation with an explicit dispatch table or parser.",
		},
		{
			name:     "unsafe-deserialization",
			re:       regexp.MustCompile(`(pickle\.(load|loads)|yaml\.(load|unsafe_load))\s*\(`),
			severity: types.SeverityCritical,
			title:    "Unsafe deserialization of untrusted data",
			detail:   "pickle and full yaml.load can instantiate arbitrary objects from the input stream.",
			solution: "Use a safe loader (yaml.safe_load) or a data-only format such as JSON.",
		},
		{
			name:     "hardcoded-secret",
			re:       regexp.MustCompile(`(?i)(api_key|apikey|secret|password|token|private_key)\s*[:=]\s*["'][^"']{4,}["']`),
			severity: types.SeverityHigh,
			title:    "Hardcoded credential",
			detail:   "A secret is committed in source, visible to anyone with repository access and to version history forever.",
			solution: "Load the secret from the environment or a secrets manager and rotate the leaked value.",
		},
		{
			name:     "insecure-hash",
			re:       regexp.MustCompile(`\b(md5|sha1)\s*(\.|\()`),
			severity: types.SeverityMedium,
			title:    "Weak hash algorithm",
			detail:   "MD5 and SHA-1 are broken for collision resistance and unsuitable for any security purpose.",
			solution: "Use SHA-256 or better; for passwords use bcrypt, scrypt, or argon2.",
		},
		{
			name:     "debug-enabled",
			re:       regexp.MustCompile(`(?i)\bdebug\s*[:=]\s*true\b`),
			severity: types.SeverityMedium,
			title:    "Debug mode enabled",
			detail:   "Debug settings leak stack traces and internals when they reach production.",
			solution: "Drive debug mode from configuration and default it off.",
		},
		{
			name:     "hardcoded-ip",
			re:       regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
			severity: types.SeverityLow,
			title:    "Hardcoded IP address",
			detail:   "A literal address couples the code to one deployment and bypasses name resolution.",
			solution: "Move the address into configuration or use a hostname.",
		},
	},
	types.CategoryPerformance: {
		{
			name:     "query-in-loop",
			re:       regexp.MustCompile(`for\s+[^\n{]+[:{]\s*\n[^\n]*\.(query|execute|get|filter|find)\s*\(`),
			severity: types.SeverityHigh,
			title:    "Query inside a loop",
			detail:   "One database or API round-trip per iteration produces N+1 access patterns.",
			solution: "Batch the lookups into a single query outside the loop.",
		},
		{
			name:     "nested-loops",
			re:       regexp.MustCompile(`for\s+[^\n{]+[:{]\s*\n\s+for\s+[^\n{]+[:{]`),
			severity: types.SeverityHigh,
			title:    "Nested loops over collections",
			detail:   "Directly nested iteration is quadratic in the input size.",
			solution: "Index one side in a map/set to bring the join down to linear time.",
		},
		{
			name:     "select-star",
			re:       regexp.MustCompile(`(?i)SELECT\s+\*\s+FROM`),
			severity: types.SeverityMedium,
			title:    "SELECT * query",
			detail:   "Fetching every column moves data the caller never reads and breaks when the schema grows.",
			solution: "List the columns the caller actually needs.",
		},
		{
			name:     "string-concat-loop",
			re:       regexp.MustCompile(`for\s+[^\n{]+[:{]\s*\n[^\n]*\w+\s*\+=\s*["']`),
			severity: types.SeverityMedium,
			title:    "String concatenation in a loop",
			detail:   "Appending to an immutable string per iteration reallocates the whole buffer every time.",
			solution: "Accumulate into a builder/buffer and join once.",
		},
		{
			name:     "sleep-in-loop",
			re:       regexp.MustCompile(`for\s+[^\n{]+[:{]\s*\n[^\n]*(time\.Sleep|time\.sleep)\s*\(`),
			severity: types.SeverityLow,
			title:    "Sleep-based polling loop",
			detail:   "Fixed sleeps in a loop trade latency for load and still burn cycles while idle.",
			solution: "Block on the event (channel, condition, notification) instead of polling.",
		},
	},
	types.CategoryArchitecture: {
		{
			name:     "wildcard-import",
			re:       regexp.MustCompile(`(?m)^from\s+[\w.]+\s+import\s+\*`),
			severity: types.SeverityHigh,
			title:    "Wildcard import",
			detail:   "Importing * hides where names come from and silently shadows on collision.",
			solution: "Import the specific names the module uses.",
		},
		{
			name:     "empty-error-swallow",
			re:       regexp.MustCompile(`(?m)(^\s*except[^\n:]*:\s*\n\s+pass\b|if\s+err\s*!=\s*nil\s*\{\s*\n?\s*\})`),
			severity: types.SeverityMedium,
			title:    "Error swallowed without handling",
			detail:   "A failure is caught and discarded, so the caller proceeds on bad state with no trace of the cause.",
			solution: "Handle the error, wrap and return it, or at minimum log it with context.",
		},
		{
			name:     "bare-except",
			re:       regexp.MustCompile(`(?m)^\s*except\s*:`),
			severity: types.SeverityMedium,
			title:    "Bare exception handler",
			detail:   "Catching everything also catches exit signals and programming errors, masking real bugs.",
			solution: "Catch the specific exception types this block can actually handle.",
		},
		{
			name:     "stale-marker",
			re:       regexp.MustCompile(`(//|#)\s*(TODO|FIXME|XXX|HACK|BUG)\b`),
			severity: types.SeverityLow,
			title:    "Unresolved work marker",
			detail:   "A TODO/FIXME marker flags acknowledged debt with no tracking attached.",
			solution: "File the follow-up in the issue tracker or resolve it.",
		},
		{
			name:     "mutable-global",
			re:       regexp.MustCompile(`(?m)^global\s+\w+`),
			severity: types.SeverityLow,
			title:    "Mutable global state",
			detail:   "Writing globals couples distant code paths and defeats isolated testing.",
			solution: "Pass the state explicitly or hold it in an injected struct.",
		},
	},
}

// Evaluate runs the category's rule set over the file content.
func (e *HeuristicEvaluator) Evaluate(ctx context.Context, category types.Category, file SourceFile) ([]*types.Finding, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("invalid category %q", category)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var findings []*types.Finding
	for _, r := range heuristicRules[category] {
		locs := r.re.FindAllStringIndex(file.Content, maxMatchesPerRule)
		for _, loc := range locs {
			line := 1 + strings.Count(file.Content[:loc[0]], "\n")
			snippet := lineAt(file.Content, line)

			f := types.NewFinding(
				fmt.Sprintf("%s:%d", file.Path, line),
				category, r.severity, r.title, snippet,
			)
			f.Description = r.detail
			f.Solution = r.solution
			f.Author = "pattern-" + r.name
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// lineAt returns the 1-based line n of content, trimmed.
func lineAt(content string, n int) string {
	lines := strings.Split(content, "\n")
	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}
