package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codescope/codescope/internal/ai"
	"github.com/codescope/codescope/internal/types"
)

// maxFindingsPerCall caps how many findings a single model response may
// contribute. Responses beyond the cap are truncated, not rejected.
const maxFindingsPerCall = 20

// maxFileBytes guards the prompt against pathologically large files. Files
// over the cap are truncated with a marker so the model knows content is
// partial.
const maxFileBytes = 48 * 1024

// ModelEvaluator asks an AI model to review a file for one category and
// parses the structured response into findings.
type ModelEvaluator struct {
	client *ai.Client
	model  string
	log    *slog.Logger
}

// NewModelEvaluator builds an evaluator that sends requests through client.
// model selects the model for every call this evaluator makes; empty means
// the client's default. One ModelEvaluator is built per scan run so the
// run's model choice travels with it.
func NewModelEvaluator(client *ai.Client, model string, log *slog.Logger) *ModelEvaluator {
	if log == nil {
		log = slog.Default()
	}
	return &ModelEvaluator{client: client, model: model, log: log}
}

// rawFinding is the shape the model is instructed to emit. Field names
// mirror the wire vocabulary so the model's JSON maps directly.
type rawFinding struct {
	Line        int    `json:"line"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CodeSnippet string `json:"code_snippet"`
	Solution    string `json:"solution"`
	RiskLevel   string `json:"risk_level"`
}

// Evaluate sends the file to the model with a category-specific review
// prompt and normalizes the response into findings.
func (e *ModelEvaluator) Evaluate(ctx context.Context, category types.Category, file SourceFile) ([]*types.Finding, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("invalid category %q", category)
	}

	prompt := buildPrompt(category, file)
	operation := fmt.Sprintf("evaluate-%s", category)

	resp, err := e.client.Complete(ctx, prompt, operation, e.model, 4096)
	if err != nil {
		return nil, fmt.Errorf("model evaluation of %s for %s: %w", file.Path, category, err)
	}

	raw, err := ai.ExtractJSON[[]rawFinding](resp)
	if err != nil {
		return nil, fmt.Errorf("parsing model response for %s: %w", file.Path, err)
	}

	findings := make([]*types.Finding, 0, len(raw))
	for i, rf := range raw {
		if i >= maxFindingsPerCall {
			e.log.Warn("truncating model findings",
				"file", file.Path,
				"category", category,
				"returned", len(raw),
				"kept", maxFindingsPerCall)
			break
		}
		f := normalize(rf, category, file.Path)
		if f == nil {
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// normalize converts one model-emitted finding into the canonical form.
// Returns nil when the entry is unusable (no title).
func normalize(rf rawFinding, category types.Category, path string) *types.Finding {
	title := strings.TrimSpace(rf.Title)
	if title == "" {
		return nil
	}
	if len(title) > 200 {
		title = title[:200]
	}

	line := rf.Line
	if line < 1 {
		line = 1
	}
	location := fmt.Sprintf("%s:%d", path, line)

	severity, err := types.ParseSeverity(rf.RiskLevel)
	if err != nil {
		// Unknown risk labels degrade to medium rather than dropping
		// the finding.
		severity = types.SeverityMedium
	}

	f := types.NewFinding(location, category, severity, title, strings.TrimSpace(rf.CodeSnippet))
	f.Description = strings.TrimSpace(rf.Description)
	if f.Description == "" {
		// The store rejects findings without a description.
		f.Description = title
	}
	f.Solution = strings.TrimSpace(rf.Solution)
	f.Author = string(category) + "-evaluator"
	return f
}

// categoryBriefs are the review charters, one per category. The model is
// told exactly what falls inside its lane so the three parallel reviews of
// a file do not duplicate each other.
var categoryBriefs = map[types.Category]string{
	types.CategorySecurity: `You are a security reviewer. Look for:
- injection risks (SQL, command, template, path traversal)
- hardcoded secrets, API keys, passwords, tokens
- weak or misused cryptography and insecure randomness
- unsafe deserialization or eval of untrusted input
- missing authentication or authorization checks
- unvalidated or unsanitized external input`,
	types.CategoryPerformance: `You are a performance reviewer. Look for:
- algorithmic inefficiency (nested loops over large data, repeated work)
- N+1 query patterns and chatty I/O in loops
- unbounded memory growth, large allocations in hot paths
- blocking calls where concurrency or batching is expected
- missing caching for expensive repeated computation`,
	types.CategoryArchitecture: `You are an architecture reviewer. Look for:
- functions or types with too many responsibilities
- tight coupling, circular-dependency smells, leaked abstractions
- duplicated logic that should be factored out
- error handling that swallows or loses failure context
- dead code and misleading names that will mislead maintainers`,
}

func buildPrompt(category types.Category, file SourceFile) string {
	content := file.Content
	if len(content) > maxFileBytes {
		content = content[:maxFileBytes] + "\n... [truncated]"
	}

	var b strings.Builder
	b.WriteString(categoryBriefs[category])
	b.WriteString("\n\nReview the following file. Report only real, concrete issues you can point at; do not pad the list.\n\n")
	fmt.Fprintf(&b, "File: %s\n\n```\n%s\n```\n\n", file.Path, content)
	b.WriteString(`Respond with a JSON array (and nothing else). Each element:
{
  "line": <1-based line number of the issue>,
  "title": "<short issue title>",
  "description": "<what is wrong and why it matters>",
  "code_snippet": "<the offending code, verbatim>",
  "solution": "<how to fix it>",
  "risk_level": "<critical|high|medium|low>"
}

Return [] if the file has no issues in this category.`)
	return b.String()
}
