// Package evaluator defines the port through which scan runs obtain
// findings for a (file, category) pair, plus the two implementations: a
// model-backed evaluator and a deterministic pattern evaluator used when no
// model backend is configured.
package evaluator

import (
	"context"

	"github.com/codescope/codescope/internal/types"
)

// SourceFile is one unit of work handed to an evaluator.
type SourceFile struct {
	Path    string // path relative to the scan root
	Content string
}

// Evaluator inspects one file for one category and returns zero or more
// normalized findings.
//
// Implementations must be safe for concurrent calls with different
// categories on the same file and must not mutate shared state. A returned
// error is recoverable: callers treat it as "no findings for this pair"
// with a recorded diagnostic, never as fatal to the run. Callers apply the
// per-call deadline through ctx.
type Evaluator interface {
	Evaluate(ctx context.Context, category types.Category, file SourceFile) ([]*types.Finding, error)
}
