// Package semantic implements the optional semantic phase consulted by
// the truth validator (spec.md §4.5 phase 2): an external, typically
// LLM-backed, analyzer that confirms or refutes truth-index findings.
//
// The interface itself lives in pkg/validators (SemanticAnalyzer) so that
// pkg/validators never needs to import this package; NoOp here merely
// satisfies that interface with a do-nothing implementation, which is the
// default until a real analyzer is configured.
package semantic

import (
	"context"

	"github.com/tbcv/engine/pkg/fuzzy"
	"github.com/tbcv/engine/pkg/validators"
)

// NoOp is the default SemanticAnalyzer: it never confirms or contributes
// findings, so the truth validator's merge phase always falls back to its
// rule-phase result.
type NoOp struct{}

func (NoOp) Analyze(ctx context.Context, family string, content []byte, detections []fuzzy.Detection) ([]validators.Finding, error) {
	return nil, nil
}

var _ validators.SemanticAnalyzer = NoOp{}
