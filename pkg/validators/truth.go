package validators

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tbcv/engine/pkg/fuzzy"
	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/truth"
)

var truthLog = logger.New("validators:truth")

// TruthValidator runs the three-phase truth check described in spec.md
// §4.5: a rule phase (FuzzyDetector + truth pattern + combination-rule
// checks), an optional semantic phase, and a merge phase that resolves
// conflicts between the two.
type TruthValidator struct {
	cfg               ValidatorConfig
	semanticConfirm   float64
	semanticDowngrade float64
	semanticUpgrade   float64
}

func NewTruthValidator() *TruthValidator {
	return &TruthValidator{
		semanticConfirm:   0.6,
		semanticDowngrade: 0.4,
		semanticUpgrade:   0.9,
	}
}

func (v *TruthValidator) ID() string { return "truth" }

func (v *TruthValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	if n, ok := cfg.Options["semantic_confirm"].(float64); ok {
		v.semanticConfirm = n
	}
	if n, ok := cfg.Options["semantic_downgrade"].(float64); ok {
		v.semanticDowngrade = n
	}
	if n, ok := cfg.Options["semantic_upgrade"].(float64); ok {
		v.semanticUpgrade = n
	}
	return nil
}

// ruleFinding is phase (1)'s internal representation, before it is
// reconciled with any phase (2) semantic finding.
type ruleFinding struct {
	entityName string
	span       [2]int
	hasSpan    bool
	confidence float64
	issueType  string
	severity   string
	message    string
}

func (v *TruthValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vctx.Family == "" || vctx.TruthIndex == nil || vctx.Fuzzy == nil {
		return nil, nil
	}

	detections, err := vctx.Fuzzy.Detect(ctx, string(content), vctx.Family)
	if err != nil {
		return nil, fmt.Errorf("truth validator: fuzzy detection: %w", err)
	}

	rules, err := vctx.TruthIndex.Combinations(vctx.Family)
	if err != nil {
		return nil, fmt.Errorf("truth validator: loading combination rules: %w", err)
	}

	present := make(map[string]bool, len(detections))
	spanByEntity := make(map[string][2]int, len(detections))
	for _, d := range detections {
		present[d.Name] = true
		spanByEntity[d.Name] = d.Span
	}

	ruleFindings := v.checkCombinationRules(rules, present, spanByEntity)
	ruleFindings = append(ruleFindings, v.checkNameTypos(detections)...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vctx.Semantic == nil {
		return v.toIssues(content, ruleFindings), nil
	}

	semanticFindings, err := vctx.Semantic.Analyze(ctx, vctx.Family, content, detections)
	if err != nil {
		truthLog.Printf("semantic phase failed for %s, keeping rule-phase findings only: %v", vctx.FilePath, err)
		return v.toIssues(content, ruleFindings), nil
	}

	return v.toIssues(content, v.merge(ruleFindings, semanticFindings)), nil
}

// checkCombinationRules implements spec.md §4.5(truth)'s rule phase:
// missing required companion entity -> high; forbidden combination ->
// critical.
func (v *TruthValidator) checkCombinationRules(rules []truth.CombinationRule, present map[string]bool, spans map[string][2]int) []ruleFinding {
	var findings []ruleFinding
	for _, rule := range rules {
		switch rule.Kind {
		case "requires":
			anyPresent := false
			for _, name := range rule.Entities {
				if present[name] {
					anyPresent = true
					break
				}
			}
			if !anyPresent {
				continue
			}
			for _, name := range rule.Entities {
				if present[name] {
					continue
				}
				findings = append(findings, ruleFinding{
					entityName: name,
					confidence: 0.9,
					issueType:  "truth.missing_required_companion",
					severity:   "high",
					message:    fmt.Sprintf("entity %q is used without its required companion in this combination", name),
				})
			}
		case "forbids":
			allPresent := len(rule.Entities) > 0
			for _, name := range rule.Entities {
				if !present[name] {
					allPresent = false
					break
				}
			}
			if allPresent {
				span := spans[rule.Entities[0]]
				findings = append(findings, ruleFinding{
					entityName: rule.Entities[0],
					span:       span,
					hasSpan:    true,
					confidence: 0.95,
					issueType:  "truth.forbidden_combination",
					severity:   "critical",
					message:    fmt.Sprintf("forbidden combination of entities %v appears together", rule.Entities),
				})
			}
		}
	}
	return findings
}

// checkNameTypos implements spec.md §8 scenario 3: any detection whose
// confidence falls in the fuzzy band (< 1.0, i.e. matched by edit
// distance rather than an exact pattern/alias hit) names a span whose
// text differs from the canonical entity it resembles, so it is flagged
// as a likely typo rather than silently folded into the combination-rule
// presence check.
func (v *TruthValidator) checkNameTypos(detections []fuzzy.Detection) []ruleFinding {
	var findings []ruleFinding
	for _, d := range detections {
		if d.Confidence >= 1.0 {
			continue
		}
		findings = append(findings, ruleFinding{
			entityName: d.Name,
			span:       d.Span,
			hasSpan:    true,
			confidence: d.Confidence,
			issueType:  "truth.name_typo",
			severity:   "high",
			message:    fmt.Sprintf("%q looks like a typo of canonical entity %q", d.Evidence, d.Name),
		})
	}
	return findings
}

// merge implements spec.md §4.5(truth)'s merge phase: if both phases
// produce a finding for the same span, keep the higher confidence; if
// they disagree on existence, keep the rule-phase result unless semantic
// confidence is at or above the upgrade threshold.
func (v *TruthValidator) merge(ruleFindings []ruleFinding, semanticFindings []Finding) []ruleFinding {
	bySpan := make(map[[2]int]int, len(ruleFindings))
	merged := make([]ruleFinding, len(ruleFindings))
	copy(merged, ruleFindings)
	for i, f := range merged {
		bySpan[f.span] = i
	}

	for _, sf := range semanticFindings {
		if sf.Confidence < v.semanticDowngrade {
			continue
		}
		if idx, ok := bySpan[sf.Span]; ok {
			if sf.Confidence >= v.semanticConfirm && sf.Confidence > merged[idx].confidence {
				merged[idx].confidence = sf.Confidence
			}
			continue
		}
		if !sf.Confirmed {
			continue
		}
		if sf.Confidence >= v.semanticUpgrade {
			merged = append(merged, ruleFinding{
				entityName: sf.EntityName,
				span:       sf.Span,
				hasSpan:    true,
				confidence: sf.Confidence,
				issueType:  "truth.semantic_finding",
				severity:   "medium",
				message:    sf.Rationale,
			})
		}
	}
	return merged
}

// lineForOffset converts a byte offset into a 1-based line number, the
// same convention markdown.go's lineOf uses for AST node positions.
func lineForOffset(content []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}
	return bytes.Count(content[:offset], []byte("\n")) + 1
}

func (v *TruthValidator) toIssues(content []byte, findings []ruleFinding) []Issue {
	issues := make([]Issue, 0, len(findings))
	for _, f := range findings {
		var loc Location
		if f.hasSpan {
			loc = Location{Line: lineForOffset(content, f.span[0])}
		}
		issues = append(issues, Issue{
			Type:       f.issueType,
			Severity:   f.severity,
			Message:    f.message,
			Location:   loc,
			Confidence: f.confidence,
		})
	}
	return issues
}

var _ Validator = (*TruthValidator)(nil)
