package validators

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tbcv/engine/pkg/logger"
)

var structureLog = logger.New("validators:structure")

var sectionHeadingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

// StructureValidator checks document-level organization: required
// sections, expected section order, and word-count thresholds that
// suggest a table of contents is needed, per spec.md §4.5.
type StructureValidator struct {
	cfg              ValidatorConfig
	requiredSections []string
	expectedOrder    []string
	tocWordThreshold int
}

func NewStructureValidator() *StructureValidator {
	return &StructureValidator{tocWordThreshold: 1500}
}

func (v *StructureValidator) ID() string { return "structure" }

func (v *StructureValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	if raw, ok := cfg.Options["required_sections"].([]any); ok {
		v.requiredSections = toStringSlice(raw)
	}
	if raw, ok := cfg.Options["expected_order"].([]any); ok {
		v.expectedOrder = toStringSlice(raw)
	}
	if n, ok := cfg.Options["toc_word_threshold"].(float64); ok && n > 0 {
		v.tocWordThreshold = int(n)
	}
	return nil
}

func toStringSlice(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (v *StructureValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues []Issue

	matches := sectionHeadingPattern.FindAllSubmatch(content, -1)
	sections := make([]string, len(matches))
	present := make(map[string]bool, len(matches))
	for i, m := range matches {
		title := strings.TrimSpace(string(m[1]))
		sections[i] = title
		present[strings.ToLower(title)] = true
	}

	for _, required := range v.requiredSections {
		if !present[strings.ToLower(required)] {
			issues = append(issues, Issue{
				Type:       "structure.missing_required_section",
				Severity:   "critical",
				Message:    fmt.Sprintf("required section %q is missing", required),
				Confidence: 1.0,
			})
		}
	}

	if len(v.expectedOrder) > 0 {
		issues = append(issues, checkSectionOrder(sections, v.expectedOrder)...)
	}

	wordCount := len(strings.Fields(string(content)))
	if wordCount >= v.tocWordThreshold && !present["table of contents"] && !present["toc"] {
		issues = append(issues, Issue{
			Type:       "structure.needs_toc",
			Severity:   "info",
			Message:    fmt.Sprintf("document has %d words (threshold %d) but no table of contents section", wordCount, v.tocWordThreshold),
			Confidence: 0.8,
		})
	}

	structureLog.Printf("validated %s: %d sections, %d words, %d issues", vctx.FilePath, len(sections), wordCount, len(issues))
	return issues, nil
}

// checkSectionOrder flags when the subsequence of sections found that are
// also named in expectedOrder doesn't itself respect expectedOrder.
func checkSectionOrder(sections, expectedOrder []string) []Issue {
	expectedIndex := make(map[string]int, len(expectedOrder))
	for i, s := range expectedOrder {
		expectedIndex[strings.ToLower(s)] = i
	}

	lastIdx := -1
	var issues []Issue
	for _, s := range sections {
		idx, ok := expectedIndex[strings.ToLower(s)]
		if !ok {
			continue
		}
		if idx < lastIdx {
			issues = append(issues, Issue{
				Type:       "structure.section_order_violation",
				Severity:   "warning",
				Message:    fmt.Sprintf("section %q appears out of expected order", s),
				Confidence: 0.85,
			})
			continue
		}
		lastIdx = idx
	}
	return issues
}

var _ Validator = (*StructureValidator)(nil)
