// Package recommend implements the Recommender: a pure function turning a
// ValidationRecord's issues into ordered, confidence-scored Recommendations,
// per spec.md §4.7. It never mutates document content; producing edits is
// the Enhancer's job (pkg/enhance).
package recommend

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/tbcv/engine/pkg/ids"
	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/truth"
)

var log = logger.New("recommend")

// TonePolicy controls only the phrasing register of a Recommendation's
// description. It never affects AutomatedFix or Confidence, so it cannot
// change the determinism of the automated parts (SPEC_FULL.md §4.7).
type TonePolicy string

const (
	// ToneTerse states the issue's own message verbatim.
	ToneTerse TonePolicy = "terse"
	// ToneExplainWhy prefixes the issue type so a reviewer sees the
	// originating rule alongside the message.
	ToneExplainWhy TonePolicy = "explain_why"
)

// DefaultRewriteRatioCeil mirrors internal/config.Thresholds.RewriteRatioCeil's
// default, used when a Request leaves RewriteRatioCeil unset.
const DefaultRewriteRatioCeil = 0.5

// Request bundles a Recommender call's pure inputs: the issues to turn into
// recommendations, the document content they were raised against (needed
// only to estimate a candidate fix's rewrite ratio), and the family's
// truth index (consulted for future entity-aware phrasing; reserved for
// recommendation classes that need canonical entity names).
type Request struct {
	ValidationID     string
	Issues           []store.Issue
	Content          []byte
	Family           string
	TruthIndex       truth.Index
	Tone             TonePolicy
	RewriteRatioCeil float64
}

// fixClass groups automated-fix candidates by how much confidence a
// successfully-generated edit deserves before the rewrite-ratio gate is
// even considered.
type fixClass struct {
	name       string
	multiplier float64
}

var (
	classSubstitution       = fixClass{name: "substitution", multiplier: 1.0}
	classScaffold           = fixClass{name: "scaffold", multiplier: 0.9}
	classAdvisory           = fixClass{name: "advisory", multiplier: 1.0}
	classHeuristicConfident = fixClass{name: "heuristic_confident", multiplier: 0.9}
	classHeuristicLow       = fixClass{name: "heuristic_low", multiplier: 0.3}
)

// Recommend derives zero or more Recommendations from req.Issues. Ordering
// is deterministic: severity desc, then location, then type, per spec.md
// §4.7.
func Recommend(req Request) ([]store.Recommendation, error) {
	ceil := req.RewriteRatioCeil
	if ceil <= 0 {
		ceil = DefaultRewriteRatioCeil
	}

	issues := make([]store.Issue, len(req.Issues))
	copy(issues, req.Issues)
	sort.SliceStable(issues, func(i, j int) bool {
		if severityRank(issues[i].Severity) != severityRank(issues[j].Severity) {
			return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
		}
		if issues[i].Location.Line != issues[j].Location.Line {
			return issues[i].Location.Line < issues[j].Location.Line
		}
		return issues[i].Type < issues[j].Type
	})

	recs := make([]store.Recommendation, 0, len(issues))
	for _, issue := range issues {
		fix, class := buildFix(issue, req.Content)
		confidence := deriveConfidence(issue, class, fix, req.Content, ceil)

		recs = append(recs, store.Recommendation{
			ID:           ids.New(),
			ValidationID: req.ValidationID,
			Type:         issue.Type,
			Description:  describe(issue, req.Tone),
			AutomatedFix: fix,
			Confidence:   confidence,
			Status:       "proposed",
		})
	}

	log.Printf("recommend: %d issues -> %d recommendations (family=%s)", len(issues), len(recs), req.Family)
	return recs, nil
}

var severityOrder = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"warning":  3,
	"low":      4,
	"info":     5,
}

func severityRank(severity string) int {
	if r, ok := severityOrder[severity]; ok {
		return r
	}
	return len(severityOrder)
}

func describe(issue store.Issue, tone TonePolicy) string {
	if tone == ToneExplainWhy {
		return fmt.Sprintf("%s: %s", issue.Type, issue.Message)
	}
	return issue.Message
}

var quotedSubstring = regexp.MustCompile(`"([^"]+)"`)

// buildFix maps the small set of issue types that admit a safe, fully
// automated edit to a structured EditOp. Every other issue type is
// advisory only: the reviewer decides the replacement content by hand,
// so AutomatedFix stays nil (spec.md §4.7's "zero or more").
func buildFix(issue store.Issue, content []byte) (*store.EditOp, fixClass) {
	switch issue.Type {
	case "markdown.bare_url":
		if issue.Suggestion == "" {
			return nil, classAdvisory
		}
		old := bareURLFromSuggestion(issue.Suggestion)
		newLine, ok := replaceOnLine(content, issue.Location.Line, old, issue.Suggestion)
		if !ok {
			return nil, classAdvisory
		}
		return &store.EditOp{Op: "replace", Line: issue.Location.Line, Text: newLine}, classSubstitution

	case "links.non_https":
		if issue.Suggestion == "" {
			return nil, classAdvisory
		}
		old := quotedSubstring.FindStringSubmatch(issue.Message)
		if len(old) != 2 {
			return nil, classAdvisory
		}
		newLine, ok := replaceOnLine(content, issue.Location.Line, old[1], issue.Suggestion)
		if !ok {
			return nil, classAdvisory
		}
		return &store.EditOp{Op: "replace", Line: issue.Location.Line, Text: newLine}, classSubstitution

	case "yaml.no_front_matter":
		return &store.EditOp{Op: "insert_before", Line: 1, Text: "---\n---\n\n"}, classScaffold

	case "yaml.missing_required_field":
		field := quotedSubstring.FindStringSubmatch(issue.Message)
		if len(field) != 2 {
			return nil, classAdvisory
		}
		return &store.EditOp{Op: "set_front_matter", Field: field[1], Value: ""}, classScaffold

	case "code.missing_language":
		lang, confident := guessFenceLanguage(content, issue.Location.Line)
		newLine, ok := replaceOnLine(content, issue.Location.Line, "```", "```"+lang)
		if !ok {
			return nil, classAdvisory
		}
		if confident {
			return &store.EditOp{Op: "replace", Line: issue.Location.Line, Text: newLine}, classHeuristicConfident
		}
		return &store.EditOp{Op: "replace", Line: issue.Location.Line, Text: newLine}, classHeuristicLow

	case "truth.name_typo":
		quoted := quotedSubstring.FindAllStringSubmatch(issue.Message, -1)
		if len(quoted) != 2 {
			return nil, classAdvisory
		}
		old, canonical := quoted[0][1], quoted[1][1]
		newLine, ok := replaceOnLine(content, issue.Location.Line, old, canonical)
		if !ok {
			return nil, classAdvisory
		}
		return &store.EditOp{Op: "replace", Line: issue.Location.Line, Text: newLine}, classSubstitution

	default:
		return nil, classAdvisory
	}
}

// fenceLanguageSignature pairs a language id with one substring strongly
// indicative of it, checked in order so the result is deterministic when a
// block happens to match more than one.
type fenceLanguageSignature struct {
	lang      string
	substring string
}

// fenceLanguageSignatures is a heuristic guess, not a real language
// detector: it looks at the fenced block's first few lines for a familiar
// keyword. An unmatched block still gets a "text" guess so
// code.missing_language always has something to propose, but the guess
// keeps low confidence (see classHeuristicLow) since nothing confirmed it.
var fenceLanguageSignatures = []fenceLanguageSignature{
	{"python", "def "},
	{"python", "import "},
	{"python", "print("},
	{"python", "elif "},
	{"python", "self."},
	{"javascript", "function "},
	{"javascript", "const "},
	{"javascript", "console.log"},
	{"javascript", "=>"},
	{"go", "package "},
	{"go", "func "},
	{"go", "fmt."},
	{"bash", "#!/bin/bash"},
	{"bash", "echo "},
}

// guessFenceLanguage scans the lines following a fence-open line (1-based,
// matching issue.Location.Line) up to the closing fence for a recognized
// signature.
func guessFenceLanguage(content []byte, fenceLine int) (lang string, confident bool) {
	if fenceLine <= 0 {
		return "text", false
	}
	lines := strings.Split(string(content), "\n")
	for i := fenceLine; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			break
		}
		for _, sig := range fenceLanguageSignatures {
			if strings.Contains(lines[i], sig.substring) {
				return sig.lang, true
			}
		}
	}
	return "text", false
}

// bareURLFromSuggestion recovers the bare URL a markdown.bare_url
// recommendation targets from its own "[url](url)" suggestion, since both
// halves are identical by construction (see pkg/validators/markdown.go).
func bareURLFromSuggestion(suggestion string) string {
	start := strings.Index(suggestion, "](")
	if start < 0 {
		return ""
	}
	rest := suggestion[start+2:]
	return strings.TrimSuffix(rest, ")")
}

// replaceOnLine returns the 1-based line's content with the first
// occurrence of old replaced by replacement. It reports false if the line
// doesn't exist or doesn't contain old, so callers can fall back to an
// advisory-only recommendation rather than emit a fix that wouldn't apply.
func replaceOnLine(content []byte, line int, old, replacement string) (string, bool) {
	if line <= 0 || old == "" {
		return "", false
	}
	lines := strings.Split(string(content), "\n")
	if line > len(lines) {
		return "", false
	}
	current := lines[line-1]
	if !strings.Contains(current, old) {
		return "", false
	}
	return strings.Replace(current, old, replacement, 1), true
}

// deriveConfidence combines the originating issue's confidence with the
// fix class's multiplier, then applies the rewrite-ratio ceiling: a fix
// that rewrites more than ceil of its target span is marked low-confidence
// regardless of how confident the underlying issue was (spec.md §4.7).
func deriveConfidence(issue store.Issue, class fixClass, fix *store.EditOp, content []byte, ceil float64) float64 {
	confidence := issue.Confidence * class.multiplier
	if confidence <= 0 {
		confidence = class.multiplier
	}

	if fix == nil {
		return clamp(confidence)
	}

	ratio := rewriteRatio(fix, content)
	if ratio > ceil {
		return clamp(confidence * 0.3)
	}
	return clamp(confidence)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// rewriteRatio estimates how much of a fix's target line is actually being
// rewritten, via diffmatchpatch's edit distance. insert_before/insert_after
// introduce new content rather than rewriting existing content, so they
// carry a zero ratio; only "replace" touches pre-existing text.
func rewriteRatio(fix *store.EditOp, content []byte) float64 {
	if fix.Op != "replace" || fix.Line <= 0 {
		return 0
	}
	lines := strings.Split(string(content), "\n")
	if fix.Line > len(lines) {
		return 0
	}
	before := lines[fix.Line-1]
	after := fix.Text
	if len(after) == 0 {
		return 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	dist := dmp.DiffLevenshtein(diffs)
	return float64(dist) / float64(len(after))
}
