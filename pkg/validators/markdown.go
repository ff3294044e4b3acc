package validators

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/text"

	"github.com/tbcv/engine/pkg/logger"
)

var markdownLog = logger.New("validators:markdown")

// HeadingIndex is the shared heading-slug index built once per document by
// the markdown validator and reused by the links validator, so the two
// never disagree about how a heading maps to an anchor slug.
type HeadingIndex struct {
	mu    sync.Mutex
	slugs map[string]bool
}

// NewHeadingIndex returns an empty HeadingIndex.
func NewHeadingIndex() *HeadingIndex {
	return &HeadingIndex{slugs: map[string]bool{}}
}

// Add registers a heading's text under its derived slug.
func (h *HeadingIndex) Add(text string) string {
	slug := slugify(text)
	h.mu.Lock()
	h.slugs[slug] = true
	h.mu.Unlock()
	return slug
}

// Has reports whether slug was registered by any heading in the document.
func (h *HeadingIndex) Has(slug string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slugs[slug]
}

var slugNonWord = regexp.MustCompile(`[^a-z0-9\- ]`)
var slugSpaces = regexp.MustCompile(`\s+`)

// slugify derives a GitHub-style anchor slug from heading text: lowercase,
// strip punctuation, collapse whitespace to hyphens.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugNonWord.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	return s
}

// MarkdownValidator walks the goldmark AST checking heading hierarchy,
// duplicated headings, list marker consistency, and unbalanced emphasis,
// per spec.md §4.5.
type MarkdownValidator struct {
	cfg             ValidatorConfig
	maxHeadingDepth int
	flagDuplicates  bool
	md              goldmark.Markdown
}

func NewMarkdownValidator() *MarkdownValidator {
	return &MarkdownValidator{
		maxHeadingDepth: 4,
		md:              goldmark.New(goldmark.WithExtensions(emoji.Emoji)),
	}
}

func (v *MarkdownValidator) ID() string { return "markdown" }

func (v *MarkdownValidator) Configure(cfg ValidatorConfig) error {
	v.cfg = cfg
	if cfg.Options == nil {
		return nil
	}
	if d, ok := cfg.Options["max_heading_depth"].(float64); ok {
		v.maxHeadingDepth = int(d)
	}
	if b, ok := cfg.Options["flag_duplicate_headings"].(bool); ok {
		v.flagDuplicates = b
	}
	return nil
}

func (v *MarkdownValidator) Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader := text.NewReader(content)
	doc := v.md.Parser().Parse(reader)

	var issues []Issue
	headings := vctx.Headings
	if headings == nil {
		headings = NewHeadingIndex()
	}

	lastLevel := 0
	seenHeadings := map[string]int{} // text -> first line

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			headingText := headingPlainText(node, content)
			line := lineOf(content, node)

			if lastLevel > 0 && node.Level > lastLevel+1 {
				issues = append(issues, Issue{
					Type:       "markdown.heading_skip",
					Severity:   "warning",
					Message:    fmt.Sprintf("heading level jumps from h%d to h%d", lastLevel, node.Level),
					Location:   Location{Line: line},
					Confidence: 1.0,
				})
			}
			if node.Level > v.maxHeadingDepth {
				issues = append(issues, Issue{
					Type:       "markdown.max_heading_depth",
					Severity:   "warning",
					Message:    fmt.Sprintf("heading depth h%d exceeds configured max %d", node.Level, v.maxHeadingDepth),
					Location:   Location{Line: line},
					Confidence: 1.0,
				})
			}
			if v.flagDuplicates {
				if firstLine, ok := seenHeadings[headingText]; ok {
					issues = append(issues, Issue{
						Type:       "markdown.duplicate_heading",
						Severity:   "warning",
						Message:    fmt.Sprintf("heading %q duplicates one at line %d", headingText, firstLine),
						Location:   Location{Line: line},
						Confidence: 1.0,
					})
				} else {
					seenHeadings[headingText] = line
				}
			}
			headings.Add(headingText)
			lastLevel = node.Level

		case *ast.List:
			if next, ok := node.NextSibling().(*ast.List); ok && !node.IsOrdered() && !next.IsOrdered() && node.Marker != next.Marker {
				issues = append(issues, Issue{
					Type:       "markdown.list_marker_inconsistency",
					Severity:   "warning",
					Message:    fmt.Sprintf("adjacent lists use different bullet markers (%q then %q)", string(node.Marker), string(next.Marker)),
					Location:   Location{Line: lineOf(content, node)},
					Confidence: 0.9,
				})
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	issues = append(issues, checkUnbalancedEmphasis(content)...)
	issues = append(issues, checkBareURLs(content)...)

	markdownLog.Printf("validated %s: %d issues", vctx.FilePath, len(issues))
	return issues, nil
}

func headingPlainText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.String()
}

func lineOf(content []byte, n ast.Node) int {
	lines := n.Lines()
	if lines.Len() == 0 {
		return 1
	}
	seg := lines.At(0)
	return bytes.Count(content[:seg.Start], []byte("\n")) + 1
}

// checkUnbalancedEmphasis is a pragmatic, line-scoped heuristic: within a
// single line outside code, unescaped "*" and "_" markers should appear in
// matched pairs. An odd count of either on a line (outside a fenced code
// block) is flagged.
func checkUnbalancedEmphasis(content []byte) []Issue {
	var issues []Issue
	inFence := false
	for i, raw := range bytes.Split(content, []byte("\n")) {
		line := string(raw)
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		stars := countUnescaped(line, '*')
		unders := countUnescaped(line, '_')
		if stars%2 != 0 || unders%2 != 0 {
			issues = append(issues, Issue{
				Type:       "markdown.unbalanced_emphasis",
				Severity:   "warning",
				Message:    "line has an odd number of emphasis markers",
				Location:   Location{Line: i + 1},
				Confidence: 0.7,
			})
		}
	}
	return issues
}

func countUnescaped(line string, marker byte) int {
	count := 0
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' {
			i++
			continue
		}
		if line[i] == marker {
			count++
		}
	}
	return count
}

var bareURLPattern = regexp.MustCompile(`(^|[\s(])(https?://[^\s()<>\[\]]+)`)
var mdLinkOrAutolink = regexp.MustCompile(`\]\(https?://|<https?://`)

// checkBareURLs flags "https://..." occurrences not already wrapped as a
// markdown link or autolink, per SPEC_FULL.md §4.5's supplemented check.
func checkBareURLs(content []byte) []Issue {
	var issues []Issue
	inFence := false
	for i, raw := range bytes.Split(content, []byte("\n")) {
		line := string(raw)
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range bareURLPattern.FindAllStringSubmatchIndex(line, -1) {
			url := line[m[4]:m[5]]
			precededByParen := m[4] > 0 && line[m[4]-1] == '('
			precededByAngle := m[4] > 0 && line[m[4]-1] == '<'
			if precededByParen || precededByAngle {
				continue
			}
			issues = append(issues, Issue{
				Type:       "markdown.bare_url",
				Severity:   "low",
				Message:    fmt.Sprintf("bare URL %q should be a markdown link", url),
				Location:   Location{Line: i + 1},
				Confidence: 0.9,
				Suggestion: fmt.Sprintf("[%s](%s)", url, url),
			})
		}
	}
	return issues
}

var _ Validator = (*MarkdownValidator)(nil)
