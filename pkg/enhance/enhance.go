// Package enhance implements the Enhancer: it takes a ValidationRecord and
// an approved, ordered set of Recommendations and turns their automated
// fixes into a new document, guarded by the safety gates of spec.md §4.8.
// The Enhancer never consults the cache for content and never mutates a
// file except under an absolute-path-keyed exclusive lock.
package enhance

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	goyaml "github.com/goccy/go-yaml"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/tbcv/engine/pkg/ids"
	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/sliceutil"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
)

var log = logger.New("enhance")

// Mode selects whether Enhance stops after producing a diff (Preview) or
// persists the result (Write), per spec.md §4.8 step 5/6.
type Mode string

const (
	Preview Mode = "preview"
	Write   Mode = "write"
)

// DefaultRewriteRatioCeil mirrors internal/config.Thresholds.RewriteRatioCeil.
const DefaultRewriteRatioCeil = 0.5

// Outcome records what happened to one recommendation's automated fix.
type Outcome struct {
	RecommendationID string
	Applied          bool
	Reason           string // "" on success; "already_applied", "rewrite_ratio", "protected_region", "blocked_topic", "no_automated_fix"
}

// Result is the Enhancer's output: the rewritten content, a unified diff
// against the original, and a per-recommendation outcome list.
type Result struct {
	ValidationID    string
	OriginalContent []byte
	EnhancedContent []byte
	Diff            string
	Outcomes        []Outcome
	Mode            Mode
}

// Request bundles one Enhance call's inputs.
type Request struct {
	ValidationID      string
	RecommendationIDs []string // ordered, approved
	Mode              Mode
	Actor             string // audit trail actor; required in Write mode
}

// Enhancer applies approved recommendations to a document.
type Enhancer struct {
	st               store.Store
	blockedTopics    []string
	rewriteRatioCeil float64
	locks            sync.Map // absolute path -> *sync.Mutex
}

// New builds an Enhancer. rewriteRatioCeil <= 0 falls back to
// DefaultRewriteRatioCeil.
func New(st store.Store, blockedTopics []string, rewriteRatioCeil float64) *Enhancer {
	if rewriteRatioCeil <= 0 {
		rewriteRatioCeil = DefaultRewriteRatioCeil
	}
	return &Enhancer{st: st, blockedTopics: blockedTopics, rewriteRatioCeil: rewriteRatioCeil}
}

// Enhance runs the six steps of spec.md §4.8 against req.
func (e *Enhancer) Enhance(ctx context.Context, req Request) (*Result, error) {
	record, err := e.st.GetValidation(ctx, req.ValidationID)
	if err != nil {
		return nil, fmt.Errorf("enhance: loading validation %s: %w", req.ValidationID, err)
	}

	original, err := os.ReadFile(record.FilePath)
	if err != nil {
		return nil, fmt.Errorf("enhance: reading %s: %w", record.FilePath, err)
	}
	if contentHash(original) != record.ContentHash {
		return nil, tbcverr.Newf(tbcverr.StaleRecord, "content_hash mismatch for validation %s", req.ValidationID)
	}

	recs := make([]*store.Recommendation, 0, len(req.RecommendationIDs))
	for _, id := range req.RecommendationIDs {
		rec, err := e.st.GetRecommendation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("enhance: loading recommendation %s: %w", id, err)
		}
		recs = append(recs, rec)
	}

	protected := findProtectedRegions(original)

	lineRecs, frontMatterRecs := partitionByOp(recs)
	sort.SliceStable(lineRecs, func(i, j int) bool {
		return fixLine(lineRecs[i]) > fixLine(lineRecs[j])
	})

	lines := strings.Split(string(original), "\n")
	outcomes := make([]Outcome, 0, len(recs))

	for _, rec := range lineRecs {
		reason, applied := e.applyLineEdit(rec, &lines, protected)
		outcomes = append(outcomes, Outcome{RecommendationID: rec.ID, Applied: applied, Reason: reason})
	}

	content := []byte(strings.Join(lines, "\n"))
	for _, rec := range frontMatterRecs {
		var reason string
		var applied bool
		content, reason, applied = e.applyFrontMatterEdit(content, rec)
		outcomes = append(outcomes, Outcome{RecommendationID: rec.ID, Applied: applied, Reason: reason})
	}

	for _, rec := range recs {
		if rec.AutomatedFix == nil {
			outcomes = append(outcomes, Outcome{RecommendationID: rec.ID, Applied: false, Reason: "no_automated_fix"})
		}
	}

	diff := unifiedDiff(record.FilePath, original, content)

	result := &Result{
		ValidationID:    req.ValidationID,
		OriginalContent: original,
		EnhancedContent: content,
		Diff:            diff,
		Outcomes:        outcomes,
		Mode:            req.Mode,
	}

	if req.Mode != Write {
		return result, nil
	}

	if err := e.persist(ctx, record, result, req); err != nil {
		return nil, err
	}
	return result, nil
}

// persist implements step 6: atomic replace, status transitions, audit.
func (e *Enhancer) persist(ctx context.Context, record *store.ValidationRecord, result *Result, req Request) error {
	mu := e.lockFor(record.FilePath)
	mu.Lock()
	defer mu.Unlock()

	if err := atomicWrite(record.FilePath, result.EnhancedContent); err != nil {
		return fmt.Errorf("enhance: writing %s: %w", record.FilePath, err)
	}

	for _, outcome := range result.Outcomes {
		if outcome.Applied {
			if err := e.st.SetRecommendationStatus(ctx, outcome.RecommendationID, "applied", req.Actor, ""); err != nil {
				log.Printf("enhance: marking recommendation %s applied: %v", outcome.RecommendationID, err)
			}
		} else if outcome.Reason != "no_automated_fix" && outcome.Reason != "already_applied" {
			if err := e.st.SetRecommendationStatus(ctx, outcome.RecommendationID, "rejected", req.Actor, outcome.Reason); err != nil {
				log.Printf("enhance: marking recommendation %s rejected: %v", outcome.RecommendationID, err)
			}
		}
	}

	enhanced := "enhanced"
	if err := e.st.UpdateValidation(ctx, record.ID, nil, &enhanced); err != nil {
		return fmt.Errorf("enhance: updating validation status: %w", err)
	}

	entry := &store.AuditEntry{
		ID:           ids.New(),
		ValidationID: &record.ID,
		Actor:        req.Actor,
		Action:       "enhance",
		Timestamp:    time.Now().UTC(),
		BeforeHash:   contentHash(result.OriginalContent),
		AfterHash:    contentHash(result.EnhancedContent),
	}
	if err := e.st.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("enhance: appending audit entry: %w", err)
	}
	return nil
}

func (e *Enhancer) lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	actual, _ := e.locks.LoadOrStore(abs, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func partitionByOp(recs []*store.Recommendation) (lineRecs, frontMatterRecs []*store.Recommendation) {
	for _, rec := range recs {
		if rec.AutomatedFix == nil {
			continue
		}
		if rec.AutomatedFix.Op == "set_front_matter" {
			frontMatterRecs = append(frontMatterRecs, rec)
		} else {
			lineRecs = append(lineRecs, rec)
		}
	}
	return
}

func fixLine(rec *store.Recommendation) int {
	if rec.AutomatedFix == nil {
		return 0
	}
	return rec.AutomatedFix.Line
}

// applyLineEdit applies one insert_before/insert_after/replace/delete
// EditOp against lines in place, after checking idempotence, the
// rewrite-ratio ceiling, the protected-region set, and blocked topics.
func (e *Enhancer) applyLineEdit(rec *store.Recommendation, lines *[]string, protected []lineSpan) (reason string, applied bool) {
	fix := rec.AutomatedFix
	idx := fix.Line - 1
	if idx < 0 || idx >= len(*lines) {
		return "invalid_location", false
	}

	if e.violatesBlockedTopic(fix.Text) {
		return "blocked_topic", false
	}
	if fix.Op == "replace" && inProtectedRegion(idx, protected) {
		return "protected_region", false
	}

	switch fix.Op {
	case "replace":
		if (*lines)[idx] == fix.Text {
			return "already_applied", false
		}
		if ratio := rewriteRatio((*lines)[idx], fix.Text); ratio > e.rewriteRatioCeil {
			return "rewrite_ratio", false
		}
		(*lines)[idx] = fix.Text
		return "", true

	case "insert_before":
		if idx < len(*lines) && strings.TrimRight((*lines)[idx], "\n") == strings.TrimRight(fix.Text, "\n") {
			return "already_applied", false
		}
		*lines = insertAt(*lines, idx, fix.Text)
		return "", true

	case "insert_after":
		if idx+1 < len(*lines) && strings.TrimRight((*lines)[idx+1], "\n") == strings.TrimRight(fix.Text, "\n") {
			return "already_applied", false
		}
		*lines = insertAt(*lines, idx+1, fix.Text)
		return "", true

	case "delete":
		if strings.TrimSpace((*lines)[idx]) == "" {
			return "already_applied", false
		}
		*lines = append((*lines)[:idx], (*lines)[idx+1:]...)
		return "", true

	default:
		return "unknown_op", false
	}
}

func insertAt(lines []string, idx int, text string) []string {
	text = strings.TrimSuffix(text, "\n")
	inserted := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:idx]...)
	out = append(out, inserted...)
	out = append(out, lines[idx:]...)
	return out
}

// applyFrontMatterEdit applies a set_front_matter EditOp by reparsing the
// document's front matter block, setting the field, and reserializing it
// with goccy/go-yaml, consistent with pkg/validators/yaml.go's parsing.
func (e *Enhancer) applyFrontMatterEdit(content []byte, rec *store.Recommendation) ([]byte, string, bool) {
	fix := rec.AutomatedFix
	if e.violatesBlockedTopic(fix.Value) {
		return content, "blocked_topic", false
	}

	start, end, block, ok := frontMatterBlock(content)
	if !ok {
		return content, "no_front_matter_block", false
	}

	doc := map[string]any{}
	if len(strings.TrimSpace(string(block))) > 0 {
		if err := goyaml.Unmarshal(block, &doc); err != nil {
			return content, "unparseable_front_matter", false
		}
	}
	if existing, ok := doc[fix.Field]; ok && fmt.Sprintf("%v", existing) == fix.Value {
		return content, "already_applied", false
	}

	doc[fix.Field] = fix.Value
	rewritten, err := goyaml.Marshal(doc)
	if err != nil {
		return content, "marshal_error", false
	}

	var out bytes.Buffer
	out.Write(content[:start])
	out.Write(rewritten)
	out.Write(content[end:])
	return out.Bytes(), "", true
}

var frontMatterDelim = []byte("---")

// frontMatterBlock returns the byte offsets of the YAML block between the
// document's leading "---" delimiters (exclusive of the delimiters
// themselves) so callers can splice a rewritten block back in.
func frontMatterBlock(content []byte) (start, end int, block []byte, ok bool) {
	if !bytes.HasPrefix(content, frontMatterDelim) {
		return 0, 0, nil, false
	}
	firstNL := bytes.IndexByte(content, '\n')
	if firstNL < 0 {
		return 0, 0, nil, false
	}
	rest := content[firstNL+1:]
	closeIdx := bytes.Index(rest, []byte("\n---"))
	if closeIdx < 0 {
		return 0, 0, nil, false
	}
	blockStart := firstNL + 1
	blockEnd := blockStart + closeIdx + 1
	return blockStart, blockEnd, content[blockStart:blockEnd], true
}

// lineSpan is a [start, end) line-index range, 0-based, inclusive of
// protected content.
type lineSpan struct{ start, end int }

func inProtectedRegion(line int, protected []lineSpan) bool {
	for _, s := range protected {
		if line >= s.start && line < s.end {
			return true
		}
	}
	return false
}

var shortcodePattern = regexp.MustCompile(`\{\{<.*?>\}\}`)

// findProtectedRegions scans the ORIGINAL content once for code fences,
// the front-matter delimiter lines, and shortcode lines, per SPEC_FULL.md
// §4.8: every edit is checked against this one set, never a re-scanned
// one, so an edit cannot hide a violation inside content it just
// introduced.
func findProtectedRegions(content []byte) []lineSpan {
	lines := strings.Split(string(content), "\n")
	var spans []lineSpan

	inFence := false
	fenceStart := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if !inFence {
				inFence = true
				fenceStart = i
			} else {
				inFence = false
				spans = append(spans, lineSpan{start: fenceStart, end: i + 1})
			}
			continue
		}
		if shortcodePattern.MatchString(line) {
			spans = append(spans, lineSpan{start: i, end: i + 1})
		}
	}
	if inFence {
		spans = append(spans, lineSpan{start: fenceStart, end: len(lines)})
	}

	if _, end, _, ok := frontMatterBlock(content); ok {
		closingLine := bytes.Count(content[:end], []byte("\n")) + 1
		spans = append(spans, lineSpan{start: 0, end: closingLine})
	}
	return spans
}

func (e *Enhancer) violatesBlockedTopic(text string) bool {
	if text == "" {
		return false
	}
	for _, topic := range e.blockedTopics {
		if topic == "" {
			continue
		}
		if sliceutil.ContainsIgnoreCase(text, topic) {
			return true
		}
	}
	return false
}

// rewriteRatio is the Levenshtein distance between before and after,
// divided by len(after), per spec.md §4.8's literal definition.
func rewriteRatio(before, after string) float64 {
	if len(after) == 0 {
		if len(before) == 0 {
			return 0
		}
		return 1
	}
	dist := levenshtein.ComputeDistance(before, after)
	return float64(dist) / float64(len(after))
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func unifiedDiff(path string, before, after []byte) string {
	edits := myers.ComputeEdits(span.URIFromPath(path), string(before), string(after))
	unified := gotextdiff.ToUnified(path+".orig", path, string(before), edits)
	return fmt.Sprint(unified)
}

// atomicWrite writes content to a sibling temp file, flushes it, then
// renames over path, so a reader never observes a partial write.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tbcv-enhance-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
