// Package router implements the Router: it assigns the ValidatorSet to
// tiers, executes them per spec.md §4.6, and aggregates their issues into
// a ValidationRecord draft. Persistence belongs to the orchestrator, not
// the Router.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/validators"
)

var log = logger.New("router")

// severityRank orders severities from most to least serious, used both to
// compute the record's overall severity and to sort its issue list.
var severityRank = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"warning":  3,
	"low":      4,
	"info":     5,
}

func rank(severity string) int {
	if r, ok := severityRank[severity]; ok {
		return r
	}
	return len(severityRank)
}

// Profile selects which registered validators run, and under which
// family/content root, for one Router.Run call.
type Profile struct {
	ValidatorIDs []string // empty means every registered validator
	Family       string
}

// Tiers mirror spec.md §4.6: tier 1 and 2 run concurrently within
// themselves, tier 3 runs fuzzy -> truth -> semantic in order.
var (
	tier1 = []string{"yaml", "markdown", "structure"}
	tier2 = []string{"code", "links", "seo"}
)

// Router executes a Profile's validators against one document.
type Router struct {
	registry    *validators.Registry
	concurrency int
}

// New builds a Router over the given registry. concurrency bounds how
// many tier-1/tier-2 validators run at once; non-positive falls back to
// running all of them at once.
func New(registry *validators.Registry, concurrency int) *Router {
	if concurrency <= 0 {
		concurrency = len(tier1) + len(tier2)
	}
	return &Router{registry: registry, concurrency: concurrency}
}

// Run executes profile's validators against content and returns a
// ValidationRecord draft, never persisted by the Router itself.
func (r *Router) Run(ctx context.Context, content []byte, filePath string, profile Profile, vctx validators.Context) (*store.ValidationRecord, error) {
	vctx.FilePath = filePath
	vctx.Family = profile.Family
	if vctx.Headings == nil {
		vctx.Headings = validators.NewHeadingIndex()
	}

	selected := r.selectValidators(profile)

	var allIssues []store.Issue
	var rulesApplied []string

	tier1Issues, tier1Ran := r.runTier(ctx, tier1, selected, content, vctx)
	allIssues = append(allIssues, tier1Issues...)
	rulesApplied = append(rulesApplied, tier1Ran...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tier2Issues, tier2Ran := r.runTier(ctx, tier2, selected, content, vctx)
	allIssues = append(allIssues, tier2Issues...)
	rulesApplied = append(rulesApplied, tier2Ran...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tier3Issues, tier3Ran := r.runTier3(ctx, selected, content, vctx)
	allIssues = append(allIssues, tier3Issues...)
	rulesApplied = append(rulesApplied, tier3Ran...)

	sort.SliceStable(allIssues, func(i, j int) bool {
		if rank(allIssues[i].Severity) != rank(allIssues[j].Severity) {
			return rank(allIssues[i].Severity) < rank(allIssues[j].Severity)
		}
		return allIssues[i].Location.Line < allIssues[j].Location.Line
	})

	severity := overallSeverity(allIssues)
	status := overallStatus(severity)

	record := &store.ValidationRecord{
		FilePath:     filePath,
		ContentHash:  contentHash(content),
		RulesApplied: rulesApplied,
		Issues:       allIssues,
		Severity:     severity,
		Status:       status,
	}
	if profile.Family != "" {
		family := profile.Family
		record.Family = &family
	}

	log.Printf("routed %s: %d issues, severity=%s, status=%s", filePath, len(allIssues), severity, status)
	return record, nil
}

func (r *Router) selectValidators(profile Profile) map[string]bool {
	if len(profile.ValidatorIDs) == 0 {
		selected := make(map[string]bool)
		for _, id := range r.registry.IDs() {
			selected[id] = true
		}
		return selected
	}
	selected := make(map[string]bool, len(profile.ValidatorIDs))
	for _, id := range profile.ValidatorIDs {
		selected[id] = true
	}
	return selected
}

// runTier runs every validator in tierIDs that is both registered and
// selected, concurrently bounded by r.concurrency. A validator that
// errors contributes a synthetic validator.error issue instead of
// aborting the tier.
func (r *Router) runTier(ctx context.Context, tierIDs []string, selected map[string]bool, content []byte, vctx validators.Context) ([]store.Issue, []string) {
	p := pool.NewWithResults[[]store.Issue]().WithMaxGoroutines(r.concurrency)
	var ran []string

	for _, id := range tierIDs {
		if !selected[id] {
			continue
		}
		v, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		ran = append(ran, id)
		v := v
		p.Go(func() []store.Issue {
			issues, _ := runValidator(ctx, v, content, vctx)
			return issues
		})
	}

	results := p.Wait()
	var issues []store.Issue
	for _, res := range results {
		issues = append(issues, res...)
	}
	return issues, ran
}

// runTier3 runs fuzzy -> truth -> semantic in dependency order, since
// truth awaits fuzzy's detections and the truth validator's own Validate
// call internally awaits its (optional) semantic phase. Tier 3 has no
// separate "fuzzy"/"semantic" validator entries in the registry: fuzzy
// detection and the semantic phase are both collaborators the truth
// validator consults directly via vctx, so tier 3 in practice is the
// single "truth" validator running last, after fuzzy has already been
// wired into vctx.Fuzzy and (optionally) vctx.Semantic.
func (r *Router) runTier3(ctx context.Context, selected map[string]bool, content []byte, vctx validators.Context) ([]store.Issue, []string) {
	if !selected["truth"] || vctx.Family == "" {
		return nil, nil
	}
	v, ok := r.registry.Get("truth")
	if !ok {
		return nil, nil
	}
	issues, err := runValidator(ctx, v, content, vctx)
	if err != nil {
		return issues, []string{"truth"}
	}
	return issues, []string{"truth"}
}

// runValidator calls v.Validate, converting any returned error into a
// synthetic validator.error issue so one broken validator never fails
// the whole batch.
func runValidator(ctx context.Context, v validators.Validator, content []byte, vctx validators.Context) ([]store.Issue, error) {
	issues, err := safeValidate(ctx, v, content, vctx)
	if err != nil {
		log.Printf("validator %q failed: %v", v.ID(), err)
		return []store.Issue{validators.ErrorIssue(v.ID(), err)}, err
	}
	return issues, nil
}

// safeValidate recovers a panicking validator, per spec.md §4.6's
// isolation rule, turning it into an error runValidator converts to an
// Issue.
func safeValidate(ctx context.Context, v validators.Validator, content []byte, vctx validators.Context) (issues []store.Issue, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return v.Validate(ctx, content, vctx)
}

func overallSeverity(issues []store.Issue) string {
	if len(issues) == 0 {
		return "pass"
	}
	best := len(severityRank)
	bestName := "info"
	for _, issue := range issues {
		if r := rank(issue.Severity); r < best {
			best = r
			bestName = issue.Severity
		}
	}
	return bestName
}

func overallStatus(severity string) string {
	switch severity {
	case "critical", "high":
		return "fail"
	case "medium", "warning":
		return "warning"
	case "pass":
		return "pass"
	default:
		return "pass"
	}
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// MatchesPattern reports whether relPath matches the validate_folder glob
// pattern, e.g. "**/*.md".
func MatchesPattern(pattern, relPath string) (bool, error) {
	return doublestar.Match(pattern, relPath)
}
