// Package validators implements the seven content validators of the
// ValidatorSet, per spec.md §4.5: yaml, markdown, code, links, structure,
// seo, and truth. Each validator is registered under a stable string ID
// rather than discovered via reflection, per spec.md §9(b)'s rejection of
// dynamic plugin loading.
package validators

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tbcv/engine/internal/config"
	"github.com/tbcv/engine/pkg/fuzzy"
	"github.com/tbcv/engine/pkg/httputil"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/truth"
)

// ValidatorConfig is the per-validator configuration section. It is a type
// alias over config.Validator rather than a parallel struct: the shape is
// already exactly right (Enabled, Tier, SeverityFloor, Options).
type ValidatorConfig = config.Validator

// Issue is the finding type every validator produces. It is store.Issue
// directly, not a parallel type: spec.md §3's Issue entity is what a
// ValidationRecord persists, and validators are the only place issues are
// ever created.
type Issue = store.Issue

// Location is store.Location directly, for the same reason.
type Location = store.Location

// Finding is one observation from an optional SemanticAnalyzer pass,
// consumed by the truth validator's merge phase (spec.md §4.5(b) / §9(b)).
type Finding struct {
	EntityName string
	Span       [2]int
	Confirmed  bool
	Confidence float64
	Rationale  string
}

// SemanticAnalyzer is the narrow interface the truth validator calls into
// for its optional semantic phase. Defined here, not in a pkg/semantic
// that validators would have to import, so pkg/semantic can depend on
// pkg/validators (to implement this interface) without a cycle back.
type SemanticAnalyzer interface {
	Analyze(ctx context.Context, family string, content []byte, detections []fuzzy.Detection) ([]Finding, error)
}

// Context carries everything a Validator.Validate call needs beyond the
// raw content bytes: identity of the file being validated, the truth
// family it belongs to (if any), and the shared collaborators (truth
// index, fuzzy detector, link-check client, heading-slug index, optional
// semantic analyzer) that individual validators consult.
type Context struct {
	FilePath string
	Family   string

	TruthIndex truth.Index
	Fuzzy      fuzzy.Detector
	LinkClient *httputil.Client
	Semantic   SemanticAnalyzer
	Headings   *HeadingIndex
	Timeouts   config.Timeouts
}

// Validator is the uniform interface every validator satisfies, per
// spec.md §4.5: an identity, a configuration step, and a single Validate
// call producing the issues found in content.
type Validator interface {
	ID() string
	Configure(cfg ValidatorConfig) error
	Validate(ctx context.Context, content []byte, vctx Context) ([]Issue, error)
}

// Registry is the explicit, string-keyed validator registry. No reflection
// or plugin discovery: every validator is registered by name at startup.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register adds v under its own ID. A second Register call for the same
// ID replaces the first, so callers can override a default with a
// specialized implementation.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[v.ID()] = v
}

// Get returns the validator registered under id, if any.
func (r *Registry) Get(id string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[id]
	return v, ok
}

// List returns every registered validator, sorted by ID for deterministic
// iteration order.
func (r *Registry) List() []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Validator, 0, len(r.validators))
	for _, v := range r.validators {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns the sorted list of every registered validator's ID.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.validators))
	for id := range r.validators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ErrorIssue builds the synthetic validator.error Issue substituted for a
// validator that panicked or returned an error, per spec.md §4.6's
// isolation rule: one broken validator must not fail the whole batch.
// Exported for pkg/router, which is the caller that catches validator
// failures.
func ErrorIssue(validatorID string, err error) Issue {
	return Issue{
		Type:       "validator.error",
		Severity:   "high",
		Message:    fmt.Sprintf("validator %q failed: %v", validatorID, err),
		Confidence: 1.0,
	}
}

// RegisterDefaults builds and registers the seven standard validators
// against the given collaborators, using cfg to configure each one (zero
// value if a validator has no entry in cfg).
func RegisterDefaults(r *Registry, cfg map[string]ValidatorConfig) error {
	factories := []func() Validator{
		func() Validator { return NewYAMLValidator() },
		func() Validator { return NewMarkdownValidator() },
		func() Validator { return NewCodeValidator() },
		func() Validator { return NewLinksValidator() },
		func() Validator { return NewStructureValidator() },
		func() Validator { return NewSEOValidator() },
		func() Validator { return NewTruthValidator() },
	}
	for _, factory := range factories {
		v := factory()
		if err := v.Configure(cfg[v.ID()]); err != nil {
			return fmt.Errorf("validators: configuring %q: %w", v.ID(), err)
		}
		r.Register(v)
	}
	return nil
}
