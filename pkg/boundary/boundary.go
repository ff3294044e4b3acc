// Package boundary implements the access boundary of spec.md §6: the
// sole entry point fronting the core. Every mutating method inspects its
// caller against a configured allow-list before touching the router,
// recommender, enhancer, orchestrator, or store; the core packages never
// enforce this themselves.
package boundary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tbcv/engine/internal/config"
	"github.com/tbcv/engine/pkg/cache"
	"github.com/tbcv/engine/pkg/enhance"
	"github.com/tbcv/engine/pkg/fuzzy"
	"github.com/tbcv/engine/pkg/httputil"
	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/orchestrator"
	"github.com/tbcv/engine/pkg/router"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
	"github.com/tbcv/engine/pkg/truth"
	"github.com/tbcv/engine/pkg/validators"
)

var log = logger.New("boundary")

// Boundary dispatches every external method named in spec.md §6. It owns
// no business logic of its own beyond the guard, the language gate, and
// request/response shaping; everything else is delegated.
type Boundary struct {
	cfg      config.Boundary
	timeouts config.Timeouts
	st       store.Store
	router   *router.Router
	cache    cache.Cache
	orch     *orchestrator.Orchestrator
	enhancer *enhance.Enhancer
	truthIdx truth.Index
	fuzzy    fuzzy.Detector
	linkCli  *httputil.Client
	semantic validators.SemanticAnalyzer
	headings *validators.HeadingIndex

	maintenance atomic.Bool
}

// New wires a Boundary over already-constructed collaborators. Building
// those collaborators (config load, store open, registry assembly) is the
// caller's job, per spec.md §6 treating the boundary as a thin dispatcher.
func New(cfg config.Boundary, timeouts config.Timeouts, st store.Store, rt *router.Router, c cache.Cache, orch *orchestrator.Orchestrator, enh *enhance.Enhancer, truthIdx truth.Index, fz fuzzy.Detector, linkCli *httputil.Client, semantic validators.SemanticAnalyzer) *Boundary {
	b := &Boundary{
		cfg: cfg, timeouts: timeouts, st: st, router: rt, cache: c, orch: orch,
		enhancer: enh, truthIdx: truthIdx, fuzzy: fz, linkCli: linkCli, semantic: semantic,
		headings: validators.NewHeadingIndex(),
	}
	b.maintenance.Store(cfg.MaintenanceMode)
	return b
}

// guardMutation enforces the two independent gates every guarded
// (mutating) method passes through: maintenance mode, then the
// caller/allow-list check.
func (b *Boundary) guardMutation(caller string) error {
	if b.maintenance.Load() {
		return tbcverr.New(tbcverr.MaintenanceMode, "mutating operations are suspended")
	}
	if b.allowed(caller) {
		return nil
	}
	switch b.cfg.Mode {
	case "warn":
		log.Printf("caller %q not on allow-list, proceeding (warn mode)", caller)
		return nil
	default:
		return tbcverr.Newf(tbcverr.AccessDenied, "caller %q is not on the allow-list", caller)
	}
}

func (b *Boundary) allowed(caller string) bool {
	for _, id := range b.cfg.AllowList {
		if id == caller {
			return true
		}
	}
	return false
}

// languageGate implements spec.md §6's path-based admission check: a
// path is admitted if it contains an /en/ segment, or if it names a blog
// collection's index.md. Anything else fails with LanguageRejected.
func languageGate(path string) error {
	segments := strings.Split(filepath.ToSlash(path), "/")
	hasSegment := func(name string) bool {
		for _, s := range segments {
			if s == name {
				return true
			}
		}
		return false
	}

	if hasSegment("en") {
		return nil
	}
	if hasSegment("blog") && filepath.Base(path) == "index.md" {
		return nil
	}

	log.Printf("language gate rejected %s", path)
	return tbcverr.Newf(tbcverr.LanguageRejected, "path %q admits neither an /en/ segment nor a blog index.md", path)
}

// ValidateFileRequest is validate_file's input.
type ValidateFileRequest struct {
	Caller          string
	Path            string
	Family          string
	ValidationTypes []string
}

// ValidateFile runs the ValidatorSet against one file on disk.
func (b *Boundary) ValidateFile(ctx context.Context, req ValidateFileRequest) (*store.ValidationRecord, error) {
	if err := b.guardMutation(req.Caller); err != nil {
		return nil, err
	}
	if err := languageGate(req.Path); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("boundary: reading %s: %w", req.Path, err)
	}
	return b.runAndPersist(ctx, content, req.Path, req.Family, req.ValidationTypes)
}

// ValidateContentRequest is validate_content's input: content supplied
// directly rather than read from disk (still subject to the language
// gate against file_path).
type ValidateContentRequest struct {
	Caller   string
	Content  []byte
	FilePath string
	Family   string
}

// ValidateContent runs the ValidatorSet against in-memory content.
func (b *Boundary) ValidateContent(ctx context.Context, req ValidateContentRequest) (*store.ValidationRecord, error) {
	if err := b.guardMutation(req.Caller); err != nil {
		return nil, err
	}
	if err := languageGate(req.FilePath); err != nil {
		return nil, err
	}
	return b.runAndPersist(ctx, req.Content, req.FilePath, req.Family, nil)
}

func (b *Boundary) runAndPersist(ctx context.Context, content []byte, filePath, family string, validatorIDs []string) (*store.ValidationRecord, error) {
	vctx := validators.Context{
		Family:     family,
		TruthIndex: b.truthIdx,
		Fuzzy:      b.fuzzy,
		LinkClient: b.linkCli,
		Semantic:   b.semantic,
		Headings:   b.headings,
		Timeouts:   b.timeouts,
	}
	profile := router.Profile{Family: family, ValidatorIDs: validatorIDs}
	record, err := b.router.Run(ctx, content, filePath, profile, vctx)
	if err != nil {
		return nil, fmt.Errorf("boundary: running validators: %w", err)
	}
	if err := b.st.PutValidation(ctx, record); err != nil {
		return nil, fmt.Errorf("boundary: persisting validation: %w", err)
	}
	return record, nil
}

// GetValidation returns one ValidationRecord by id.
func (b *Boundary) GetValidation(ctx context.Context, id string) (*store.ValidationRecord, error) {
	return b.st.GetValidation(ctx, id)
}

// ListValidations returns a filtered, paged list of ValidationRecords.
func (b *Boundary) ListValidations(ctx context.Context, filter store.ValidationFilter, page store.Page) ([]*store.ValidationRecord, error) {
	return b.st.ListValidations(ctx, filter, page)
}

// UpdateValidationRequest is update_validation's input.
type UpdateValidationRequest struct {
	Caller string
	ID     string
	Notes  *string
	Status *string
}

// UpdateValidation edits a ValidationRecord's notes/status.
func (b *Boundary) UpdateValidation(ctx context.Context, req UpdateValidationRequest) error {
	if err := b.guardMutation(req.Caller); err != nil {
		return err
	}
	return b.st.UpdateValidation(ctx, req.ID, req.Notes, req.Status)
}

// DeleteValidation removes a ValidationRecord. confirm must be true.
func (b *Boundary) DeleteValidation(ctx context.Context, caller, id string, confirm bool) error {
	if err := b.guardMutation(caller); err != nil {
		return err
	}
	if !confirm {
		return tbcverr.New(tbcverr.InvalidArgument, "delete_validation requires confirm=true")
	}
	return b.st.DeleteValidation(ctx, id, confirm)
}

// Revalidate re-runs the ValidatorSet against a previously validated
// file's current on-disk content.
func (b *Boundary) Revalidate(ctx context.Context, caller, id string) (*store.ValidationRecord, error) {
	if err := b.guardMutation(caller); err != nil {
		return nil, err
	}
	prior, err := b.st.GetValidation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading validation %s: %w", id, err)
	}
	content, err := os.ReadFile(prior.FilePath)
	if err != nil {
		return nil, fmt.Errorf("boundary: reading %s: %w", prior.FilePath, err)
	}
	family := ""
	if prior.Family != nil {
		family = *prior.Family
	}
	return b.runAndPersist(ctx, content, prior.FilePath, family, nil)
}
