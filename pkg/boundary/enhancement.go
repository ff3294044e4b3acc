package boundary

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/tbcv/engine/pkg/enhance"
	"github.com/tbcv/engine/pkg/orchestrator"
	"github.com/tbcv/engine/pkg/store"
)

// EnhanceRequest is enhance's input: a validation and the approved
// recommendation ids to apply against it.
type EnhanceRequest struct {
	Caller            string
	ValidationID      string
	RecommendationIDs []string
	Actor             string
}

// Enhance applies a validation's recommendations in Write mode.
func (b *Boundary) Enhance(ctx context.Context, req EnhanceRequest) (*enhance.Result, error) {
	if err := b.guardMutation(req.Caller); err != nil {
		return nil, err
	}
	return b.enhancer.Enhance(ctx, enhance.Request{
		ValidationID:      req.ValidationID,
		RecommendationIDs: req.RecommendationIDs,
		Mode:              enhance.Write,
		Actor:             req.Actor,
	})
}

// EnhancePreview runs the same gates as Enhance but in Preview mode: no
// write, no persistence, a unified diff only.
func (b *Boundary) EnhancePreview(ctx context.Context, caller, validationID string, recommendationIDs []string) (*enhance.Result, error) {
	if err := b.guardMutation(caller); err != nil {
		return nil, err
	}
	return b.enhancer.Enhance(ctx, enhance.Request{
		ValidationID:      validationID,
		RecommendationIDs: recommendationIDs,
		Mode:              enhance.Preview,
	})
}

// EnhanceBatchRequest is enhance_batch's input: one validation id per
// document, each carrying its own approved recommendation ids.
type EnhanceBatchRequest struct {
	Caller string
	Actor  string
	Items  []orchestrator.EnhanceBatchItem
}

// EnhanceBatch creates and starts an enhance_batch Workflow, returning the
// workflow id and a progress channel a caller can relay (e.g. over a
// WebSocket, which is out of this engine's scope).
func (b *Boundary) EnhanceBatch(ctx context.Context, req EnhanceBatchRequest) (string, <-chan orchestrator.ProgressEvent, func(), error) {
	if err := b.guardMutation(req.Caller); err != nil {
		return "", nil, nil, err
	}
	steps := orchestrator.BuildEnhanceBatchSteps(b.enhancer, req.Actor, req.Items, nil)
	wf, err := b.orch.Create(ctx, "enhance_batch", nil, len(steps))
	if err != nil {
		return "", nil, nil, fmt.Errorf("boundary: creating enhance_batch workflow: %w", err)
	}
	if err := b.orch.Start(ctx, wf.ID, steps); err != nil {
		return "", nil, nil, fmt.Errorf("boundary: starting enhance_batch workflow: %w", err)
	}
	events, unsubscribe, err := b.orch.Subscribe(wf.ID)
	if err != nil {
		return wf.ID, nil, nil, fmt.Errorf("boundary: subscribing to workflow %s: %w", wf.ID, err)
	}
	return wf.ID, events, unsubscribe, nil
}

// EnhanceAutoApply applies only the highest-confidence recommendations of
// a validation, bounded by confidenceThreshold and maxRecommendations.
func (b *Boundary) EnhanceAutoApply(ctx context.Context, caller, validationID, actor string, confidenceThreshold float64, maxRecommendations int) (*enhance.Result, error) {
	if err := b.guardMutation(caller); err != nil {
		return nil, err
	}
	recs, err := b.st.ListRecommendations(ctx, store.RecommendationFilter{ValidationID: &validationID})
	if err != nil {
		return nil, fmt.Errorf("boundary: listing recommendations for %s: %w", validationID, err)
	}

	var eligible []*store.Recommendation
	for _, rec := range recs {
		if rec.AutomatedFix == nil || rec.Confidence < confidenceThreshold {
			continue
		}
		eligible = append(eligible, rec)
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Confidence > eligible[j].Confidence })
	if maxRecommendations > 0 && len(eligible) > maxRecommendations {
		eligible = eligible[:maxRecommendations]
	}

	ids := make([]string, len(eligible))
	for i, rec := range eligible {
		ids[i] = rec.ID
	}
	return b.enhancer.Enhance(ctx, enhance.Request{
		ValidationID:      validationID,
		RecommendationIDs: ids,
		Mode:              enhance.Write,
		Actor:             actor,
	})
}

// EnhancementComparison is get_enhancement_comparison's response: the
// validation's current on-disk content alongside a dry-run preview of
// applying every one of its not-yet-applied recommendations.
type EnhancementComparison struct {
	ValidationID   string
	CurrentContent []byte
	Preview        *enhance.Result
}

// GetEnhancementComparison returns the current content plus a preview of
// what applying all pending recommendations would produce.
func (b *Boundary) GetEnhancementComparison(ctx context.Context, validationID string) (*EnhancementComparison, error) {
	record, err := b.st.GetValidation(ctx, validationID)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading validation %s: %w", validationID, err)
	}
	current, err := os.ReadFile(record.FilePath)
	if err != nil {
		return nil, fmt.Errorf("boundary: reading %s: %w", record.FilePath, err)
	}

	pending, err := b.st.ListRecommendations(ctx, store.RecommendationFilter{ValidationID: &validationID})
	if err != nil {
		return nil, fmt.Errorf("boundary: listing recommendations for %s: %w", validationID, err)
	}
	ids := make([]string, 0, len(pending))
	for _, rec := range pending {
		if rec.Status != "applied" {
			ids = append(ids, rec.ID)
		}
	}

	preview, err := b.enhancer.Enhance(ctx, enhance.Request{ValidationID: validationID, RecommendationIDs: ids, Mode: enhance.Preview})
	if err != nil {
		return nil, fmt.Errorf("boundary: previewing enhancement for %s: %w", validationID, err)
	}
	return &EnhancementComparison{ValidationID: validationID, CurrentContent: current, Preview: preview}, nil
}
