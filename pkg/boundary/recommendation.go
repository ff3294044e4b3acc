package boundary

import (
	"context"
	"fmt"
	"os"

	"github.com/tbcv/engine/pkg/enhance"
	"github.com/tbcv/engine/pkg/recommend"
	"github.com/tbcv/engine/pkg/store"
)

// GenerateRecommendationsRequest is generate_recommendations's input.
type GenerateRecommendationsRequest struct {
	Caller       string
	ValidationID string
	Regenerate   bool
	Tone         recommend.TonePolicy
}

// GenerateRecommendations runs the Recommender over a ValidationRecord's
// issues and persists the result. Regenerate controls whether prior
// proposed recommendations for the same validation are replaced.
func (b *Boundary) GenerateRecommendations(ctx context.Context, req GenerateRecommendationsRequest) ([]store.Recommendation, error) {
	if err := b.guardMutation(req.Caller); err != nil {
		return nil, err
	}
	record, err := b.st.GetValidation(ctx, req.ValidationID)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading validation %s: %w", req.ValidationID, err)
	}
	if req.Regenerate {
		existing, err := b.st.ListRecommendations(ctx, store.RecommendationFilter{ValidationID: &req.ValidationID})
		if err != nil {
			return nil, fmt.Errorf("boundary: listing prior recommendations: %w", err)
		}
		for _, rec := range existing {
			if err := b.st.DeleteRecommendation(ctx, rec.ID); err != nil {
				return nil, fmt.Errorf("boundary: deleting prior recommendation %s: %w", rec.ID, err)
			}
		}
	}

	family := ""
	if record.Family != nil {
		family = *record.Family
	}
	content, err := readContentOrEmpty(record.FilePath)
	if err != nil {
		return nil, fmt.Errorf("boundary: reading %s: %w", record.FilePath, err)
	}

	recs, err := recommend.Recommend(recommend.Request{
		ValidationID: req.ValidationID,
		Issues:       record.Issues,
		Content:      content,
		Family:       family,
		TruthIndex:   b.truthIdx,
		Tone:         req.Tone,
	})
	if err != nil {
		return nil, fmt.Errorf("boundary: generating recommendations: %w", err)
	}
	for i := range recs {
		if err := b.st.PutRecommendation(ctx, &recs[i]); err != nil {
			return nil, fmt.Errorf("boundary: persisting recommendation: %w", err)
		}
	}
	return recs, nil
}

// RebuildRecommendations discards and regenerates a validation's
// recommendations.
func (b *Boundary) RebuildRecommendations(ctx context.Context, caller, validationID string) ([]store.Recommendation, error) {
	return b.GenerateRecommendations(ctx, GenerateRecommendationsRequest{Caller: caller, ValidationID: validationID, Regenerate: true})
}

// ApplyRecommendationsRequest is apply_recommendations's input.
type ApplyRecommendationsRequest struct {
	Caller            string
	ValidationID      string
	RecommendationIDs []string
	Actor             string
}

// ApplyRecommendations runs the Enhancer in Write mode over an approved
// set of recommendations.
func (b *Boundary) ApplyRecommendations(ctx context.Context, req ApplyRecommendationsRequest) (*enhance.Result, error) {
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

// MarkRecommendationsApplied records recommendations as applied without
// running the Enhancer: a metadata-only transition for fixes made outside
// the engine (SPEC_FULL.md's Open Question resolution).
func (b *Boundary) MarkRecommendationsApplied(ctx context.Context, caller, actor string, ids []string) error {
	return b.setRecommendationStatuses(ctx, caller, ids, "applied", actor, "marked applied externally")
}

func readContentOrEmpty(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
