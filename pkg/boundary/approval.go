package boundary

import (
	"context"
	"fmt"

	"github.com/tbcv/engine/pkg/store"
)

// ApproveRequest is approve/reject's input: both share the same shape,
// differing only in the status they set.
type ApproveRequest struct {
	Caller string
	IDs    []string
	Notes  string
	Actor  string
}

// Approve marks recommendations "approved".
func (b *Boundary) Approve(ctx context.Context, req ApproveRequest) error {
	return b.setRecommendationStatuses(ctx, req.Caller, req.IDs, "approved", req.Actor, req.Notes)
}

// Reject marks recommendations "rejected".
func (b *Boundary) Reject(ctx context.Context, req ApproveRequest) error {
	return b.setRecommendationStatuses(ctx, req.Caller, req.IDs, "rejected", req.Actor, req.Notes)
}

// BulkApprove is the optimized path for approving many recommendations at
// once; it shares Approve's semantics.
func (b *Boundary) BulkApprove(ctx context.Context, req ApproveRequest) error {
	return b.Approve(ctx, req)
}

// BulkReject is the optimized path for rejecting many recommendations at
// once; it shares Reject's semantics.
func (b *Boundary) BulkReject(ctx context.Context, req ApproveRequest) error {
	return b.Reject(ctx, req)
}

func (b *Boundary) setRecommendationStatuses(ctx context.Context, caller string, ids []string, status, actor, notes string) error {
	if err := b.guardMutation(caller); err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.st.SetRecommendationStatus(ctx, id, status, actor, notes); err != nil {
			return fmt.Errorf("boundary: setting recommendation %s to %s: %w", id, status, err)
		}
	}
	return nil
}

// GetRecommendations returns a filtered list of Recommendations.
func (b *Boundary) GetRecommendations(ctx context.Context, filter store.RecommendationFilter) ([]*store.Recommendation, error) {
	return b.st.ListRecommendations(ctx, filter)
}

// ReviewRecommendationRequest is review_recommendation's input.
type ReviewRecommendationRequest struct {
	Caller   string
	ID       string
	Status   string
	Reviewer string
	Notes    string
}

// ReviewRecommendation sets one recommendation's review status.
func (b *Boundary) ReviewRecommendation(ctx context.Context, req ReviewRecommendationRequest) error {
	if err := b.guardMutation(req.Caller); err != nil {
		return err
	}
	return b.st.SetRecommendationStatus(ctx, req.ID, req.Status, req.Reviewer, req.Notes)
}

// BulkReviewRecommendationsRequest is bulk_review_recommendations's input.
type BulkReviewRecommendationsRequest struct {
	Caller   string
	IDs      []string
	Action   string
	Reviewer string
}

// BulkReviewRecommendations applies Action as every listed id's status.
func (b *Boundary) BulkReviewRecommendations(ctx context.Context, req BulkReviewRecommendationsRequest) error {
	return b.setRecommendationStatuses(ctx, req.Caller, req.IDs, req.Action, req.Reviewer, "")
}

// DeleteRecommendation removes one Recommendation.
func (b *Boundary) DeleteRecommendation(ctx context.Context, caller, id string) error {
	if err := b.guardMutation(caller); err != nil {
		return err
	}
	return b.st.DeleteRecommendation(ctx, id)
}
