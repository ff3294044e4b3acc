package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tbcv/engine/pkg/enhance"
)

// enhanceBatchCheckpoint is the blob persisted after each validation in an
// enhance_batch workflow: the set of validation ids already processed, so
// a resumed batch skips them rather than re-enhancing.
type enhanceBatchCheckpoint struct {
	Done []string `json:"done"`
}

// EnhanceBatchItem is one document to enhance within a batch.
type EnhanceBatchItem struct {
	ValidationID      string
	RecommendationIDs []string
}

// BuildEnhanceBatchSteps turns a list of validation/recommendation pairs
// into Steps for an enhance_batch Workflow. resumeFrom, if non-nil, is the
// workflow's last checkpoint blob: items whose validation id it already
// lists are skipped, so Start after a resume does no further content
// changes for them (spec.md §4.8's idempotence at the batch level).
func BuildEnhanceBatchSteps(e *enhance.Enhancer, actor string, items []EnhanceBatchItem, resumeFrom []byte) []Step {
	processed := append([]string{}, cpDoneIDs(resumeFrom)...)
	done := map[string]bool{}
	for _, id := range processed {
		done[id] = true
	}

	steps := make([]Step, 0, len(items))
	for _, item := range items {
		item := item
		if done[item.ValidationID] {
			continue
		}
		steps = append(steps, Step{
			Class: ClassContentValidate,
			Run: func(ctx context.Context) ([]byte, error) {
				_, err := e.Enhance(ctx, enhance.Request{
					ValidationID:      item.ValidationID,
					RecommendationIDs: item.RecommendationIDs,
					Mode:              enhance.Write,
					Actor:             actor,
				})
				if err != nil {
					return nil, fmt.Errorf("enhance_batch: validation %s: %w", item.ValidationID, err)
				}
				processed = append(processed, item.ValidationID)
				blob, err := json.Marshal(enhanceBatchCheckpoint{Done: append([]string{}, processed...)})
				if err != nil {
					return nil, err
				}
				return blob, nil
			},
		})
	}
	return steps
}

func cpDoneIDs(blob []byte) []string {
	if blob == nil {
		return nil
	}
	var cp enhanceBatchCheckpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil
	}
	return cp.Done
}
