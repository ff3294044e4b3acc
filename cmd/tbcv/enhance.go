package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbcv/engine/pkg/boundary"
	"github.com/tbcv/engine/pkg/console"
	"github.com/tbcv/engine/pkg/orchestrator"
	"github.com/tbcv/engine/pkg/store"
)

func newEnhanceCommand() *cobra.Command {
	var actor string
	var preview bool
	var recommendationIDs []string
	cmd := &cobra.Command{
		Use:   "enhance <validation-id>",
		Short: "Apply approved recommendations to a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validationID := args[0]
			if preview {
				result, err := current.boundary.EnhancePreview(cmd.Context(), caller, validationID, recommendationIDs)
				if err != nil {
					return err
				}
				fmt.Println(result.Diff)
				return nil
			}

			confirmed, err := console.ConfirmAction(
				fmt.Sprintf("Apply %d recommendation(s) to validation %s?", len(recommendationIDs), validationID),
				"Apply", "Cancel")
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println(console.FormatInfoMessage("enhancement cancelled"))
				return nil
			}

			result, err := current.boundary.Enhance(cmd.Context(), boundary.EnhanceRequest{
				Caller: caller, ValidationID: validationID, RecommendationIDs: recommendationIDs, Actor: actor,
			})
			if err != nil {
				return err
			}
			applied := 0
			for _, outcome := range result.Outcomes {
				if outcome.Applied {
					applied++
				}
			}
			fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("applied %d/%d recommendation(s)", applied, len(result.Outcomes))))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", caller, "actor recorded on the audit trail")
	cmd.Flags().BoolVar(&preview, "preview", false, "show a diff without writing")
	cmd.Flags().StringSliceVar(&recommendationIDs, "recommendation", nil, "recommendation id to apply (repeatable)")
	return cmd
}

func newEnhanceBatchCommand() *cobra.Command {
	var actor string
	var validationIDs []string
	cmd := &cobra.Command{
		Use:   "enhance-batch <validation-id>...",
		Short: "Apply every approved recommendation across several documents, tracked as one Workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := validationIDs
			if len(ids) == 0 {
				ids = args
			}
			items := make([]orchestrator.EnhanceBatchItem, len(ids))
			for i, id := range ids {
				approved, err := approvedRecommendationIDs(cmd, id)
				if err != nil {
					return err
				}
				items[i] = orchestrator.EnhanceBatchItem{ValidationID: id, RecommendationIDs: approved}
			}

			wfID, events, unsubscribe, err := current.boundary.EnhanceBatch(cmd.Context(), boundary.EnhanceBatchRequest{
				Caller: caller, Actor: actor, Items: items,
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			fmt.Println(console.FormatInfoMessage(fmt.Sprintf("workflow %s started (%d document(s))", wfID, len(items))))
			return runBatchProgress(wfID, events)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", caller, "actor recorded on the audit trail")
	cmd.Flags().StringSliceVar(&validationIDs, "validation", nil, "validation id to enhance (repeatable; defaults to positional args)")
	return cmd
}

// approvedRecommendationIDs looks up a validation's currently-approved
// recommendations, the set enhance_batch applies when the caller supplies
// validation ids without an explicit per-item recommendation list.
func approvedRecommendationIDs(cmd *cobra.Command, validationID string) ([]string, error) {
	status := "approved"
	recs, err := current.boundary.GetRecommendations(cmd.Context(), store.RecommendationFilter{
		ValidationID: &validationID, Status: &status,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids, nil
}

// runBatchProgress drains events until the workflow reaches a terminal
// state, rendering a step-count ProgressBar for TTY output.
func runBatchProgress(wfID string, events <-chan orchestrator.ProgressEvent) error {
	var bar *console.ProgressBar
	var lastErr error

	waiting := console.NewSpinner(fmt.Sprintf("workflow %s: waiting for the first step", wfID))
	waiting.Start()
	defer waiting.Stop()

	for ev := range events {
		if bar == nil {
			waiting.Stop()
			bar = console.NewProgressBar(ev.TotalSteps)
		}
		fmt.Printf("\r%s %s", bar.Update(ev.CurrentStep), string(ev.State))
		if ev.Err != nil {
			lastErr = ev.Err
		}
		switch ev.State {
		case orchestrator.StateCompleted:
			fmt.Println()
			fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("workflow %s completed", wfID)))
			return nil
		case orchestrator.StateFailed:
			fmt.Println()
			if lastErr != nil {
				return fmt.Errorf("workflow %s failed: %w", wfID, lastErr)
			}
			return fmt.Errorf("workflow %s failed", wfID)
		case orchestrator.StateCancelled:
			fmt.Println()
			fmt.Println(console.FormatWarningMessage(fmt.Sprintf("workflow %s cancelled", wfID)))
			return nil
		}
	}
	return nil
}
