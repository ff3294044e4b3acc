package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbcv/engine/pkg/boundary"
	"github.com/tbcv/engine/pkg/console"
	"github.com/tbcv/engine/pkg/recommend"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/stringutil"
)

func newRecommendCommand() *cobra.Command {
	var regenerate bool
	var tone string
	cmd := &cobra.Command{
		Use:   "recommend <validation-id>",
		Short: "Generate recommendations for a validation's issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := current.boundary.GenerateRecommendations(cmd.Context(), boundary.GenerateRecommendationsRequest{
				Caller:       caller,
				ValidationID: args[0],
				Regenerate:   regenerate,
				Tone:         recommend.TonePolicy(tone),
			})
			if err != nil {
				return err
			}
			printRecommendations(recs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "discard and replace existing recommendations")
	cmd.Flags().StringVar(&tone, "tone", string(recommend.ToneTerse), "description tone: terse or explain_why")
	return cmd
}

func printRecommendations(recs []store.Recommendation) {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		fix := "advisory"
		if rec.AutomatedFix != nil {
			fix = rec.AutomatedFix.Op
		}
		rows = append(rows, []string{
			rec.ID, rec.Type, fmt.Sprintf("%.2f", rec.Confidence), fix, rec.Status,
			stringutil.Truncate(rec.Description, 60),
		})
	}
	fmt.Println(console.RenderTable(console.TableConfig{
		Title:   fmt.Sprintf("%d recommendation(s)", len(recs)),
		Headers: []string{"ID", "Type", "Confidence", "Fix", "Status", "Description"},
		Rows:    rows,
	}))
}

func newApproveCommand() *cobra.Command {
	var actor, notes string
	cmd := &cobra.Command{
		Use:   "approve <recommendation-id>...",
		Short: "Approve one or more recommendations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.boundary.Approve(cmd.Context(), boundary.ApproveRequest{
				Caller: caller, IDs: args, Actor: actor, Notes: notes,
			}); err != nil {
				return err
			}
			fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("approved %d recommendation(s)", len(args))))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", caller, "reviewer identity recorded on the recommendation")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func newRejectCommand() *cobra.Command {
	var actor, notes string
	cmd := &cobra.Command{
		Use:   "reject <recommendation-id>...",
		Short: "Reject one or more recommendations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.boundary.Reject(cmd.Context(), boundary.ApproveRequest{
				Caller: caller, IDs: args, Actor: actor, Notes: notes,
			}); err != nil {
				return err
			}
			fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("rejected %d recommendation(s)", len(args))))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", caller, "reviewer identity recorded on the recommendation")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}
