package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbcv/engine/pkg/console"
	"github.com/tbcv/engine/pkg/store"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and control Workflows",
	}
	cmd.AddCommand(newWorkflowStatusCommand())
	cmd.AddCommand(newWorkflowListCommand())
	cmd.AddCommand(newWorkflowControlCommand("pause"))
	cmd.AddCommand(newWorkflowControlCommand("resume"))
	cmd.AddCommand(newWorkflowControlCommand("cancel"))
	return cmd
}

func newWorkflowStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show one Workflow's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := current.boundary.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printWorkflow(wf)
			return nil
		},
	}
}

func newWorkflowListCommand() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List Workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.WorkflowFilter{}
			if state != "" {
				filter.State = &state
			}
			wfs, err := current.boundary.ListWorkflows(cmd.Context(), filter)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(wfs))
			for _, wf := range wfs {
				rows = append(rows, []string{wf.ID, wf.Type, wf.State, fmt.Sprintf("%d%%", wf.ProgressPercent)})
			}
			fmt.Println(console.RenderTable(console.TableConfig{
				Title:   fmt.Sprintf("%d workflow(s)", len(wfs)),
				Headers: []string{"ID", "Type", "State", "Progress"},
				Rows:    rows,
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by workflow state")
	return cmd
}

func newWorkflowControlCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: fmt.Sprintf("%s a running Workflow", capitalize(action)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.boundary.ControlWorkflow(cmd.Context(), caller, args[0], action); err != nil {
				return err
			}
			fmt.Println(console.FormatSuccessMessage(fmt.Sprintf("%s sent to workflow %s", action, args[0])))
			return nil
		},
	}
}

func printWorkflow(wf *store.Workflow) {
	fmt.Println(console.RenderTable(console.TableConfig{
		Headers: []string{"ID", "Type", "State", "Step", "Progress"},
		Rows: [][]string{{
			wf.ID, wf.Type, wf.State,
			fmt.Sprintf("%d/%d", wf.CurrentStep, wf.TotalSteps),
			fmt.Sprintf("%d%%", wf.ProgressPercent),
		}},
	}))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
