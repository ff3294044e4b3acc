package boundary

import (
	"context"
	"fmt"

	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
)

// CreateWorkflow persists a new Workflow in state pending. Starting it
// (providing its Steps) is specific to the workflow type and happens
// through the type-specific method, e.g. EnhanceBatch.
func (b *Boundary) CreateWorkflow(ctx context.Context, caller, wfType string, inputParams map[string]any, totalSteps int) (*store.Workflow, error) {
	if err := b.guardMutation(caller); err != nil {
		return nil, err
	}
	return b.orch.Create(ctx, wfType, inputParams, totalSteps)
}

// GetWorkflow returns one Workflow record.
func (b *Boundary) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	return b.orch.Status(ctx, id)
}

// ListWorkflows returns a filtered list of Workflow records.
func (b *Boundary) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	return b.st.ListWorkflows(ctx, filter)
}

// ControlWorkflow applies pause/resume/cancel to an active Workflow.
func (b *Boundary) ControlWorkflow(ctx context.Context, caller, id, action string) error {
	if err := b.guardMutation(caller); err != nil {
		return err
	}
	switch action {
	case "pause":
		return b.orch.Pause(ctx, id)
	case "resume":
		return b.orch.Resume(ctx, id)
	case "cancel":
		return b.orch.Cancel(ctx, id)
	default:
		return tbcverr.Newf(tbcverr.InvalidArgument, "unknown workflow action %q", action)
	}
}

// WorkflowReport is get_workflow_report/summary's response.
type WorkflowReport struct {
	Workflow       *store.Workflow
	LastCheckpoint []byte
}

// GetWorkflowReport returns a Workflow's current state alongside its most
// recent checkpoint blob, if any.
func (b *Boundary) GetWorkflowReport(ctx context.Context, id string) (*WorkflowReport, error) {
	wf, err := b.orch.Status(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading workflow %s: %w", id, err)
	}
	blob, err := b.orch.LastCheckpoint(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading checkpoint for %s: %w", id, err)
	}
	return &WorkflowReport{Workflow: wf, LastCheckpoint: blob}, nil
}

// DeleteWorkflow removes a Workflow record. confirm must be true.
func (b *Boundary) DeleteWorkflow(ctx context.Context, caller, id string, confirm bool) error {
	if err := b.guardMutation(caller); err != nil {
		return err
	}
	if !confirm {
		return tbcverr.New(tbcverr.InvalidArgument, "delete_workflow requires confirm=true")
	}
	return b.st.DeleteWorkflow(ctx, id, confirm)
}

// BulkDeleteWorkflows removes every Workflow matching filter.
func (b *Boundary) BulkDeleteWorkflows(ctx context.Context, caller string, filter store.WorkflowFilter, confirm bool) (int, error) {
	if err := b.guardMutation(caller); err != nil {
		return 0, err
	}
	if !confirm {
		return 0, tbcverr.New(tbcverr.InvalidArgument, "bulk_delete_workflows requires confirm=true")
	}
	return b.st.BulkDeleteWorkflows(ctx, filter, confirm)
}
