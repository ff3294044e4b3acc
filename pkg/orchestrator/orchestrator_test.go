package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcv/engine/internal/config"
	"github.com/tbcv/engine/pkg/ids"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
)

type fakeStore struct {
	mu          sync.Mutex
	workflows   map[string]*store.Workflow
	checkpoints map[string][]*store.Checkpoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows:   map[string]*store.Workflow{},
		checkpoints: map[string][]*store.Checkpoint{},
	}
}

func (f *fakeStore) PutWorkflow(ctx context.Context, wf *store.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wf.ID == "" {
		wf.ID = ids.New()
	}
	cp := *wf
	f.workflows[wf.ID] = &cp
	return nil
}
func (f *fakeStore) UpdateWorkflowState(ctx context.Context, id, state string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return tbcverr.New(tbcverr.NotFound, id)
	}
	wf.State = state
	wf.ProgressPercent = progress
	return nil
}
func (f *fakeStore) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, tbcverr.New(tbcverr.NotFound, id)
	}
	cp := *wf
	return &cp, nil
}
func (f *fakeStore) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	return nil, nil
}
func (f *fakeStore) DeleteWorkflow(ctx context.Context, id string, confirm bool) error { return nil }
func (f *fakeStore) BulkDeleteWorkflows(ctx context.Context, filter store.WorkflowFilter, confirm bool) (int, error) {
	return 0, nil
}

func (f *fakeStore) AppendCheckpoint(ctx context.Context, workflowID string, blob []byte) (*store.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := &store.Checkpoint{ID: ids.New(), WorkflowID: workflowID, Blob: blob, CreatedAt: time.Now().UTC()}
	f.checkpoints[workflowID] = append(f.checkpoints[workflowID], cp)
	return cp, nil
}
func (f *fakeStore) LatestCheckpoint(ctx context.Context, workflowID string) (*store.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.checkpoints[workflowID]
	if len(list) == 0 {
		return nil, tbcverr.New(tbcverr.NotFound, workflowID)
	}
	return list[len(list)-1], nil
}

func (f *fakeStore) PutValidation(ctx context.Context, rec *store.ValidationRecord) error { return nil }
func (f *fakeStore) GetValidation(ctx context.Context, id string) (*store.ValidationRecord, error) {
	return nil, nil
}
func (f *fakeStore) ListValidations(ctx context.Context, filter store.ValidationFilter, page store.Page) ([]*store.ValidationRecord, error) {
	return nil, nil
}
func (f *fakeStore) UpdateValidation(ctx context.Context, id string, notes *string, status *string) error {
	return nil
}
func (f *fakeStore) DeleteValidation(ctx context.Context, id string, confirm bool) error { return nil }

func (f *fakeStore) PutRecommendation(ctx context.Context, rec *store.Recommendation) error { return nil }
func (f *fakeStore) ListRecommendations(ctx context.Context, filter store.RecommendationFilter) ([]*store.Recommendation, error) {
	return nil, nil
}
func (f *fakeStore) GetRecommendation(ctx context.Context, id string) (*store.Recommendation, error) {
	return nil, nil
}
func (f *fakeStore) SetRecommendationStatus(ctx context.Context, id, status, reviewer, notes string) error {
	return nil
}
func (f *fakeStore) DeleteRecommendation(ctx context.Context, id string) error { return nil }

func (f *fakeStore) AppendAudit(ctx context.Context, entry *store.AuditEntry) error { return nil }
func (f *fakeStore) GetAuditLog(ctx context.Context, filter store.AuditFilter, page store.Page) ([]*store.AuditEntry, error) {
	return nil, nil
}

func (f *fakeStore) PutCacheEntry(ctx context.Context, row *store.CacheRow) error { return nil }
func (f *fakeStore) GetCacheEntry(ctx context.Context, key string) (*store.CacheRow, error) {
	return nil, nil
}
func (f *fakeStore) DeleteCacheEntry(ctx context.Context, key string) error { return nil }
func (f *fakeStore) DeleteCacheEntriesWithPrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}
func (f *fakeStore) SweepExpiredCacheEntries(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeStore) RecordMetric(ctx context.Context, m *store.Metric) error { return nil }
func (f *fakeStore) QueryMetrics(ctx context.Context, name string, since, until time.Time) ([]*store.Metric, error) {
	return nil, nil
}

func (f *fakeStore) PutValidatorRegistration(ctx context.Context, reg *store.ValidatorRegistration) error {
	return nil
}
func (f *fakeStore) ListValidatorRegistrations(ctx context.Context) ([]*store.ValidatorRegistration, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func waitForState(t *testing.T, o *Orchestrator, id string, want State, timeout time.Duration) *store.Workflow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		wf, err := o.Status(context.Background(), id)
		require.NoError(t, err)
		if wf.State == string(want) {
			return wf
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("workflow %s did not reach state %s", id, want)
	return nil
}

func TestStartRunsStepsToCompletion(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, config.Concurrency{MaxWorkflows: 4, ContentValidate: 2})

	wf, err := o.Create(context.Background(), "enhance_batch", nil, 2)
	require.NoError(t, err)

	var ran int32
	steps := []Step{
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) { ran++; return []byte("one"), nil }},
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) { ran++; return []byte("two"), nil }},
	}
	require.NoError(t, o.Start(context.Background(), wf.ID, steps))

	final := waitForState(t, o, wf.ID, StateCompleted, time.Second)
	assert.Equal(t, 2, final.CurrentStep)
	assert.Equal(t, 100, final.ProgressPercent)
	assert.EqualValues(t, 2, ran)

	blob, err := o.LastCheckpoint(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", string(blob))
}

func TestStartFailsWorkflowWhenStepExhaustsRetries(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, config.Concurrency{MaxWorkflows: 4, ContentValidate: 2})
	o.retryBudget = 1

	wf, err := o.Create(context.Background(), "enhance_batch", nil, 1)
	require.NoError(t, err)

	steps := []Step{
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) {
			return nil, assertErr
		}},
	}
	require.NoError(t, o.Start(context.Background(), wf.ID, steps))

	final := waitForState(t, o, wf.ID, StateFailed, time.Second)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "boom")
}

func TestPauseBlocksNextStepUntilResume(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, config.Concurrency{MaxWorkflows: 4, ContentValidate: 2})

	wf, err := o.Create(context.Background(), "enhance_batch", nil, 2)
	require.NoError(t, err)

	gate := make(chan struct{})
	second := make(chan struct{})
	steps := []Step{
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) {
			close(gate)
			return nil, nil
		}},
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) {
			close(second)
			return nil, nil
		}},
	}
	require.NoError(t, o.Start(context.Background(), wf.ID, steps))

	<-gate
	require.NoError(t, o.Pause(context.Background(), wf.ID))
	waitForState(t, o, wf.ID, StatePaused, time.Second)

	select {
	case <-second:
		t.Fatal("second step ran while paused")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, o.Resume(context.Background(), wf.ID))
	waitForState(t, o, wf.ID, StateCompleted, time.Second)
	<-second
}

func TestCancelStopsWorkflow(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, config.Concurrency{MaxWorkflows: 4, ContentValidate: 2})

	wf, err := o.Create(context.Background(), "enhance_batch", nil, 2)
	require.NoError(t, err)

	started := make(chan struct{})
	steps := []Step{
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		{Class: ClassContentValidate, Run: func(ctx context.Context) ([]byte, error) {
			t.Fatal("second step should never run after cancel")
			return nil, nil
		}},
	}
	require.NoError(t, o.Start(context.Background(), wf.ID, steps))

	<-started
	require.NoError(t, o.Cancel(context.Background(), wf.ID))
	waitForState(t, o, wf.ID, StateCancelled, time.Second)
}

func TestStartRejectsNonPendingWorkflow(t *testing.T) {
	fs := newFakeStore()
	o := New(fs, config.Concurrency{MaxWorkflows: 4})

	wf, err := o.Create(context.Background(), "enhance_batch", nil, 0)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background(), wf.ID, nil))
	waitForState(t, o, wf.ID, StateCompleted, time.Second)

	err = o.Start(context.Background(), wf.ID, nil)
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.Conflict))
}

type errString string

func (e errString) Error() string { return string(e) }

var assertErr = errString("boom")
