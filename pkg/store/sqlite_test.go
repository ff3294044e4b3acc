package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcv/engine/pkg/tbcverr"
	"github.com/tbcv/engine/pkg/testutil"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := testutil.TempDir(t, "store")
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetWorkflow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wf := &Workflow{Type: "validate_batch", State: "pending", InputParams: map[string]any{"root": "docs/"}}
	require.NoError(t, s.PutWorkflow(ctx, wf))
	assert.NotEmpty(t, wf.ID)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "validate_batch", got.Type)
	assert.Equal(t, "docs/", got.InputParams["root"])
}

func TestGetWorkflowNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	require.Error(t, err)
	kind, ok := tbcverr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, tbcverr.NotFound, kind)
}

func TestUpdateWorkflowState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf := &Workflow{Type: "enhance_batch", State: "pending"}
	require.NoError(t, s.PutWorkflow(ctx, wf))

	require.NoError(t, s.UpdateWorkflowState(ctx, wf.ID, "running", 50))
	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", got.State)
	assert.Equal(t, 50, got.ProgressPercent)
}

func TestUpdateWorkflowStateMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateWorkflowState(context.Background(), "missing", "running", 0)
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestDeleteWorkflowRequiresConfirm(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf := &Workflow{Type: "validate_batch", State: "pending"}
	require.NoError(t, s.PutWorkflow(ctx, wf))

	err := s.DeleteWorkflow(ctx, wf.ID, false)
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.InvalidArgument))

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID, true))
	_, err = s.GetWorkflow(ctx, wf.ID)
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestBulkDeleteWorkflowsRequiresConfirm(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.PutWorkflow(ctx, &Workflow{Type: "validate_batch", State: "completed"}))
	}

	_, err := s.BulkDeleteWorkflows(ctx, WorkflowFilter{}, false)
	require.Error(t, err)

	state := "completed"
	n, err := s.BulkDeleteWorkflows(ctx, WorkflowFilter{State: &state}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestListWorkflowsFiltersByState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutWorkflow(ctx, &Workflow{Type: "validate_batch", State: "running"}))
	require.NoError(t, s.PutWorkflow(ctx, &Workflow{Type: "validate_batch", State: "completed"}))

	state := "running"
	rows, err := s.ListWorkflows(ctx, WorkflowFilter{State: &state})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "running", rows[0].State)
}

func TestCheckpointAppendAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	wf := &Workflow{Type: "enhance_batch", State: "running"}
	require.NoError(t, s.PutWorkflow(ctx, wf))

	_, err := s.AppendCheckpoint(ctx, wf.ID, []byte("first"))
	require.NoError(t, err)
	_, err = s.AppendCheckpoint(ctx, wf.ID, []byte("second"))
	require.NoError(t, err)

	latest, err := s.LatestCheckpoint(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), latest.Blob)
}

func TestLatestCheckpointNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LatestCheckpoint(context.Background(), "missing")
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestPutAndGetValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &ValidationRecord{
		FilePath:     "docs/guide.md",
		ContentHash:  "abc123",
		RulesApplied: []string{"yaml", "markdown"},
		Issues: []Issue{
			{Type: "markdown.bare_url", Severity: "low", Message: "bare URL", Location: Location{Line: 4}, Confidence: 1.0},
		},
		Severity: "low",
		Status:   "warning",
	}
	require.NoError(t, s.PutValidation(ctx, rec))

	got, err := s.GetValidation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "docs/guide.md", got.FilePath)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "markdown.bare_url", got.Issues[0].Type)
	assert.Equal(t, []string{"yaml", "markdown"}, got.RulesApplied)
}

func TestListValidationsWithPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutValidation(ctx, &ValidationRecord{
			FilePath: "docs/a.md", ContentHash: "h", Status: "pass", Severity: "info",
		}))
	}

	rows, err := s.ListValidations(ctx, ValidationFilter{}, Page{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpdateValidationStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := &ValidationRecord{FilePath: "docs/a.md", ContentHash: "h", Status: "fail", Severity: "high"}
	require.NoError(t, s.PutValidation(ctx, rec))

	status := "approved"
	notes := "reviewed manually"
	require.NoError(t, s.UpdateValidation(ctx, rec.ID, &notes, &status))

	got, err := s.GetValidation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
	assert.Equal(t, "reviewed manually", got.Notes)
}

func TestDeleteValidationRequiresConfirm(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := &ValidationRecord{FilePath: "docs/a.md", ContentHash: "h", Status: "pass", Severity: "info"}
	require.NoError(t, s.PutValidation(ctx, rec))

	err := s.DeleteValidation(ctx, rec.ID, false)
	assert.True(t, tbcverr.Is(err, tbcverr.InvalidArgument))

	require.NoError(t, s.DeleteValidation(ctx, rec.ID, true))
	_, err = s.GetValidation(ctx, rec.ID)
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestRecommendationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := &ValidationRecord{FilePath: "docs/a.md", ContentHash: "h", Status: "fail", Severity: "high"}
	require.NoError(t, s.PutValidation(ctx, rec))

	fix := &EditOp{Op: "replace", Span: Span{Start: 0, End: 5}, Text: "hello"}
	r := &Recommendation{ValidationID: rec.ID, Type: "rewrite", Description: "fix greeting", AutomatedFix: fix, Confidence: 0.9, Status: "proposed"}
	require.NoError(t, s.PutRecommendation(ctx, r))

	got, err := s.GetRecommendation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AutomatedFix)
	assert.Equal(t, "replace", got.AutomatedFix.Op)

	require.NoError(t, s.SetRecommendationStatus(ctx, r.ID, "approved", "alice", "looks good"))
	got, err = s.GetRecommendation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
	assert.Equal(t, "alice", got.Reviewer)
	assert.NotNil(t, got.ReviewedAt)

	validationID := rec.ID
	list, err := s.ListRecommendations(ctx, RecommendationFilter{ValidationID: &validationID})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteRecommendation(ctx, r.ID))
	_, err = s.GetRecommendation(ctx, r.ID)
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestAuditLogAppendAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := &ValidationRecord{FilePath: "docs/a.md", ContentHash: "h", Status: "fail", Severity: "high"}
	require.NoError(t, s.PutValidation(ctx, rec))

	entry := &AuditEntry{ValidationID: &rec.ID, Actor: "alice", Action: "approve", BeforeHash: "h1", AfterHash: "h2"}
	require.NoError(t, s.AppendAudit(ctx, entry))

	validationID := rec.ID
	rows, err := s.GetAuditLog(ctx, AuditFilter{ValidationID: &validationID}, Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "approve", rows[0].Action)
}

func TestCacheEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &CacheRow{Key: "fuzzy:abc", Value: []byte("cached-payload"), Compressed: false, TTLSeconds: 3600}
	require.NoError(t, s.PutCacheEntry(ctx, row))

	got, err := s.GetCacheEntry(ctx, "fuzzy:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-payload"), got.Value)

	require.NoError(t, s.DeleteCacheEntry(ctx, "fuzzy:abc"))
	_, err = s.GetCacheEntry(ctx, "fuzzy:abc")
	assert.True(t, tbcverr.Is(err, tbcverr.NotFound))
}

func TestDeleteCacheEntriesWithPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutCacheEntry(ctx, &CacheRow{Key: "fuzzy:a", Value: []byte("x"), TTLSeconds: 60}))
	require.NoError(t, s.PutCacheEntry(ctx, &CacheRow{Key: "fuzzy:b", Value: []byte("y"), TTLSeconds: 60}))
	require.NoError(t, s.PutCacheEntry(ctx, &CacheRow{Key: "truth:c", Value: []byte("z"), TTLSeconds: 60}))

	n, err := s.DeleteCacheEntriesWithPrefix(ctx, "fuzzy:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetCacheEntry(ctx, "truth:c")
	require.NoError(t, err)
}

func TestMetricsRecordAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordMetric(ctx, &Metric{Name: "validator.duration_ms", Value: 42, Labels: map[string]any{"validator": "yaml"}}))
	require.NoError(t, s.RecordMetric(ctx, &Metric{Name: "validator.duration_ms", Value: 17}))
	require.NoError(t, s.RecordMetric(ctx, &Metric{Name: "cache.hit_rate", Value: 0.9}))

	rows, err := s.QueryMetrics(ctx, "validator.duration_ms", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestValidatorRegistrationUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	reg := &ValidatorRegistration{ID: "yaml", Tier: 1, Enabled: true, Config: map[string]any{"strict": true}}
	require.NoError(t, s.PutValidatorRegistration(ctx, reg))

	reg.Enabled = false
	require.NoError(t, s.PutValidatorRegistration(ctx, reg))

	list, err := s.ListValidatorRegistrations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Enabled)
}
