package boundary

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcv/engine/internal/config"
	"github.com/tbcv/engine/pkg/cache"
	"github.com/tbcv/engine/pkg/enhance"
	"github.com/tbcv/engine/pkg/ids"
	"github.com/tbcv/engine/pkg/orchestrator"
	"github.com/tbcv/engine/pkg/router"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
	"github.com/tbcv/engine/pkg/truth"
	"github.com/tbcv/engine/pkg/validators"
)

// memStore is a full in-memory store.Store used across boundary tests.
type memStore struct {
	mu              sync.Mutex
	validations     map[string]*store.ValidationRecord
	recommendations map[string]*store.Recommendation
	workflows       map[string]*store.Workflow
	checkpoints     map[string][]*store.Checkpoint
	cacheRows       map[string]*store.CacheRow
	auditLog        []*store.AuditEntry
	metrics         []*store.Metric
	registrations   map[string]*store.ValidatorRegistration
}

func newMemStore() *memStore {
	return &memStore{
		validations:     map[string]*store.ValidationRecord{},
		recommendations: map[string]*store.Recommendation{},
		workflows:       map[string]*store.Workflow{},
		checkpoints:     map[string][]*store.Checkpoint{},
		cacheRows:       map[string]*store.CacheRow{},
		registrations:   map[string]*store.ValidatorRegistration{},
	}
}

func (m *memStore) PutValidation(ctx context.Context, rec *store.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	cp := *rec
	m.validations[rec.ID] = &cp
	return nil
}
func (m *memStore) GetValidation(ctx context.Context, id string) (*store.ValidationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.validations[id]
	if !ok {
		return nil, tbcverr.New(tbcverr.NotFound, id)
	}
	cp := *rec
	return &cp, nil
}
func (m *memStore) ListValidations(ctx context.Context, filter store.ValidationFilter, page store.Page) ([]*store.ValidationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ValidationRecord
	for _, rec := range m.validations {
		if filter.FilePath != nil && rec.FilePath != *filter.FilePath {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}
func (m *memStore) UpdateValidation(ctx context.Context, id string, notes *string, status *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.validations[id]
	if !ok {
		return tbcverr.New(tbcverr.NotFound, id)
	}
	if notes != nil {
		rec.Notes = *notes
	}
	if status != nil {
		rec.Status = *status
	}
	return nil
}
func (m *memStore) DeleteValidation(ctx context.Context, id string, confirm bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.validations, id)
	return nil
}

func (m *memStore) PutRecommendation(ctx context.Context, rec *store.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	cp := *rec
	m.recommendations[rec.ID] = &cp
	return nil
}
func (m *memStore) ListRecommendations(ctx context.Context, filter store.RecommendationFilter) ([]*store.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Recommendation
	for _, rec := range m.recommendations {
		if filter.ValidationID != nil && rec.ValidationID != *filter.ValidationID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}
func (m *memStore) GetRecommendation(ctx context.Context, id string) (*store.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recommendations[id]
	if !ok {
		return nil, tbcverr.New(tbcverr.NotFound, id)
	}
	cp := *rec
	return &cp, nil
}
func (m *memStore) SetRecommendationStatus(ctx context.Context, id, status, reviewer, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recommendations[id]
	if !ok {
		return tbcverr.New(tbcverr.NotFound, id)
	}
	rec.Status = status
	rec.Reviewer = reviewer
	rec.Notes = notes
	return nil
}
func (m *memStore) DeleteRecommendation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recommendations, id)
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, entry *store.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLog = append(m.auditLog, entry)
	return nil
}
func (m *memStore) GetAuditLog(ctx context.Context, filter store.AuditFilter, page store.Page) ([]*store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.AuditEntry{}, m.auditLog...), nil
}

func (m *memStore) PutWorkflow(ctx context.Context, wf *store.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.ID == "" {
		wf.ID = ids.New()
	}
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}
func (m *memStore) UpdateWorkflowState(ctx context.Context, id, state string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return tbcverr.New(tbcverr.NotFound, id)
	}
	wf.State = state
	wf.ProgressPercent = progress
	return nil
}
func (m *memStore) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, tbcverr.New(tbcverr.NotFound, id)
	}
	cp := *wf
	return &cp, nil
}
func (m *memStore) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Workflow
	for _, wf := range m.workflows {
		if filter.State != nil && wf.State != *filter.State {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	return out, nil
}
func (m *memStore) DeleteWorkflow(ctx context.Context, id string, confirm bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}
func (m *memStore) BulkDeleteWorkflows(ctx context.Context, filter store.WorkflowFilter, confirm bool) (int, error) {
	return 0, nil
}

func (m *memStore) AppendCheckpoint(ctx context.Context, workflowID string, blob []byte) (*store.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := &store.Checkpoint{ID: ids.New(), WorkflowID: workflowID, Blob: blob, CreatedAt: time.Now().UTC()}
	m.checkpoints[workflowID] = append(m.checkpoints[workflowID], cp)
	return cp, nil
}
func (m *memStore) LatestCheckpoint(ctx context.Context, workflowID string) (*store.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.checkpoints[workflowID]
	if len(list) == 0 {
		return nil, tbcverr.New(tbcverr.NotFound, workflowID)
	}
	return list[len(list)-1], nil
}

func (m *memStore) PutCacheEntry(ctx context.Context, row *store.CacheRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheRows[row.Key] = row
	return nil
}
func (m *memStore) GetCacheEntry(ctx context.Context, key string) (*store.CacheRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.cacheRows[key]
	if !ok {
		return nil, tbcverr.New(tbcverr.NotFound, key)
	}
	return row, nil
}
func (m *memStore) DeleteCacheEntry(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cacheRows, key)
	return nil
}
func (m *memStore) DeleteCacheEntriesWithPrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.cacheRows {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			delete(m.cacheRows, k)
			n++
		}
	}
	return n, nil
}
func (m *memStore) SweepExpiredCacheEntries(ctx context.Context) (int, error) { return 0, nil }

func (m *memStore) RecordMetric(ctx context.Context, metric *store.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}
func (m *memStore) QueryMetrics(ctx context.Context, name string, since, until time.Time) ([]*store.Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Metric{}, m.metrics...), nil
}

func (m *memStore) PutValidatorRegistration(ctx context.Context, reg *store.ValidatorRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[reg.ID] = reg
	return nil
}
func (m *memStore) ListValidatorRegistrations(ctx context.Context) ([]*store.ValidatorRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ValidatorRegistration
	for _, reg := range m.registrations {
		out = append(out, reg)
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func newTestBoundary(t *testing.T, cfg config.Boundary) (*Boundary, *memStore) {
	t.Helper()
	st := newMemStore()

	registry := validators.NewRegistry()
	yamlV := validators.NewYAMLValidator()
	require.NoError(t, yamlV.Configure(config.Validator{
		Options: map[string]any{"require_front_matter": true},
	}))
	registry.Register(yamlV)

	rt := router.New(registry, 1)
	c, err := cache.New(st, 64, 1<<20, 1<<20)
	require.NoError(t, err)
	orch := orchestrator.New(st, config.Concurrency{MaxWorkflows: 4, ContentValidate: 2})
	enh := enhance.New(st, nil, 0)
	truthIdx := truth.NewDirIndex(t.TempDir(), time.Minute)

	b := New(cfg, config.Timeouts{}, st, rt, c, orch, enh, truthIdx, nil, nil, nil)
	return b, st
}

func TestLanguageGateAdmitsAndRejectsPerSpec(t *testing.T) {
	cases := []struct {
		path    string
		admit   bool
	}{
		{"/docs/en/x.md", true},
		{"/docs/fr/x.md", false},
		{"/blog/post/index.md", true},
		{"/blog/post/index.fr.md", false},
		{"/blog/en/post/a.md", true},
	}
	for _, tc := range cases {
		err := languageGate(tc.path)
		if tc.admit {
			assert.NoError(t, err, tc.path)
		} else {
			assert.Error(t, err, tc.path)
			assert.True(t, tbcverr.Is(err, tbcverr.LanguageRejected), tc.path)
		}
	}
}

func TestGuardMutationBlockModeRejectsNonAllowlistedCaller(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "block", AllowList: []string{"trusted"}})
	err := b.guardMutation("stranger")
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.AccessDenied))

	assert.NoError(t, b.guardMutation("trusted"))
}

func TestGuardMutationWarnModeProceedsForAnyCaller(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "warn", AllowList: []string{"trusted"}})
	assert.NoError(t, b.guardMutation("stranger"))
}

func TestGuardMutationMaintenanceModeRejectsRegardlessOfAllowlist(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "block", AllowList: []string{"trusted"}, MaintenanceMode: true})
	err := b.guardMutation("trusted")
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.MaintenanceMode))
}

func TestValidateContentPersistsRecord(t *testing.T) {
	b, st := newTestBoundary(t, config.Boundary{Mode: "warn"})
	record, err := b.ValidateContent(context.Background(), ValidateContentRequest{
		Caller:   "tester",
		Content:  []byte("no front matter here\n"),
		FilePath: "/docs/en/sample.md",
	})
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	_, ok := st.validations[record.ID]
	assert.True(t, ok)
}

func TestValidateFileRejectsNonEnglishPath(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "warn"})
	dir := t.TempDir()
	path := filepath.Join(dir, "x.md")
	require.NoError(t, os.WriteFile(path, []byte("---\n---\n"), 0o644))

	_, err := b.ValidateFile(context.Background(), ValidateFileRequest{Caller: "tester", Path: path})
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.LanguageRejected))
}

func TestGenerateAndApproveAndApplyRecommendations(t *testing.T) {
	b, st := newTestBoundary(t, config.Boundary{Mode: "warn"})
	dir := t.TempDir()
	path := filepath.Join(dir, "en", "sample.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("no front matter here\n"), 0o644))

	record, err := b.ValidateFile(context.Background(), ValidateFileRequest{Caller: "tester", Path: path})
	require.NoError(t, err)
	require.NotEmpty(t, record.Issues, "yaml validator should flag a missing front matter block")

	recs, err := b.GenerateRecommendations(context.Background(), GenerateRecommendationsRequest{Caller: "tester", ValidationID: record.ID})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	var recIDs []string
	for _, rec := range recs {
		recIDs = append(recIDs, rec.ID)
	}
	require.NoError(t, b.Approve(context.Background(), ApproveRequest{Caller: "tester", IDs: recIDs, Actor: "tester"}))
	for _, id := range recIDs {
		assert.Equal(t, "approved", st.recommendations[id].Status)
	}

	result, err := b.ApplyRecommendations(context.Background(), ApplyRecommendationsRequest{
		Caller: "tester", ValidationID: record.ID, RecommendationIDs: recIDs, Actor: "tester",
	})
	require.NoError(t, err)
	assert.Contains(t, string(result.EnhancedContent), "---")
}

func TestEnhancePreviewDoesNotMutateFile(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "warn"})
	dir := t.TempDir()
	path := filepath.Join(dir, "en", "sample.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := []byte("no front matter here\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	record, err := b.ValidateFile(context.Background(), ValidateFileRequest{Caller: "tester", Path: path})
	require.NoError(t, err)
	recs, err := b.GenerateRecommendations(context.Background(), GenerateRecommendationsRequest{Caller: "tester", ValidationID: record.ID})
	require.NoError(t, err)
	var recIDs []string
	for _, rec := range recs {
		recIDs = append(recIDs, rec.ID)
	}

	result, err := b.EnhancePreview(context.Background(), "tester", record.ID, recIDs)
	require.NoError(t, err)
	assert.Equal(t, enhance.Preview, result.Mode)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)
}

func TestControlWorkflowRejectsUnknownAction(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "warn"})
	wf, err := b.CreateWorkflow(context.Background(), "tester", "enhance_batch", nil, 0)
	require.NoError(t, err)

	err = b.ControlWorkflow(context.Background(), "tester", wf.ID, "teleport")
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.InvalidArgument))
}

func TestAdminMaintenanceModeToggle(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "block", AllowList: []string{"admin"}})
	require.NoError(t, b.EnableMaintenanceMode("admin"))

	_, err := b.ValidateContent(context.Background(), ValidateContentRequest{Caller: "admin", Content: []byte("x\n"), FilePath: "/docs/en/a.md"})
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.MaintenanceMode))

	require.NoError(t, b.DisableMaintenanceMode("admin"))
	_, err = b.ValidateContent(context.Background(), ValidateContentRequest{Caller: "admin", Content: []byte("x\n"), FilePath: "/docs/en/a.md"})
	require.NoError(t, err)
}

func TestExportValidationSupportsJSONAndYAML(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "warn"})
	record, err := b.ValidateContent(context.Background(), ValidateContentRequest{Caller: "tester", Content: []byte("x\n"), FilePath: "/docs/en/a.md"})
	require.NoError(t, err)

	jsonBlob, err := b.ExportValidation(context.Background(), record.ID, ExportJSON)
	require.NoError(t, err)
	assert.Contains(t, string(jsonBlob), record.ID)

	yamlBlob, err := b.ExportValidation(context.Background(), record.ID, ExportYAML)
	require.NoError(t, err)
	assert.Contains(t, string(yamlBlob), record.ID)

	_, err = b.ExportValidation(context.Background(), record.ID, ExportFormat("csv"))
	require.Error(t, err)
	assert.True(t, tbcverr.Is(err, tbcverr.InvalidArgument))
}

func TestGetSystemStatusReportsRunningWorkflows(t *testing.T) {
	b, _ := newTestBoundary(t, config.Boundary{Mode: "warn"})
	status, err := b.GetSystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.RunningWorkflows)
	assert.False(t, status.MaintenanceMode)
}
