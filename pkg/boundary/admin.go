package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goyaml "github.com/goccy/go-yaml"

	"github.com/tbcv/engine/pkg/cache"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
)

// SystemStatus is get_system_status's response.
type SystemStatus struct {
	MaintenanceMode  bool
	Cache            cache.Stats
	RunningWorkflows int
}

// GetSystemStatus summarizes maintenance mode, cache health, and
// in-flight workflow count.
func (b *Boundary) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	running := "running"
	wfs, err := b.st.ListWorkflows(ctx, store.WorkflowFilter{State: &running})
	if err != nil {
		return nil, fmt.Errorf("boundary: listing running workflows: %w", err)
	}
	return &SystemStatus{
		MaintenanceMode:  b.maintenance.Load(),
		Cache:            b.cache.Stats(),
		RunningWorkflows: len(wfs),
	}, nil
}

// ClearCache invalidates cache entries. scope is accepted for API shape
// parity with spec.md §6 ("l1|l2|all"); the Cache interface invalidates
// both tiers atomically, so every scope clears the same entries.
func (b *Boundary) ClearCache(ctx context.Context, caller, scope string) (int, error) {
	if err := b.guardMutation(caller); err != nil {
		return 0, err
	}
	return b.cache.Invalidate(ctx, "")
}

// GetCacheStats returns cumulative cache counters.
func (b *Boundary) GetCacheStats() cache.Stats {
	return b.cache.Stats()
}

// CleanupCache removes expired L2 entries.
func (b *Boundary) CleanupCache(ctx context.Context, caller string) (int, error) {
	if err := b.guardMutation(caller); err != nil {
		return 0, err
	}
	return b.cache.Sweep(ctx)
}

// RebuildCache drops every cached entry so subsequent lookups repopulate
// it from scratch.
func (b *Boundary) RebuildCache(ctx context.Context, caller string) (int, error) {
	if err := b.guardMutation(caller); err != nil {
		return 0, err
	}
	return b.cache.Invalidate(ctx, "")
}

// ReloadAgent re-reads one registered validator's persisted configuration.
// "Agent" here names a ValidatorRegistration row, the closest analog this
// engine has to spec.md §6's inherited terminology.
func (b *Boundary) ReloadAgent(ctx context.Context, caller, id string) (*store.ValidatorRegistration, error) {
	if err := b.guardMutation(caller); err != nil {
		return nil, err
	}
	regs, err := b.st.ListValidatorRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("boundary: listing validator registrations: %w", err)
	}
	for _, reg := range regs {
		if reg.ID == id {
			if err := b.st.PutValidatorRegistration(ctx, reg); err != nil {
				return nil, fmt.Errorf("boundary: reloading validator %s: %w", id, err)
			}
			return reg, nil
		}
	}
	return nil, tbcverr.Newf(tbcverr.NotFound, "no registered validator %q", id)
}

// RunGC sweeps expired cache entries, the only garbage this engine's
// persisted schema accumulates.
func (b *Boundary) RunGC(ctx context.Context, caller string) (int, error) {
	if err := b.guardMutation(caller); err != nil {
		return 0, err
	}
	return b.cache.Sweep(ctx)
}

// EnableMaintenanceMode rejects every subsequent mutating call until
// disabled, independent of the allow-list.
func (b *Boundary) EnableMaintenanceMode(caller string) error {
	if err := b.guardMutation(caller); err != nil {
		return err
	}
	b.maintenance.Store(true)
	return nil
}

// DisableMaintenanceMode re-admits mutating calls, subject to the normal
// allow-list guard.
func (b *Boundary) DisableMaintenanceMode(caller string) error {
	wasMaintenance := b.maintenance.Load()
	b.maintenance.Store(false)
	if err := b.guardMutation(caller); err != nil {
		if wasMaintenance {
			b.maintenance.Store(true)
		}
		return err
	}
	return nil
}

// CreateCheckpoint appends an out-of-band checkpoint blob to a Workflow,
// independent of its Steps' own checkpointing.
func (b *Boundary) CreateCheckpoint(ctx context.Context, caller, workflowID string, blob []byte) (*store.Checkpoint, error) {
	if err := b.guardMutation(caller); err != nil {
		return nil, err
	}
	return b.st.AppendCheckpoint(ctx, workflowID, blob)
}

// GetAdminLogs returns the audit trail: the only persisted log-like
// entity this engine's schema models.
func (b *Boundary) GetAdminLogs(ctx context.Context, filter store.AuditFilter, page store.Page) ([]*store.AuditEntry, error) {
	return b.st.GetAuditLog(ctx, filter, page)
}

// GetStats returns recorded metrics from the last `days` days.
func (b *Boundary) GetStats(ctx context.Context, name string, days int) ([]*store.Metric, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	return b.st.QueryMetrics(ctx, name, since, time.Now().UTC())
}

// GetPerformanceReport returns every recorded metric from the last `days`
// days; this engine does not model a separate performance-metric
// taxonomy from GetStats's general metrics.
func (b *Boundary) GetPerformanceReport(ctx context.Context, days int) ([]*store.Metric, error) {
	return b.GetStats(ctx, "", days)
}

// HealthReport is get_health_report's response.
type HealthReport struct {
	MaintenanceMode  bool
	RunningWorkflows int
	Cache            cache.Stats
}

// GetHealthReport is a lighter-weight alias of GetSystemStatus for
// liveness probes.
func (b *Boundary) GetHealthReport(ctx context.Context) (*HealthReport, error) {
	status, err := b.GetSystemStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthReport{MaintenanceMode: status.MaintenanceMode, RunningWorkflows: status.RunningWorkflows, Cache: status.Cache}, nil
}

// GetValidationHistory returns every ValidationRecord ever produced for
// one file path, oldest first.
func (b *Boundary) GetValidationHistory(ctx context.Context, filePath string) ([]*store.ValidationRecord, error) {
	return b.st.ListValidations(ctx, store.ValidationFilter{FilePath: &filePath}, store.Page{})
}

// GetAvailableValidators returns every registered validator.
func (b *Boundary) GetAvailableValidators(ctx context.Context) ([]*store.ValidatorRegistration, error) {
	return b.st.ListValidatorRegistrations(ctx)
}

// ExportFormat selects export_validation/recommendations/workflow's
// output encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

func marshalExport(format ExportFormat, v any) ([]byte, error) {
	switch format {
	case ExportYAML:
		return goyaml.Marshal(v)
	case ExportJSON, "":
		return json.MarshalIndent(v, "", "  ")
	default:
		return nil, tbcverr.Newf(tbcverr.InvalidArgument, "unsupported export format %q", format)
	}
}

// ExportValidation serializes a ValidationRecord.
func (b *Boundary) ExportValidation(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	record, err := b.st.GetValidation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading validation %s: %w", id, err)
	}
	return marshalExport(format, record)
}

// ExportRecommendations serializes a validation's recommendations.
func (b *Boundary) ExportRecommendations(ctx context.Context, validationID string, format ExportFormat) ([]byte, error) {
	recs, err := b.st.ListRecommendations(ctx, store.RecommendationFilter{ValidationID: &validationID})
	if err != nil {
		return nil, fmt.Errorf("boundary: listing recommendations for %s: %w", validationID, err)
	}
	return marshalExport(format, recs)
}

// ExportWorkflow serializes a Workflow record.
func (b *Boundary) ExportWorkflow(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	wf, err := b.orch.Status(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("boundary: loading workflow %s: %w", id, err)
	}
	return marshalExport(format, wf)
}
