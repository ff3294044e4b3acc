// Package store persists the engine's durable records — workflows,
// checkpoints, validation results, recommendations, audit entries, cache
// L2 entries, and metrics — behind a single relational Store interface.
// The only implementation built here is backed by a pure-Go SQLite driver;
// the interface is defined first so a networked backend can replace it
// later without touching callers.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface used by every other component.
// All mutating operations run inside a single transaction per call.
// delete_* operations require confirm=true or return
// tbcverr.InvalidArgument.
type Store interface {
	PutWorkflow(ctx context.Context, wf *Workflow) error
	UpdateWorkflowState(ctx context.Context, id, state string, progress int) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string, confirm bool) error
	BulkDeleteWorkflows(ctx context.Context, filter WorkflowFilter, confirm bool) (int, error)

	AppendCheckpoint(ctx context.Context, workflowID string, blob []byte) (*Checkpoint, error)
	LatestCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error)

	PutValidation(ctx context.Context, rec *ValidationRecord) error
	GetValidation(ctx context.Context, id string) (*ValidationRecord, error)
	ListValidations(ctx context.Context, filter ValidationFilter, page Page) ([]*ValidationRecord, error)
	UpdateValidation(ctx context.Context, id string, notes *string, status *string) error
	DeleteValidation(ctx context.Context, id string, confirm bool) error

	PutRecommendation(ctx context.Context, rec *Recommendation) error
	ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]*Recommendation, error)
	GetRecommendation(ctx context.Context, id string) (*Recommendation, error)
	SetRecommendationStatus(ctx context.Context, id, status, reviewer, notes string) error
	DeleteRecommendation(ctx context.Context, id string) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	GetAuditLog(ctx context.Context, filter AuditFilter, page Page) ([]*AuditEntry, error)

	PutCacheEntry(ctx context.Context, row *CacheRow) error
	GetCacheEntry(ctx context.Context, key string) (*CacheRow, error)
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCacheEntriesWithPrefix(ctx context.Context, prefix string) (int, error)
	SweepExpiredCacheEntries(ctx context.Context) (int, error)

	RecordMetric(ctx context.Context, m *Metric) error
	QueryMetrics(ctx context.Context, name string, since, until time.Time) ([]*Metric, error)

	PutValidatorRegistration(ctx context.Context, reg *ValidatorRegistration) error
	ListValidatorRegistrations(ctx context.Context) ([]*ValidatorRegistration, error)

	Close() error
}
