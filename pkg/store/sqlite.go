package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver, pure Go

	"github.com/tbcv/engine/pkg/ids"
	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/tbcverr"
)

var log = logger.New("store:sqlite")

// SQLiteStore is the single Store implementation. It is safe for
// concurrent use; database/sql pools connections internally and every
// mutating call runs inside its own transaction.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open creates (if needed) and opens the database at dsn, applying the
// schema with CREATE ... IF NOT EXISTS so repeated opens are safe.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer; serializes at the connection pool

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// withRetry retries fn on SQLite busy/locked errors with bounded
// exponential backoff before surfacing StorageUnavailable, per spec.md
// §4.1's "transient backend errors are retried... after exhaustion,
// surface StorageUnavailable" — the Store is its own first caller of this
// retry policy.
func withRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 5
	backoff := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return tbcverr.Wrap(tbcverr.Cancelled, ctx.Err(), "store: context cancelled during retry")
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		log.Printf("retrying after transient storage error: %v", lastErr)
	}
	return tbcverr.Wrap(tbcverr.StorageUnavailable, lastErr, "store: retries exhausted")
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: beginning transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSON[T any](raw string, out *T) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// --- Workflows ---

func (s *SQLiteStore) PutWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = ids.New()
	}
	wf.InputParamsJSON = marshalJSON(wf.InputParams)
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO workflows (id, type, state, input_params, total_steps, current_step,
				progress_percent, error_message, created_at, updated_at, completed_at)
			VALUES (:id, :type, :state, :input_params, :total_steps, :current_step,
				:progress_percent, :error_message, :created_at, :updated_at, :completed_at)
			ON CONFLICT(id) DO UPDATE SET
				type=excluded.type, state=excluded.state, input_params=excluded.input_params,
				total_steps=excluded.total_steps, current_step=excluded.current_step,
				progress_percent=excluded.progress_percent, error_message=excluded.error_message,
				updated_at=excluded.updated_at, completed_at=excluded.completed_at
		`, wf)
		return err
	})
}

func (s *SQLiteStore) UpdateWorkflowState(ctx context.Context, id, state string, progress int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workflows SET state=?, progress_percent=?, updated_at=? WHERE id=?`,
			state, progress, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "workflow", id)
	})
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	err := withRetry(ctx, func() error {
		return s.db.GetContext(ctx, &wf, `SELECT * FROM workflows WHERE id=?`, id)
	})
	if err == sql.ErrNoRows {
		return nil, tbcverr.Newf(tbcverr.NotFound, "workflow %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get workflow: %w", err)
	}
	_ = unmarshalJSON(wf.InputParamsJSON, &wf.InputParams)
	return &wf, nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT * FROM workflows WHERE 1=1`
	var args []any
	if filter.State != nil {
		query += ` AND state=?`
		args = append(args, *filter.State)
	}
	if filter.Type != nil {
		query += ` AND type=?`
		args = append(args, *filter.Type)
	}
	query += ` ORDER BY created_at DESC`

	var rows []*Workflow
	err := withRetry(ctx, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list workflows: %w", err)
	}
	for _, wf := range rows {
		_ = unmarshalJSON(wf.InputParamsJSON, &wf.InputParams)
	}
	return rows, nil
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return tbcverr.New(tbcverr.InvalidArgument, "delete_workflow requires confirm=true")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id=?`, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "workflow", id)
	})
}

func (s *SQLiteStore) BulkDeleteWorkflows(ctx context.Context, filter WorkflowFilter, confirm bool) (int, error) {
	if !confirm {
		return 0, tbcverr.New(tbcverr.InvalidArgument, "bulk_delete_workflows requires confirm=true")
	}
	query := `DELETE FROM workflows WHERE 1=1`
	var args []any
	if filter.State != nil {
		query += ` AND state=?`
		args = append(args, *filter.State)
	}
	if filter.Type != nil {
		query += ` AND type=?`
		args = append(args, *filter.Type)
	}

	var affected int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

func requireRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tbcverr.Newf(tbcverr.NotFound, "%s %s not found", entity, id)
	}
	return nil
}

// --- Checkpoints ---

func (s *SQLiteStore) AppendCheckpoint(ctx context.Context, workflowID string, blob []byte) (*Checkpoint, error) {
	cp := &Checkpoint{ID: ids.New(), WorkflowID: workflowID, Blob: blob, CreatedAt: time.Now().UTC()}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints (id, workflow_id, blob, created_at) VALUES (?, ?, ?, ?)`,
			cp.ID, cp.WorkflowID, cp.Blob, cp.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: append checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := withRetry(ctx, func() error {
		return s.db.GetContext(ctx, &cp,
			`SELECT * FROM checkpoints WHERE workflow_id=? ORDER BY created_at DESC LIMIT 1`, workflowID)
	})
	if err == sql.ErrNoRows {
		return nil, tbcverr.Newf(tbcverr.NotFound, "no checkpoint for workflow %s", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest checkpoint: %w", err)
	}
	return &cp, nil
}

// --- Validation records ---

func (s *SQLiteStore) PutValidation(ctx context.Context, rec *ValidationRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rulesJSON := marshalJSON(rec.RulesApplied)
	issuesJSON := marshalJSON(rec.Issues)

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO validation_results (id, workflow_id, file_path, family, content_hash,
				rules_applied, issues, severity, status, run_id, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.WorkflowID, rec.FilePath, rec.Family, rec.ContentHash,
			rulesJSON, issuesJSON, rec.Severity, rec.Status, rec.RunID, rec.Notes, rec.CreatedAt)
		return err
	})
}

func (s *SQLiteStore) GetValidation(ctx context.Context, id string) (*ValidationRecord, error) {
	var row validationRow
	err := withRetry(ctx, func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM validation_results WHERE id=?`, id)
	})
	if err == sql.ErrNoRows {
		return nil, tbcverr.Newf(tbcverr.NotFound, "validation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get validation: %w", err)
	}
	return row.toRecord(), nil
}

// validationRow is the raw scanned shape before JSON columns are decoded.
type validationRow struct {
	ID           string    `db:"id"`
	WorkflowID   *string   `db:"workflow_id"`
	FilePath     string    `db:"file_path"`
	Family       *string   `db:"family"`
	ContentHash  string    `db:"content_hash"`
	RulesApplied string    `db:"rules_applied"`
	Issues       string    `db:"issues"`
	Severity     string    `db:"severity"`
	Status       string    `db:"status"`
	RunID        *string   `db:"run_id"`
	Notes        string    `db:"notes"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r validationRow) toRecord() *ValidationRecord {
	rec := &ValidationRecord{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		FilePath:    r.FilePath,
		Family:      r.Family,
		ContentHash: r.ContentHash,
		Severity:    r.Severity,
		Status:      r.Status,
		RunID:       r.RunID,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt,
	}
	_ = unmarshalJSON(r.RulesApplied, &rec.RulesApplied)
	_ = unmarshalJSON(r.Issues, &rec.Issues)
	return rec
}

func (s *SQLiteStore) ListValidations(ctx context.Context, filter ValidationFilter, page Page) ([]*ValidationRecord, error) {
	query := `SELECT * FROM validation_results WHERE 1=1`
	var args []any
	if filter.WorkflowID != nil {
		query += ` AND workflow_id=?`
		args = append(args, *filter.WorkflowID)
	}
	if filter.FilePath != nil {
		query += ` AND file_path=?`
		args = append(args, *filter.FilePath)
	}
	if filter.Status != nil {
		query += ` AND status=?`
		args = append(args, *filter.Status)
	}
	if filter.RunID != nil {
		query += ` AND run_id=?`
		args = append(args, *filter.RunID)
	}
	query += ` ORDER BY created_at DESC`
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}

	var rows []validationRow
	err := withRetry(ctx, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list validations: %w", err)
	}
	out := make([]*ValidationRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

func (s *SQLiteStore) UpdateValidation(ctx context.Context, id string, notes *string, status *string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if notes != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE validation_results SET notes=? WHERE id=?`, *notes, id); err != nil {
				return err
			}
		}
		if status != nil {
			res, err := tx.ExecContext(ctx, `UPDATE validation_results SET status=? WHERE id=?`, *status, id)
			if err != nil {
				return err
			}
			return requireRowsAffected(res, "validation", id)
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteValidation(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return tbcverr.New(tbcverr.InvalidArgument, "delete_validation requires confirm=true")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM validation_results WHERE id=?`, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "validation", id)
	})
}

// --- Recommendations ---

func (s *SQLiteStore) PutRecommendation(ctx context.Context, rec *Recommendation) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var fixJSON *string
	if rec.AutomatedFix != nil {
		j := marshalJSON(rec.AutomatedFix)
		fixJSON = &j
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recommendations (id, validation_id, type, description, automated_fix,
				confidence, status, reviewer, notes, created_at, reviewed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.ValidationID, rec.Type, rec.Description, fixJSON,
			rec.Confidence, rec.Status, rec.Reviewer, rec.Notes, rec.CreatedAt, rec.ReviewedAt)
		return err
	})
}

type recommendationRow struct {
	ID           string     `db:"id"`
	ValidationID string     `db:"validation_id"`
	Type         string     `db:"type"`
	Description  string     `db:"description"`
	AutomatedFix *string    `db:"automated_fix"`
	Confidence   float64    `db:"confidence"`
	Status       string     `db:"status"`
	Reviewer     string     `db:"reviewer"`
	Notes        string     `db:"notes"`
	CreatedAt    time.Time  `db:"created_at"`
	ReviewedAt   *time.Time `db:"reviewed_at"`
}

func (r recommendationRow) toRecommendation() *Recommendation {
	rec := &Recommendation{
		ID:           r.ID,
		ValidationID: r.ValidationID,
		Type:         r.Type,
		Description:  r.Description,
		Confidence:   r.Confidence,
		Status:       r.Status,
		Reviewer:     r.Reviewer,
		Notes:        r.Notes,
		CreatedAt:    r.CreatedAt,
		ReviewedAt:   r.ReviewedAt,
	}
	if r.AutomatedFix != nil {
		var fix EditOp
		if unmarshalJSON(*r.AutomatedFix, &fix) == nil {
			rec.AutomatedFix = &fix
		}
	}
	return rec
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]*Recommendation, error) {
	query := `SELECT * FROM recommendations WHERE 1=1`
	var args []any
	if filter.ValidationID != nil {
		query += ` AND validation_id=?`
		args = append(args, *filter.ValidationID)
	}
	if filter.Status != nil {
		query += ` AND status=?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	var rows []recommendationRow
	err := withRetry(ctx, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list recommendations: %w", err)
	}
	out := make([]*Recommendation, len(rows))
	for i, r := range rows {
		out[i] = r.toRecommendation()
	}
	return out, nil
}

func (s *SQLiteStore) GetRecommendation(ctx context.Context, id string) (*Recommendation, error) {
	var row recommendationRow
	err := withRetry(ctx, func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM recommendations WHERE id=?`, id)
	})
	if err == sql.ErrNoRows {
		return nil, tbcverr.Newf(tbcverr.NotFound, "recommendation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get recommendation: %w", err)
	}
	return row.toRecommendation(), nil
}

func (s *SQLiteStore) SetRecommendationStatus(ctx context.Context, id, status, reviewer, notes string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE recommendations SET status=?, reviewer=?, notes=?, reviewed_at=? WHERE id=?`,
			status, reviewer, notes, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "recommendation", id)
	})
}

func (s *SQLiteStore) DeleteRecommendation(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM recommendations WHERE id=?`, id)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "recommendation", id)
	})
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_logs (id, recommendation_id, validation_id, actor, action,
				timestamp, before_hash, after_hash, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.RecommendationID, entry.ValidationID, entry.Actor, entry.Action,
			entry.Timestamp, entry.BeforeHash, entry.AfterHash, entry.Notes)
		return err
	})
}

func (s *SQLiteStore) GetAuditLog(ctx context.Context, filter AuditFilter, page Page) ([]*AuditEntry, error) {
	query := `SELECT * FROM audit_logs WHERE 1=1`
	var args []any
	if filter.ValidationID != nil {
		query += ` AND validation_id=?`
		args = append(args, *filter.ValidationID)
	}
	if filter.RecommendationID != nil {
		query += ` AND recommendation_id=?`
		args = append(args, *filter.RecommendationID)
	}
	if filter.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, *filter.Since)
	}
	query += ` ORDER BY timestamp DESC`
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}

	var rows []*AuditEntry
	err := withRetry(ctx, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("store: get audit log: %w", err)
	}
	return rows, nil
}

// --- Cache L2 ---

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, row *CacheRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (key, value, compressed, ttl_seconds, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value=excluded.value, compressed=excluded.compressed,
				ttl_seconds=excluded.ttl_seconds, created_at=excluded.created_at
		`, row.Key, row.Value, row.Compressed, row.TTLSeconds, row.CreatedAt)
		return err
	})
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*CacheRow, error) {
	var row CacheRow
	err := withRetry(ctx, func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM cache_entries WHERE key=?`, key)
	})
	if err == sql.ErrNoRows {
		return nil, tbcverr.Newf(tbcverr.NotFound, "cache entry %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cache entry: %w", err)
	}
	return &row, nil
}

func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key=?`, key)
		return err
	})
}

func (s *SQLiteStore) DeleteCacheEntriesWithPrefix(ctx context.Context, prefix string) (int, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key LIKE ? || '%'`, prefix)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

func (s *SQLiteStore) SweepExpiredCacheEntries(ctx context.Context) (int, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries
			WHERE ttl_seconds >= 0 AND unixepoch(created_at) + ttl_seconds < unixepoch('now')
		`)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// --- Metrics ---

func (s *SQLiteStore) RecordMetric(ctx context.Context, m *Metric) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}
	labelsJSON := marshalJSON(m.Labels)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (id, name, labels, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.Name, labelsJSON, m.Value, m.RecordedAt)
		return err
	})
}

type metricRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Labels     string    `db:"labels"`
	Value      float64   `db:"value"`
	RecordedAt time.Time `db:"recorded_at"`
}

func (s *SQLiteStore) QueryMetrics(ctx context.Context, name string, since, until time.Time) ([]*Metric, error) {
	query := `SELECT * FROM metrics WHERE name=?`
	args := []any{name}
	if !since.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, since)
	}
	if !until.IsZero() {
		query += ` AND recorded_at <= ?`
		args = append(args, until)
	}
	query += ` ORDER BY recorded_at ASC`

	var rows []metricRow
	err := withRetry(ctx, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("store: query metrics: %w", err)
	}
	out := make([]*Metric, len(rows))
	for i, r := range rows {
		m := &Metric{ID: r.ID, Name: r.Name, Value: r.Value, RecordedAt: r.RecordedAt}
		_ = unmarshalJSON(r.Labels, &m.Labels)
		out[i] = m
	}
	return out, nil
}

// --- Validator registrations ---

func (s *SQLiteStore) PutValidatorRegistration(ctx context.Context, reg *ValidatorRegistration) error {
	configJSON := marshalJSON(reg.Config)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO validator_registrations (id, tier, enabled, config)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET tier=excluded.tier, enabled=excluded.enabled, config=excluded.config
		`, reg.ID, reg.Tier, reg.Enabled, configJSON)
		return err
	})
}

func (s *SQLiteStore) ListValidatorRegistrations(ctx context.Context) ([]*ValidatorRegistration, error) {
	type row struct {
		ID      string `db:"id"`
		Tier    int    `db:"tier"`
		Enabled bool   `db:"enabled"`
		Config  string `db:"config"`
	}
	var rows []row
	err := withRetry(ctx, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, `SELECT * FROM validator_registrations ORDER BY tier, id`)
	})
	if err != nil {
		return nil, fmt.Errorf("store: list validator registrations: %w", err)
	}
	out := make([]*ValidatorRegistration, len(rows))
	for i, r := range rows {
		reg := &ValidatorRegistration{ID: r.ID, Tier: r.Tier, Enabled: r.Enabled}
		_ = unmarshalJSON(r.Config, &reg.Config)
		out[i] = reg
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
