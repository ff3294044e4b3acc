package store

// schema is applied with CREATE TABLE/INDEX IF NOT EXISTS on every Open, so
// opening an existing database is always safe. Tables mirror the entities
// of spec.md §3; indices mirror spec.md §4.1.
const schema = `
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    state TEXT NOT NULL,
    input_params TEXT NOT NULL DEFAULT '{}',
    total_steps INTEGER NOT NULL DEFAULT 0,
    current_step INTEGER NOT NULL DEFAULT 0,
    progress_percent INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_workflows_state_created ON workflows(state, created_at);

CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    blob BLOB NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow_created ON checkpoints(workflow_id, created_at);

CREATE TABLE IF NOT EXISTS validation_results (
    id TEXT PRIMARY KEY,
    workflow_id TEXT,
    file_path TEXT NOT NULL,
    family TEXT,
    content_hash TEXT NOT NULL,
    rules_applied TEXT NOT NULL DEFAULT '[]',
    issues TEXT NOT NULL DEFAULT '[]',
    severity TEXT NOT NULL DEFAULT 'info',
    status TEXT NOT NULL DEFAULT 'pass' CHECK (
        status IN ('pass', 'fail', 'warning', 'skipped', 'approved', 'rejected', 'enhanced')
    ),
    run_id TEXT,
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_results_workflow_status ON validation_results(workflow_id, status);
CREATE INDEX IF NOT EXISTS idx_validation_results_path_created ON validation_results(file_path, created_at DESC);

CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    validation_id TEXT NOT NULL,
    type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    automated_fix TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'proposed' CHECK (
        status IN ('proposed', 'approved', 'rejected', 'applied')
    ),
    reviewer TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    reviewed_at DATETIME,
    FOREIGN KEY (validation_id) REFERENCES validation_results(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_recommendations_validation_status ON recommendations(validation_id, status);

CREATE TABLE IF NOT EXISTS audit_logs (
    id TEXT PRIMARY KEY,
    recommendation_id TEXT,
    validation_id TEXT,
    actor TEXT NOT NULL,
    action TEXT NOT NULL CHECK (
        action IN ('propose', 'approve', 'reject', 'apply', 'revert')
    ),
    timestamp DATETIME NOT NULL,
    before_hash TEXT NOT NULL DEFAULT '',
    after_hash TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);

CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    ttl_seconds INTEGER NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at);

CREATE TABLE IF NOT EXISTS metrics (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    labels TEXT NOT NULL DEFAULT '{}',
    value REAL NOT NULL,
    recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_recorded ON metrics(name, recorded_at);

CREATE TABLE IF NOT EXISTS validator_registrations (
    id TEXT PRIMARY KEY,
    tier INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    config TEXT NOT NULL DEFAULT '{}'
);
`
