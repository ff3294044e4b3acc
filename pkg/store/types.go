package store

import "time"

// Workflow mirrors spec.md §3's Workflow entity.
type Workflow struct {
	ID              string         `db:"id"`
	Type            string         `db:"type"`
	State           string         `db:"state"`
	InputParams     map[string]any `db:"-"`
	InputParamsJSON string         `db:"input_params"`
	TotalSteps      int            `db:"total_steps"`
	CurrentStep     int            `db:"current_step"`
	ProgressPercent int            `db:"progress_percent"`
	ErrorMessage    *string        `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
}

// Checkpoint mirrors spec.md §3's Checkpoint entity.
type Checkpoint struct {
	ID         string    `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	Blob       []byte    `db:"blob"`
	CreatedAt  time.Time `db:"created_at"`
}

// Issue mirrors spec.md §3's Issue entity.
type Issue struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Message    string   `json:"message"`
	Location   Location `json:"location"`
	Evidence   string   `json:"evidence,omitempty"`
	Confidence float64  `json:"confidence"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Location identifies a line/column span within a document.
type Location struct {
	Line      int `json:"line"`
	EndLine   int `json:"end_line,omitempty"`
	Column    int `json:"column,omitempty"`
	EndColumn int `json:"end_column,omitempty"`
}

// ValidationRecord mirrors spec.md §3's ValidationRecord entity.
type ValidationRecord struct {
	ID           string    `db:"id"`
	WorkflowID   *string   `db:"workflow_id"`
	FilePath     string    `db:"file_path"`
	Family       *string   `db:"family"`
	ContentHash  string    `db:"content_hash"`
	RulesApplied []string  `db:"-"`
	Issues       []Issue   `db:"-"`
	Severity     string    `db:"severity"`
	Status       string    `db:"status"`
	RunID        *string   `db:"run_id"`
	Notes        string    `db:"notes"`
	CreatedAt    time.Time `db:"created_at"`
}

// Recommendation mirrors spec.md §3's Recommendation entity.
type Recommendation struct {
	ID           string     `db:"id"`
	ValidationID string     `db:"validation_id"`
	Type         string     `db:"type"`
	Description  string     `db:"description"`
	AutomatedFix *EditOp    `db:"-"`
	Confidence   float64    `db:"confidence"`
	Status       string     `db:"status"`
	Reviewer     string     `db:"reviewer"`
	Notes        string     `db:"notes"`
	CreatedAt    time.Time  `db:"created_at"`
	ReviewedAt   *time.Time `db:"reviewed_at"`
}

// EditOp is the structured automated-fix payload carried by a
// Recommendation, per spec.md §4.7. Exactly one of its Op-specific fields
// is meaningful for a given Op.
type EditOp struct {
	Op     string `json:"op"` // insert_before | insert_after | replace | delete | set_front_matter
	Line   int    `json:"line,omitempty"`
	Span   Span   `json:"span,omitempty"`
	Text   string `json:"text,omitempty"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Span is a byte range within a document, used by replace/delete edit ops.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// AuditEntry mirrors spec.md §3's AuditEntry entity. Append-only.
type AuditEntry struct {
	ID               string    `db:"id"`
	RecommendationID *string   `db:"recommendation_id"`
	ValidationID     *string   `db:"validation_id"`
	Actor            string    `db:"actor"`
	Action           string    `db:"action"`
	Timestamp        time.Time `db:"timestamp"`
	BeforeHash       string    `db:"before_hash"`
	AfterHash        string    `db:"after_hash"`
	Notes            string    `db:"notes"`
}

// Metric mirrors SPEC_FULL's supplemented Metric entity: ambient
// observability samples recorded by the Orchestrator/Router.
type Metric struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Labels     map[string]any `db:"-"`
	Value      float64        `db:"value"`
	RecordedAt time.Time      `db:"recorded_at"`
}

// ValidatorRegistration mirrors SPEC_FULL's supplemented
// ValidatorRegistration entity, backing get_available_validators.
type ValidatorRegistration struct {
	ID      string         `db:"id"`
	Tier    int            `db:"tier"`
	Enabled bool           `db:"enabled"`
	Config  map[string]any `db:"-"`
}

// CacheRow is the L2 persisted form of a cache.Entry, owned by the Store.
type CacheRow struct {
	Key        string    `db:"key"`
	Value      []byte    `db:"value"`
	Compressed bool      `db:"compressed"`
	TTLSeconds int64     `db:"ttl_seconds"`
	CreatedAt  time.Time `db:"created_at"`
}

// ValidationFilter narrows list_validations/bulk operations.
type ValidationFilter struct {
	WorkflowID *string
	FilePath   *string
	Status     *string
	RunID      *string
}

// RecommendationFilter narrows get_recommendations.
type RecommendationFilter struct {
	ValidationID *string
	Status       *string
}

// WorkflowFilter narrows list_workflows/bulk_delete_workflows.
type WorkflowFilter struct {
	State *string
	Type  *string
}

// AuditFilter narrows get_audit_log.
type AuditFilter struct {
	ValidationID     *string
	RecommendationID *string
	Since            *time.Time
}

// Page requests a bounded, offset-based page of results.
type Page struct {
	Offset int
	Limit  int
}
