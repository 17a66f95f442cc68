package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/criteria"
	"github.com/apexboard/prioritizer/internal/finance"
)

// ErrNotFound reports a lookup by ID that matched nothing.
var ErrNotFound = errors.New("not found")

// WorkItem is the external tracker's entity, read-only to this engine. Only
// the attributes named by criterion data_source keys matter here.
type WorkItem struct {
	ID          uuid.UUID              `json:"id"`
	Project     string                 `json:"project"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Attributes  map[string]interface{} `json:"attributes"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Tier is the discretized priority bucket.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// ScoreResult is the engine's composite output for one work item.
type ScoreResult struct {
	WorkItemID         uuid.UUID                          `json:"work_item_id"`
	WorkflowID         uuid.UUID                          `json:"workflow_id"`
	CompositeScore     float64                            `json:"composite_score"`
	Tier               Tier                               `json:"priority_tier"`
	CriteriaBreakdown  map[string]criteria.CriterionScore `json:"criteria_breakdown,omitempty"`
	FinancialBreakdown *finance.Result                    `json:"financial_breakdown,omitempty"`
	Insights           []string                           `json:"insights,omitempty"`
	Confidence         float64                            `json:"confidence"`
	UsedAI             bool                               `json:"used_ai"`
	ScoredAt           time.Time                          `json:"scored_at"`
}

// WriteAck reports a score write-back. The engine never issues partial
// writes silently: either everything persisted or FailedIDs names exactly
// the items that did not.
type WriteAck struct {
	Written   int         `json:"written"`
	FailedIDs []uuid.UUID `json:"failed_ids,omitempty"`
}

type Mode string

const (
	ModeRealtime    Mode = "realtime"
	ModeBatch       Mode = "batch"
	ModeIncremental Mode = "incremental"
	ModeScheduled   Mode = "scheduled"
	ModeFullRecalc  Mode = "full_recalc"
)

type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowPaused    WorkflowStatus = "paused" // scheduled-job workflows only
)

// Workflow is one scoring operation instance.
type Workflow struct {
	ID                   uuid.UUID      `json:"id"`
	Mode                 Mode           `json:"mode"`
	Status               WorkflowStatus `json:"status"`
	Project              string         `json:"project"`
	ConfigurationID      uuid.UUID      `json:"configuration_id"`
	ConfigurationVersion int            `json:"configuration_version"`
	ScheduledJobID       *uuid.UUID     `json:"scheduled_job_id,omitempty"`

	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`
	SucceededItems int `json:"succeeded_items"`
	FailedItems    int `json:"failed_items"`

	Errors []string `json:"errors,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type WorkflowFilter struct {
	Status *WorkflowStatus
	Mode   *Mode
	Limit  int
	Offset int
}

type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobPaused    JobStatus = "paused"
	JobCancelled JobStatus = "cancelled"
)

// ScheduledJob is a recurring scoring job. It persists until explicitly
// cancelled and spawns a fresh Workflow on every fire.
type ScheduledJob struct {
	ID              uuid.UUID  `json:"id"`
	CronExpr        string     `json:"cron_expr"`
	JobType         Mode       `json:"job_type"`
	Project         string     `json:"project"`
	ConfigurationID uuid.UUID  `json:"configuration_id"`
	Status          JobStatus  `json:"status"`
	NextFireTime    time.Time  `json:"next_fire_time"`
	LastFireTime    *time.Time `json:"last_fire_time,omitempty"`
	FailureCount    int        `json:"failure_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Priority orders ad hoc requests in the scheduler queue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// Priorities lists queue priorities from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// ScoringRequest is the engine's entry payload.
type ScoringRequest struct {
	ID              uuid.UUID   `json:"id"`
	Mode            Mode        `json:"mode"`
	Project         string      `json:"project"`
	WorkItemIDs     []uuid.UUID `json:"work_item_ids,omitempty"` // empty = whole project
	ConfigurationID uuid.UUID   `json:"configuration_id"`
	Priority        Priority    `json:"priority,omitempty"`
	MaxWaitMs       int         `json:"max_wait_ms,omitempty"`
	CronExpr        string      `json:"cron_expr,omitempty"` // scheduled mode only
}

// MetricSample is one persisted time-series point.
type MetricSample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// IntegrationError wraps a work-item-store failure. It is retried with
// backoff; exhausting retries fails the workflow.
type IntegrationError struct {
	Op  string
	Err error
}

func (e *IntegrationError) Error() string { return "integration: " + e.Op + ": " + e.Err.Error() }
func (e *IntegrationError) Unwrap() error { return e.Err }

// Store is the persistence contract: the narrow work-item-store interface
// plus the engine's own durable state.
type Store interface {
	// Work-item-store contract (external collaborator).
	ReadItems(ctx context.Context, project string, ids []uuid.UUID) ([]*WorkItem, error)
	WriteScores(ctx context.Context, results []*ScoreResult) (*WriteAck, error)

	// Configuration versions: immutable, copy-on-write.
	GetConfiguration(ctx context.Context, id uuid.UUID) (*criteria.Configuration, error)
	ListConfigurations(ctx context.Context) ([]*criteria.Configuration, error)
	SaveConfiguration(ctx context.Context, cfg *criteria.Configuration) (*criteria.Configuration, error)

	// Workflow history (bounded retention).
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	PruneWorkflows(ctx context.Context, olderThan time.Time) (int64, error)

	// Scheduled-job registry.
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id uuid.UUID) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, job *ScheduledJob) error
	ListScheduledJobs(ctx context.Context, status *JobStatus) ([]*ScheduledJob, error)

	// Compacted metric time series.
	InsertMetricSamples(ctx context.Context, samples []MetricSample) error

	Close() error
}
