package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apexboard/prioritizer/internal/criteria"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Work-item-store contract ---

func (s *PostgresStore) ReadItems(ctx context.Context, project string, ids []uuid.UUID) ([]*WorkItem, error) {
	query := `SELECT id, project, title, description, attributes, updated_at FROM work_items WHERE project = $1`
	args := []interface{}{project}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &IntegrationError{Op: "read items", Err: err}
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		item := &WorkItem{}
		var attrsJSON []byte
		if err := rows.Scan(&item.ID, &item.Project, &item.Title, &item.Description, &attrsJSON, &item.UpdatedAt); err != nil {
			return nil, &IntegrationError{Op: "scan item", Err: err}
		}
		if attrsJSON != nil {
			_ = json.Unmarshal(attrsJSON, &item.Attributes)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &IntegrationError{Op: "read items", Err: err}
	}
	return items, nil
}

// WriteScores persists a batch via a single pgx batch round trip. Rows that
// fail are reported by id; there are no silent partial writes.
func (s *PostgresStore) WriteScores(ctx context.Context, results []*ScoreResult) (*WriteAck, error) {
	if len(results) == 0 {
		return &WriteAck{}, nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		criteriaJSON, _ := json.Marshal(r.CriteriaBreakdown)
		financialJSON, _ := json.Marshal(r.FinancialBreakdown)
		batch.Queue(`
			INSERT INTO work_item_scores (work_item_id, workflow_id, composite_score, priority_tier,
				criteria_breakdown, financial_breakdown, insights, confidence, used_ai, scored_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (work_item_id) DO UPDATE SET
				workflow_id = EXCLUDED.workflow_id,
				composite_score = EXCLUDED.composite_score,
				priority_tier = EXCLUDED.priority_tier,
				criteria_breakdown = EXCLUDED.criteria_breakdown,
				financial_breakdown = EXCLUDED.financial_breakdown,
				insights = EXCLUDED.insights,
				confidence = EXCLUDED.confidence,
				used_ai = EXCLUDED.used_ai,
				scored_at = EXCLUDED.scored_at`,
			r.WorkItemID, r.WorkflowID, r.CompositeScore, r.Tier,
			criteriaJSON, financialJSON, r.Insights, r.Confidence, r.UsedAI, r.ScoredAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	ack := &WriteAck{}
	for _, r := range results {
		if _, err := br.Exec(); err != nil {
			ack.FailedIDs = append(ack.FailedIDs, r.WorkItemID)
			continue
		}
		ack.Written++
	}
	return ack, nil
}

// --- Configuration versions ---

func (s *PostgresStore) GetConfiguration(ctx context.Context, id uuid.UUID) (*criteria.Configuration, error) {
	var defJSON []byte
	var version int
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT version, definition, created_at
		FROM scoring_configurations WHERE id = $1
		ORDER BY version DESC LIMIT 1`, id,
	).Scan(&version, &defJSON, &createdAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("configuration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	cfg := &criteria.Configuration{}
	if err := json.Unmarshal(defJSON, cfg); err != nil {
		return nil, fmt.Errorf("decode configuration %s v%d: %w", id, version, err)
	}
	cfg.ID = id
	cfg.Version = version
	cfg.CreatedAt = createdAt
	return cfg, nil
}

func (s *PostgresStore) ListConfigurations(ctx context.Context) ([]*criteria.Configuration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (id) id, version, definition, created_at
		FROM scoring_configurations
		ORDER BY id, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cfgs []*criteria.Configuration
	for rows.Next() {
		var id uuid.UUID
		var version int
		var defJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &version, &defJSON, &createdAt); err != nil {
			return nil, err
		}
		cfg := &criteria.Configuration{}
		if err := json.Unmarshal(defJSON, cfg); err != nil {
			return nil, fmt.Errorf("decode configuration %s v%d: %w", id, version, err)
		}
		cfg.ID = id
		cfg.Version = version
		cfg.CreatedAt = createdAt
		cfgs = append(cfgs, cfg)
	}
	return cfgs, rows.Err()
}

// SaveConfiguration writes a new immutable version. Existing versions are
// never updated in place.
func (s *PostgresStore) SaveConfiguration(ctx context.Context, cfg *criteria.Configuration) (*criteria.Configuration, error) {
	saved := *cfg
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}
	defJSON, err := json.Marshal(&saved)
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO scoring_configurations (id, version, name, definition)
		VALUES ($1,
			COALESCE((SELECT MAX(version) FROM scoring_configurations WHERE id = $1), 0) + 1,
			$2, $3)
		RETURNING version, created_at`,
		saved.ID, saved.Name, defJSON,
	).Scan(&saved.Version, &saved.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// --- Workflow history ---

const workflowColumns = `id, mode, status, project, configuration_id, configuration_version,
	scheduled_job_id, total_items, processed_items, succeeded_items, failed_items,
	errors, created_at, started_at, completed_at`

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO scoring_workflows (id, mode, status, project, configuration_id, configuration_version,
			scheduled_job_id, total_items, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		wf.ID, wf.Mode, wf.Status, wf.Project, wf.ConfigurationID, wf.ConfigurationVersion,
		wf.ScheduledJobID, wf.TotalItems, wf.Errors,
	).Scan(&wf.CreatedAt)
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM scoring_workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return wf, err
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scoring_workflows SET
			status = $2, total_items = $3, processed_items = $4,
			succeeded_items = $5, failed_items = $6, errors = $7,
			started_at = $8, completed_at = $9
		WHERE id = $1`,
		wf.ID, wf.Status, wf.TotalItems, wf.ProcessedItems,
		wf.SucceededItems, wf.FailedItems, wf.Errors,
		wf.StartedAt, wf.CompletedAt,
	)
	return err
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM scoring_workflows WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.Mode != nil {
		n++
		query += fmt.Sprintf(" AND mode = $%d", n)
		args = append(args, string(*filter.Mode))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wfs []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

func (s *PostgresStore) PruneWorkflows(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scoring_workflows
		WHERE completed_at IS NOT NULL AND completed_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scannable) (*Workflow, error) {
	wf := &Workflow{}
	err := row.Scan(
		&wf.ID, &wf.Mode, &wf.Status, &wf.Project, &wf.ConfigurationID, &wf.ConfigurationVersion,
		&wf.ScheduledJobID, &wf.TotalItems, &wf.ProcessedItems, &wf.SucceededItems, &wf.FailedItems,
		&wf.Errors, &wf.CreatedAt, &wf.StartedAt, &wf.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// --- Scheduled jobs ---

const jobColumns = `id, cron_expr, job_type, project, configuration_id, status,
	next_fire_time, last_fire_time, failure_count, created_at, updated_at`

func (s *PostgresStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_jobs (id, cron_expr, job_type, project, configuration_id, status, next_fire_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		job.ID, job.CronExpr, job.JobType, job.Project, job.ConfigurationID, job.Status, job.NextFireTime,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (s *PostgresStore) GetScheduledJob(ctx context.Context, id uuid.UUID) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	err := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.CronExpr, &job.JobType, &job.Project, &job.ConfigurationID, &job.Status,
		&job.NextFireTime, &job.LastFireTime, &job.FailureCount, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("scheduled job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) UpdateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET
			status = $2, next_fire_time = $3, last_fire_time = $4,
			failure_count = $5, updated_at = NOW()
		WHERE id = $1`,
		job.ID, job.Status, job.NextFireTime, job.LastFireTime, job.FailureCount,
	)
	return err
}

func (s *PostgresStore) ListScheduledJobs(ctx context.Context, status *JobStatus) ([]*ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		if err := rows.Scan(
			&job.ID, &job.CronExpr, &job.JobType, &job.Project, &job.ConfigurationID, &job.Status,
			&job.NextFireTime, &job.LastFireTime, &job.FailureCount, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// --- Metric time series ---

func (s *PostgresStore) InsertMetricSamples(ctx context.Context, samples []MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sm := range samples {
		tagsJSON, _ := json.Marshal(sm.Tags)
		batch.Queue(`
			INSERT INTO metric_samples (name, value, ts, tags)
			VALUES ($1, $2, $3, $4)`,
			sm.Name, sm.Value, sm.Timestamp, tagsJSON,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range samples {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
