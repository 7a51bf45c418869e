package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/academic-core/internal/models"
)

// AnalyticsJobRepository persists asynchronous report job metadata.
type AnalyticsJobRepository struct {
	db *sqlx.DB
}

// NewAnalyticsJobRepository constructs the repository.
func NewAnalyticsJobRepository(db *sqlx.DB) *AnalyticsJobRepository {
	return &AnalyticsJobRepository{db: db}
}

// UpdateAnalyticsJobParams contains optional fields for partial job updates.
type UpdateAnalyticsJobParams struct {
	Status       *models.AnalyticsJobStatus
	Progress     *int
	Result       *models.Report
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Create persists a new job row.
func (r *AnalyticsJobRepository) Create(ctx context.Context, job *models.AnalyticsJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.AnalyticsJobQueued
	}
	const query = `INSERT INTO analytics_jobs (id, params, status, progress, created_by, created_at)
        VALUES (:id, :params, :status, :progress, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create analytics job: %w", err)
	}
	return nil
}

// GetByID returns a job by its ID.
func (r *AnalyticsJobRepository) GetByID(ctx context.Context, id string) (*models.AnalyticsJob, error) {
	const query = `SELECT id, params, status, progress, result, created_by, created_at, finished_at, error_message
        FROM analytics_jobs WHERE id = $1`
	var job models.AnalyticsJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// Update applies the provided partial update to a job row.
func (r *AnalyticsJobRepository) Update(ctx context.Context, id string, params UpdateAnalyticsJobParams) error {
	var sets []string
	var args []interface{}
	args = append(args, id)

	if params.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *params.Status)
	}
	if params.Progress != nil {
		sets = append(sets, fmt.Sprintf("progress = $%d", len(args)+1))
		args = append(args, *params.Progress)
	}
	if params.Result != nil {
		sets = append(sets, fmt.Sprintf("result = $%d", len(args)+1))
		args = append(args, *params.Result)
	}
	if params.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)+1))
		args = append(args, *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		sets = append(sets, fmt.Sprintf("finished_at = $%d", len(args)+1))
		args = append(args, *params.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE analytics_jobs SET %s WHERE id = $1", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update analytics job: %w", err)
	}
	return nil
}

// RequeueProcessing moves in-flight jobs back to the queue. Called on
// startup so jobs orphaned by a crashed worker are picked up again; their
// checkpoints make the rerun resume instead of restarting.
func (r *AnalyticsJobRepository) RequeueProcessing(ctx context.Context) (int64, error) {
	const query = `UPDATE analytics_jobs SET status = $1 WHERE status = $2`
	result, err := r.db.ExecContext(ctx, query, models.AnalyticsJobQueued, models.AnalyticsJobProcessing)
	if err != nil {
		return 0, fmt.Errorf("requeue processing analytics jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue processing analytics jobs: %w", err)
	}
	return affected, nil
}

// ListQueued returns jobs awaiting processing, oldest first.
func (r *AnalyticsJobRepository) ListQueued(ctx context.Context, limit int) ([]models.AnalyticsJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, params, status, progress, result, created_by, created_at, finished_at, error_message
        FROM analytics_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var jobs []models.AnalyticsJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.AnalyticsJobQueued, limit); err != nil {
		return nil, fmt.Errorf("list queued analytics jobs: %w", err)
	}
	return jobs, nil
}
