package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	"github.com/campuskit/academic-core/internal/repository"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
	"github.com/campuskit/academic-core/pkg/jobs"
)

// JobTypeAnalyticsReport is the queue job type for report computations.
const JobTypeAnalyticsReport = "analytics_report"

type analyticsJobStore interface {
	Create(ctx context.Context, job *models.AnalyticsJob) error
	GetByID(ctx context.Context, id string) (*models.AnalyticsJob, error)
	Update(ctx context.Context, id string, params repository.UpdateAnalyticsJobParams) error
	RequeueProcessing(ctx context.Context) (int64, error)
	ListQueued(ctx context.Context, limit int) ([]models.AnalyticsJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reportRunner interface {
	Run(ctx context.Context, req RunRequest) (*models.Report, error)
}

// CreateJobRequest carries the parameters of a new asynchronous report.
type CreateJobRequest struct {
	Type      models.ReportType       `json:"type" validate:"required"`
	Filter    models.PopulationFilter `json:"filter"`
	BatchSize int                     `json:"batch_size" validate:"omitempty,min=1,max=1000"`
	TopN      int                     `json:"top_n" validate:"omitempty,min=1,max=500"`
	CreatedBy string                  `json:"created_by" validate:"required"`
}

// AnalyticsJobService manages the lifecycle of asynchronous report jobs:
// persisted metadata, queue dispatch, and crash recovery.
type AnalyticsJobService struct {
	store      analyticsJobStore
	dispatcher jobDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAnalyticsJobService constructs the job service.
func NewAnalyticsJobService(store analyticsJobStore, dispatcher jobDispatcher, validate *validator.Validate, logger *zap.Logger) *AnalyticsJobService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsJobService{
		store:      store,
		dispatcher: dispatcher,
		validator:  validate,
		logger:     logger,
	}
}

// CreateJob persists a job record and enqueues it for processing. A dispatch
// failure marks the job FAILED rather than leaving a queued row nothing will
// ever pick up.
func (s *AnalyticsJobService) CreateJob(ctx context.Context, req CreateJobRequest) (*models.AnalyticsJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if !models.ValidReportType(req.Type) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %q", req.Type))
	}

	job := &models.AnalyticsJob{
		Params: models.AnalyticsJobParams{
			Type:      req.Type,
			Filter:    req.Filter,
			BatchSize: req.BatchSize,
			TopN:      req.TopN,
		},
		Status:    models.AnalyticsJobQueued,
		CreatedBy: req.CreatedBy,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create analytics job")
	}

	if err := s.dispatch(*job); err != nil {
		s.logger.Error("failed to dispatch analytics job", zap.String("job_id", job.ID), zap.Error(err))
		s.markFailed(ctx, job.ID, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue analytics job")
	}

	s.logger.Info("analytics job queued",
		zap.String("job_id", job.ID),
		zap.String("report_type", string(req.Type)),
		zap.String("created_by", req.CreatedBy))
	return job, nil
}

// GetStatus returns the current state of a job.
func (s *AnalyticsJobService) GetStatus(ctx context.Context, id string) (*models.AnalyticsJob, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("analytics job %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load analytics job")
	}
	return job, nil
}

// RecoverPendingJobs re-dispatches work left over from a previous process:
// jobs stuck in PROCESSING are requeued first, then every QUEUED job is put
// back on the dispatcher. Their checkpoints make reruns resume, not restart.
func (s *AnalyticsJobService) RecoverPendingJobs(ctx context.Context, limit int) (int, error) {
	requeued, err := s.store.RequeueProcessing(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to requeue in-flight jobs")
	}
	if requeued > 0 {
		s.logger.Info("requeued orphaned analytics jobs", zap.Int64("count", requeued))
	}

	pending, err := s.store.ListQueued(ctx, limit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list queued jobs")
	}
	dispatched := 0
	for _, job := range pending {
		if err := s.dispatch(job); err != nil {
			s.logger.Error("failed to re-dispatch analytics job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (s *AnalyticsJobService) dispatch(job models.AnalyticsJob) error {
	return s.dispatcher.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    JobTypeAnalyticsReport,
		Payload: job.Params,
	})
}

func (s *AnalyticsJobService) markFailed(ctx context.Context, jobID, message string) {
	status := models.AnalyticsJobFailed
	now := time.Now().UTC()
	params := repository.UpdateAnalyticsJobParams{
		Status:       &status,
		ErrorMessage: &message,
		FinishedAt:   &now,
	}
	if err := s.store.Update(ctx, jobID, params); err != nil {
		s.logger.Error("failed to mark analytics job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// AnalyticsWorker executes queued report jobs against the batch runner.
type AnalyticsWorker struct {
	store      analyticsJobStore
	runner     reportRunner
	maxRetries int
	logger     *zap.Logger
}

// NewAnalyticsWorker constructs the queue handler. maxRetries must match the
// queue's retry limit so the job row is only marked FAILED once the queue
// has given up.
func NewAnalyticsWorker(store analyticsJobStore, runner reportRunner, maxRetries int, logger *zap.Logger) *AnalyticsWorker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsWorker{store: store, runner: runner, maxRetries: maxRetries, logger: logger}
}

// Handle processes one queue job. Returning an error lets the queue retry;
// the checkpoint written by the failed run makes the retry resume where it
// stopped.
func (w *AnalyticsWorker) Handle(ctx context.Context, job jobs.Job) error {
	params, ok := job.Payload.(models.AnalyticsJobParams)
	if !ok {
		// Malformed payloads can never succeed, so fail terminally instead
		// of retrying.
		w.logger.Error("analytics job has unexpected payload", zap.String("job_id", job.ID))
		w.fail(ctx, job.ID, "invalid job payload")
		return nil
	}

	w.setProcessing(ctx, job.ID)
	w.logger.Info("processing analytics job",
		zap.String("job_id", job.ID),
		zap.String("report_type", string(params.Type)),
		zap.Int("attempt", job.Attempt))

	report, err := w.runner.Run(ctx, RunRequest{
		Type:      params.Type,
		Filter:    params.Filter,
		BatchSize: params.BatchSize,
		TopN:      params.TopN,
		Progress: func(done, total int) {
			w.setProgress(ctx, job.ID, done, total)
		},
	})
	if err != nil {
		w.logger.Warn("analytics job run failed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		if job.Attempt >= w.maxRetries {
			w.fail(ctx, job.ID, err.Error())
		} else {
			// The queue will retry; the checkpoint makes the next attempt
			// resume from the last persisted batch.
			w.setQueued(ctx, job.ID)
		}
		return err
	}

	status := models.AnalyticsJobFinished
	progress := 100
	now := time.Now().UTC()
	update := repository.UpdateAnalyticsJobParams{
		Status:     &status,
		Progress:   &progress,
		Result:     report,
		FinishedAt: &now,
	}
	if err := w.store.Update(ctx, job.ID, update); err != nil {
		w.logger.Error("failed to store analytics job result", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.logger.Info("analytics job finished",
		zap.String("job_id", job.ID),
		zap.Int("population", report.Population),
		zap.Int("skipped_records", report.SkippedRecords))
	return nil
}

func (w *AnalyticsWorker) setProcessing(ctx context.Context, jobID string) {
	status := models.AnalyticsJobProcessing
	progress := 0
	if err := w.store.Update(ctx, jobID, repository.UpdateAnalyticsJobParams{Status: &status, Progress: &progress}); err != nil {
		w.logger.Error("failed to mark analytics job processing", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (w *AnalyticsWorker) setProgress(ctx context.Context, jobID string, done, total int) {
	if total <= 0 {
		return
	}
	// Hold back the final few percent for the merge and result write.
	progress := 5 + done*90/total
	if err := w.store.Update(ctx, jobID, repository.UpdateAnalyticsJobParams{Progress: &progress}); err != nil {
		w.logger.Warn("failed to update analytics job progress", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (w *AnalyticsWorker) setQueued(ctx context.Context, jobID string) {
	status := models.AnalyticsJobQueued
	if err := w.store.Update(ctx, jobID, repository.UpdateAnalyticsJobParams{Status: &status}); err != nil {
		w.logger.Error("failed to requeue analytics job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (w *AnalyticsWorker) fail(ctx context.Context, jobID, message string) {
	status := models.AnalyticsJobFailed
	now := time.Now().UTC()
	update := repository.UpdateAnalyticsJobParams{
		Status:       &status,
		ErrorMessage: &message,
		FinishedAt:   &now,
	}
	if err := w.store.Update(ctx, jobID, update); err != nil {
		w.logger.Error("failed to mark analytics job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
