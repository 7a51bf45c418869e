package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuskit/academic-core/internal/models"
	"github.com/campuskit/academic-core/internal/repository"
	appErrors "github.com/campuskit/academic-core/pkg/errors"
	"github.com/campuskit/academic-core/pkg/jobs"
)

type mockJobStore struct {
	jobs   map[string]*models.AnalyticsJob
	nextID int
}

func (m *mockJobStore) Create(ctx context.Context, job *models.AnalyticsJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.AnalyticsJob)
	}
	m.nextID++
	job.ID = fmt.Sprintf("job-%d", m.nextID)
	if job.Status == "" {
		job.Status = models.AnalyticsJobQueued
	}
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *mockJobStore) GetByID(ctx context.Context, id string) (*models.AnalyticsJob, error) {
	if j, ok := m.jobs[id]; ok {
		copied := *j
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockJobStore) Update(ctx context.Context, id string, params repository.UpdateAnalyticsJobParams) error {
	j, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		j.Status = *params.Status
	}
	if params.Progress != nil {
		j.Progress = *params.Progress
	}
	if params.Result != nil {
		j.Result = *params.Result
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		j.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockJobStore) RequeueProcessing(ctx context.Context) (int64, error) {
	var n int64
	for _, j := range m.jobs {
		if j.Status == models.AnalyticsJobProcessing {
			j.Status = models.AnalyticsJobQueued
			n++
		}
	}
	return n, nil
}

func (m *mockJobStore) ListQueued(ctx context.Context, limit int) ([]models.AnalyticsJob, error) {
	var list []models.AnalyticsJob
	for _, j := range m.jobs {
		if j.Status == models.AnalyticsJobQueued {
			list = append(list, *j)
		}
	}
	return list, nil
}

type mockDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (m *mockDispatcher) Enqueue(job jobs.Job) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

type mockRunner struct {
	report *models.Report
	err    error
}

func (m *mockRunner) Run(ctx context.Context, req RunRequest) (*models.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	if req.Progress != nil {
		req.Progress(1, 2)
		req.Progress(2, 2)
	}
	return m.report, nil
}

func TestAnalyticsJobServiceCreateJob(t *testing.T) {
	store := &mockJobStore{}
	dispatcher := &mockDispatcher{}
	svc := NewAnalyticsJobService(store, dispatcher, validator.New(), zap.NewNop())

	job, err := svc.CreateJob(context.Background(), CreateJobRequest{
		Type:      models.ReportTypeDeansList,
		Filter:    models.PopulationFilter{Course: "BSCS"},
		CreatedBy: "registrar-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AnalyticsJobQueued, job.Status)

	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, job.ID, dispatcher.enqueued[0].ID)
	assert.Equal(t, JobTypeAnalyticsReport, dispatcher.enqueued[0].Type)
}

func TestAnalyticsJobServiceCreateJobUnknownType(t *testing.T) {
	svc := NewAnalyticsJobService(&mockJobStore{}, &mockDispatcher{}, validator.New(), zap.NewNop())

	_, err := svc.CreateJob(context.Background(), CreateJobRequest{
		Type:      "weather_forecast",
		CreatedBy: "registrar-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAnalyticsJobServiceCreateJobDispatchFailure(t *testing.T) {
	store := &mockJobStore{}
	dispatcher := &mockDispatcher{err: errors.New("queue stopped")}
	svc := NewAnalyticsJobService(store, dispatcher, validator.New(), zap.NewNop())

	_, err := svc.CreateJob(context.Background(), CreateJobRequest{
		Type:      models.ReportTypeProbation,
		CreatedBy: "registrar-1",
	})
	require.Error(t, err)

	// The persisted row must not stay QUEUED when nothing will pick it up.
	stored := store.jobs["job-1"]
	require.NotNil(t, stored)
	assert.Equal(t, models.AnalyticsJobFailed, stored.Status)
}

func TestAnalyticsJobServiceGetStatusNotFound(t *testing.T) {
	svc := NewAnalyticsJobService(&mockJobStore{}, &mockDispatcher{}, validator.New(), zap.NewNop())

	_, err := svc.GetStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAnalyticsJobServiceRecoverPendingJobs(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.AnalyticsJob{
		"job-1": {ID: "job-1", Status: models.AnalyticsJobProcessing, Params: models.AnalyticsJobParams{Type: models.ReportTypeDeansList}},
		"job-2": {ID: "job-2", Status: models.AnalyticsJobQueued, Params: models.AnalyticsJobParams{Type: models.ReportTypeProbation}},
		"job-3": {ID: "job-3", Status: models.AnalyticsJobFinished},
	}}
	dispatcher := &mockDispatcher{}
	svc := NewAnalyticsJobService(store, dispatcher, validator.New(), zap.NewNop())

	dispatched, err := svc.RecoverPendingJobs(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)
	assert.Equal(t, models.AnalyticsJobQueued, store.jobs["job-1"].Status)
	assert.Len(t, dispatcher.enqueued, 2)
}

func TestAnalyticsWorkerHandleSuccess(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.AnalyticsJob{
		"job-1": {ID: "job-1", Status: models.AnalyticsJobQueued},
	}}
	report := &models.Report{Type: models.ReportTypeDeansList, Population: 3}
	worker := NewAnalyticsWorker(store, &mockRunner{report: report}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{
		ID:      "job-1",
		Type:    JobTypeAnalyticsReport,
		Payload: models.AnalyticsJobParams{Type: models.ReportTypeDeansList},
	})
	require.NoError(t, err)

	stored := store.jobs["job-1"]
	assert.Equal(t, models.AnalyticsJobFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Equal(t, 3, stored.Result.Population)
	assert.NotNil(t, stored.FinishedAt)
}

func TestAnalyticsWorkerHandleRetryableFailure(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.AnalyticsJob{
		"job-1": {ID: "job-1", Status: models.AnalyticsJobQueued},
	}}
	worker := NewAnalyticsWorker(store, &mockRunner{err: errors.New("store down")}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{
		ID:      "job-1",
		Payload: models.AnalyticsJobParams{Type: models.ReportTypeDeansList},
		Attempt: 1,
	})
	require.Error(t, err)
	assert.Equal(t, models.AnalyticsJobQueued, store.jobs["job-1"].Status)
}

func TestAnalyticsWorkerHandleExhaustedRetries(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.AnalyticsJob{
		"job-1": {ID: "job-1", Status: models.AnalyticsJobQueued},
	}}
	worker := NewAnalyticsWorker(store, &mockRunner{err: errors.New("store down")}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{
		ID:      "job-1",
		Payload: models.AnalyticsJobParams{Type: models.ReportTypeDeansList},
		Attempt: 3,
	})
	require.Error(t, err)

	stored := store.jobs["job-1"]
	assert.Equal(t, models.AnalyticsJobFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "store down", *stored.ErrorMessage)
}

func TestAnalyticsWorkerHandleInvalidPayload(t *testing.T) {
	store := &mockJobStore{jobs: map[string]*models.AnalyticsJob{
		"job-1": {ID: "job-1", Status: models.AnalyticsJobQueued},
	}}
	worker := NewAnalyticsWorker(store, &mockRunner{}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Payload: "garbage"})
	require.NoError(t, err)
	assert.Equal(t, models.AnalyticsJobFailed, store.jobs["job-1"].Status)
}
