package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/academic-core/internal/models"
)

func newAnalyticsJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAnalyticsJobRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newAnalyticsJobRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analytics_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.AnalyticsJob{
		Params:    models.AnalyticsJobParams{Type: models.ReportTypeDeansList},
		CreatedBy: "registrar-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.AnalyticsJobQueued, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsJobRepositoryUpdatePartial(t *testing.T) {
	db, mock, cleanup := newAnalyticsJobRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsJobRepository(db)

	// Only the provided fields appear in the SET clause.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE analytics_jobs SET progress = $2 WHERE id = $1")).
		WithArgs("job-1", 45).
		WillReturnResult(sqlmock.NewResult(0, 1))

	progress := 45
	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateAnalyticsJobParams{Progress: &progress}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsJobRepositoryUpdateNothing(t *testing.T) {
	db, mock, cleanup := newAnalyticsJobRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsJobRepository(db)

	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateAnalyticsJobParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsJobRepositoryRequeueProcessing(t *testing.T) {
	db, mock, cleanup := newAnalyticsJobRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE analytics_jobs SET status = $1 WHERE status = $2")).
		WithArgs(models.AnalyticsJobQueued, models.AnalyticsJobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 2))

	requeued, err := repo.RequeueProcessing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), requeued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsJobRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newAnalyticsJobRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsJobRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "params", "status", "progress", "result", "created_by", "created_at", "finished_at", "error_message"}).
		AddRow("job-1", []byte(`{"type":"deans_list"}`), models.AnalyticsJobQueued, 0, nil, "registrar-1", now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM analytics_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(models.AnalyticsJobQueued, 10).
		WillReturnRows(rows)

	jobs, err := repo.ListQueued(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.ReportTypeDeansList, jobs[0].Params.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
