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

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentColumns() []string {
	return []string{"id", "student_id", "semester_id", "status", "subjects", "registered_by",
		"approved_by", "discarded_by", "discard_reason", "submitted_at", "decided_at", "updated_at", "version"}
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	subjects := []byte(`[{"subject_code":"MATH101","units":3,"teacher":"Dizon","status":"PENDING"}]`)
	rows := sqlmock.NewRows(enrollmentColumns()).
		AddRow("enr-1", "stu-1", "sem-1", models.EnrollmentStatusPending, subjects, "registrar-1",
			nil, nil, nil, now, nil, now, 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.Len(t, enrollment.Subjects, 1)
	assert.Equal(t, "MATH101", enrollment.Subjects[0].SubjectCode)
	assert.Equal(t, 3.0, enrollment.Subjects[0].Units)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsOpen(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND semester_id = $2 AND status IN ($3, $4) LIMIT 1")).
		WithArgs("stu-1", "sem-1", models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsOpen(context.Background(), "stu-1", "sem-1")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsOpenEmptySlot(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "sem-1", models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsOpen(context.Background(), "stu-1", "sem-1")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{
		StudentID:    "stu-1",
		SemesterID:   "sem-1",
		Subjects:     models.EnrollmentSubjects{{SubjectCode: "MATH101", Units: 3}},
		RegisteredBy: "registrar-1",
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, 1, enrollment.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatusApplied(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	approver := "chair-1"
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $3")).
		WithArgs("enr-1", 1, models.EnrollmentStatusEnrolled, &approver, nil, nil, &now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.UpdateStatus(context.Background(), "enr-1", 1, UpdateStatusParams{
		Status:     models.EnrollmentStatusEnrolled,
		ApprovedBy: &approver,
		DecidedAt:  &now,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatusVersionMoved(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.UpdateStatus(context.Background(), "enr-1", 1, UpdateStatusParams{
		Status: models.EnrollmentStatusDenied,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateSubjects(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET subjects = $3")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.UpdateSubjects(context.Background(), "enr-1", 2,
		models.EnrollmentSubjects{{SubjectCode: "CHEM101", Units: 3}})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListEnrolledByStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentColumns()).
		AddRow("enr-1", "stu-1", "sem-1", models.EnrollmentStatusEnrolled, []byte(`[]`), "registrar-1",
			nil, nil, nil, now, now, now, 2)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND status = $2")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(rows)

	enrollments, err := repo.ListEnrolledByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, 2, enrollments[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
