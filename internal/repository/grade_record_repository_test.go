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

func newGradeRecordRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestGradeRecordRepositoryFindByStudentAndSemester(t *testing.T) {
	db, mock, cleanup := newGradeRecordRepoMock(t)
	defer cleanup()
	repo := NewGradeRecordRepository(db)

	now := time.Now()
	entries := []byte(`[{"subject_code":"MATH101","grade":88,"teacher":"Dizon","status":"GRADED"}]`)
	rows := sqlmock.NewRows([]string{"id", "student_id", "semester_id", "entries", "created_at", "updated_at"}).
		AddRow("rec-1", "stu-1", "sem-1", entries, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM grade_records WHERE student_id = $1 AND semester_id = $2")).
		WithArgs("stu-1", "sem-1").
		WillReturnRows(rows)

	record, err := repo.FindByStudentAndSemester(context.Background(), "stu-1", "sem-1")
	require.NoError(t, err)
	require.Len(t, record.Entries, 1)
	assert.Equal(t, 88.0, record.Entries[0].Grade)
	assert.True(t, record.Entries[0].Passed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRecordRepositoryListByStudentIDs(t *testing.T) {
	db, mock, cleanup := newGradeRecordRepoMock(t)
	defer cleanup()
	repo := NewGradeRecordRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "semester_id", "entries", "created_at", "updated_at"}).
		AddRow("rec-1", "stu-1", "sem-1", []byte(`[]`), now, now).
		AddRow("rec-2", "stu-2", "sem-1", []byte(`[]`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM grade_records WHERE student_id IN ($1,$2)")).
		WithArgs("stu-1", "stu-2").
		WillReturnRows(rows)

	records, err := repo.ListByStudentIDs(context.Background(), []string{"stu-1", "stu-2"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRecordRepositoryListByStudentIDsEmpty(t *testing.T) {
	db, _, cleanup := newGradeRecordRepoMock(t)
	defer cleanup()
	repo := NewGradeRecordRepository(db)

	records, err := repo.ListByStudentIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestGradeRecordRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newGradeRecordRepoMock(t)
	defer cleanup()
	repo := NewGradeRecordRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grade_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.GradeRecord{
		StudentID:  "stu-1",
		SemesterID: "sem-1",
		Entries:    models.GradeEntries{{SubjectCode: "MATH101"}},
	}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRecordRepositoryReplaceEntries(t *testing.T) {
	db, mock, cleanup := newGradeRecordRepoMock(t)
	defer cleanup()
	repo := NewGradeRecordRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE grade_records SET entries = $2")).
		WithArgs("rec-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entries := models.GradeEntries{
		{SubjectCode: "MATH101", Grade: 88},
		{SubjectCode: "CHEM101"},
	}
	require.NoError(t, repo.ReplaceEntries(context.Background(), "rec-1", entries))
	require.NoError(t, mock.ExpectationsWereMet())
}
