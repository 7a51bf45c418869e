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

// GradeRecordRepository handles persistence of per-(student, semester) grade
// documents. The entry list lives in one JSONB column, so every write here
// is a single-row, all-or-nothing operation.
type GradeRecordRepository struct {
	db *sqlx.DB
}

// NewGradeRecordRepository constructs the repository.
func NewGradeRecordRepository(db *sqlx.DB) *GradeRecordRepository {
	return &GradeRecordRepository{db: db}
}

// FindByStudentAndSemester returns the grade record for the slot.
func (r *GradeRecordRepository) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.GradeRecord, error) {
	const query = `SELECT id, student_id, semester_id, entries, created_at, updated_at
        FROM grade_records WHERE student_id = $1 AND semester_id = $2`
	var record models.GradeRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, semesterID); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByStudent returns a student's full grade history.
func (r *GradeRecordRepository) ListByStudent(ctx context.Context, studentID string) ([]models.GradeRecord, error) {
	const query = `SELECT id, student_id, semester_id, entries, created_at, updated_at
        FROM grade_records WHERE student_id = $1`
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list grade records: %w", err)
	}
	return records, nil
}

// ListByStudentIDs fetches the grade history of one analytics batch.
func (r *GradeRecordRepository) ListByStudentIDs(ctx context.Context, studentIDs []string) ([]models.GradeRecord, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(studentIDs))
	args := make([]interface{}, len(studentIDs))
	for i, id := range studentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, student_id, semester_id, entries, created_at, updated_at
        FROM grade_records WHERE student_id IN (%s)`, strings.Join(placeholders, ","))
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list grade records by students: %w", err)
	}
	return records, nil
}

// Create persists a new grade record.
func (r *GradeRecordRepository) Create(ctx context.Context, record *models.GradeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO grade_records (id, student_id, semester_id, entries, created_at, updated_at)
        VALUES (:id, :student_id, :semester_id, :entries, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create grade record: %w", err)
	}
	return nil
}

// ReplaceEntries swaps the full entry list in one UPDATE.
func (r *GradeRecordRepository) ReplaceEntries(ctx context.Context, id string, entries models.GradeEntries) error {
	const query = `UPDATE grade_records SET entries = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, entries, time.Now().UTC()); err != nil {
		return fmt.Errorf("replace grade entries: %w", err)
	}
	return nil
}
