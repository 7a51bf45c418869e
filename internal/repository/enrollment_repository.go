package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/academic-core/internal/models"
)

// EnrollmentRepository handles persistence of enrollment lifecycle documents.
// All mutations are version-guarded single-row UPDATEs: the caller passes the
// version it read and gets applied=false when the row moved on.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// UpdateStatusParams carries the fields a status transition may set.
type UpdateStatusParams struct {
	Status        models.EnrollmentStatus
	ApprovedBy    *string
	DiscardedBy   *string
	DiscardReason *string
	DecidedAt     *time.Time
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, semester_id, status, subjects, registered_by, approved_by,
        discarded_by, discard_reason, submitted_at, decided_at, updated_at, version
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndSemester returns the open enrollment occupying the slot,
// or sql.ErrNoRows when the slot is free.
func (r *EnrollmentRepository) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, semester_id, status, subjects, registered_by, approved_by,
        discarded_by, discard_reason, submitted_at, decided_at, updated_at, version
        FROM enrollments WHERE student_id = $1 AND semester_id = $2 AND status IN ($3, $4) LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, semesterID,
		models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsOpen checks whether the (student, semester) slot is occupied.
func (r *EnrollmentRepository) ExistsOpen(ctx context.Context, studentID, semesterID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND semester_id = $2 AND status IN ($3, $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, semesterID,
		models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.SubmittedAt.IsZero() {
		enrollment.SubmittedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	enrollment.UpdatedAt = enrollment.SubmittedAt
	enrollment.Version = 1
	const query = `INSERT INTO enrollments (id, student_id, semester_id, status, subjects, registered_by,
        approved_by, discarded_by, discard_reason, submitted_at, decided_at, updated_at, version)
        VALUES (:id, :student_id, :semester_id, :status, :subjects, :registered_by,
        :approved_by, :discarded_by, :discard_reason, :submitted_at, :decided_at, :updated_at, :version)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus applies a status transition when the stored version still
// matches. The returned bool reports whether the row was updated.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, version int, params UpdateStatusParams) (bool, error) {
	const query = `UPDATE enrollments SET status = $3, approved_by = $4, discarded_by = $5,
        discard_reason = $6, decided_at = $7, updated_at = $8, version = version + 1
        WHERE id = $1 AND version = $2`
	res, err := r.db.ExecContext(ctx, query, id, version, params.Status, params.ApprovedBy,
		params.DiscardedBy, params.DiscardReason, params.DecidedAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update enrollment status: %w", err)
	}
	return affected == 1, nil
}

// UpdateSubjects replaces the subject snapshot when the stored version still
// matches. A single UPDATE keeps the snapshot swap atomic.
func (r *EnrollmentRepository) UpdateSubjects(ctx context.Context, id string, version int, subjects models.EnrollmentSubjects) (bool, error) {
	const query = `UPDATE enrollments SET subjects = $3, updated_at = $4, version = version + 1
        WHERE id = $1 AND version = $2`
	res, err := r.db.ExecContext(ctx, query, id, version, subjects, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update enrollment subjects: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update enrollment subjects: %w", err)
	}
	return affected == 1, nil
}

// ListEnrolledByStudent returns all ENROLLED enrollments of a student,
// the reconciliation pass walks these looking for missing grade records.
func (r *EnrollmentRepository) ListEnrolledByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, semester_id, status, subjects, registered_by, approved_by,
        discarded_by, discard_reason, submitted_at, decided_at, updated_at, version
        FROM enrollments WHERE student_id = $1 AND status = $2`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list enrolled by student: %w", err)
	}
	return enrollments, nil
}
