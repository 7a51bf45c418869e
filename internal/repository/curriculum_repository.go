package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campuskit/academic-core/internal/models"
)

// CurriculumRepository reads curriculum entries per program.
type CurriculumRepository struct {
	db *sqlx.DB
}

// NewCurriculumRepository constructs the repository.
func NewCurriculumRepository(db *sqlx.DB) *CurriculumRepository {
	return &CurriculumRepository{db: db}
}

// ListByProgram returns every curriculum entry of a program across all
// curriculum years. Transfer and retake students may reference entries from
// older curriculum years, so the graph is built over all of them.
func (r *CurriculumRepository) ListByProgram(ctx context.Context, programCode string) ([]models.CurriculumEntry, error) {
	const query = `SELECT id, program_code, curriculum_year, year, term, subject_code, subject_name,
        lec_units, lab_units, total_units, prerequisites, created_at
        FROM curriculum_entries WHERE program_code = $1 ORDER BY subject_code ASC`
	var entries []models.CurriculumEntry
	if err := r.db.SelectContext(ctx, &entries, query, programCode); err != nil {
		return nil, fmt.Errorf("list curriculum entries: %w", err)
	}
	return entries, nil
}

// ListByProgramTerm returns a program's entries scheduled for one term slot.
func (r *CurriculumRepository) ListByProgramTerm(ctx context.Context, programCode string, term models.CurriculumTerm) ([]models.CurriculumEntry, error) {
	const query = `SELECT id, program_code, curriculum_year, year, term, subject_code, subject_name,
        lec_units, lab_units, total_units, prerequisites, created_at
        FROM curriculum_entries WHERE program_code = $1 AND year = $2 AND term = $3 ORDER BY subject_code ASC`
	var entries []models.CurriculumEntry
	if err := r.db.SelectContext(ctx, &entries, query, programCode, term.Year, term.Term); err != nil {
		return nil, fmt.Errorf("list curriculum term entries: %w", err)
	}
	return entries, nil
}
