package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PassingGrade is the minimum grade counted as a pass. A zero grade means
// "not yet graded" and never counts as a deliberate fail.
const PassingGrade = 75.0

// GradeEntry holds the outcome for one enrolled subject. Keeping code, grade,
// teacher and status in one struct makes index misalignment between them
// impossible by construction.
type GradeEntry struct {
	SubjectCode string  `json:"subject_code"`
	Grade       float64 `json:"grade"`
	Teacher     string  `json:"teacher"`
	Status      string  `json:"status"`
}

// Graded reports whether a grade has been recorded.
func (e GradeEntry) Graded() bool {
	return e.Grade != 0
}

// Passed reports whether the entry counts as a passed subject.
func (e GradeEntry) Passed() bool {
	return e.Grade >= PassingGrade
}

// Failed reports a recorded grade below passing.
func (e GradeEntry) Failed() bool {
	return e.Graded() && e.Grade < PassingGrade
}

// GradeEntries is the entry list persisted as one JSONB value; a single
// UPDATE replaces the whole list, matching the store's per-row atomicity.
type GradeEntries []GradeEntry

// Value marshals the entries for persistence.
func (e GradeEntries) Value() (driver.Value, error) {
	if e == nil {
		e = GradeEntries{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal grade entries: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the entry list.
func (e *GradeEntries) Scan(value interface{}) error {
	if value == nil {
		*e = GradeEntries{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for GradeEntries", value)
	}
	if len(data) == 0 {
		*e = GradeEntries{}
		return nil
	}
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("unmarshal grade entries: %w", err)
	}
	return nil
}

// Codes returns the subject codes in entry order.
func (e GradeEntries) Codes() []string {
	codes := make([]string, 0, len(e))
	for _, entry := range e {
		codes = append(codes, entry.SubjectCode)
	}
	return codes
}

// CodeSet returns the subject codes as a set.
func (e GradeEntries) CodeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(e))
	for _, entry := range e {
		set[entry.SubjectCode] = struct{}{}
	}
	return set
}

// GradeRecord is the grade document per (student, semester), kept in
// lock-step with the ENROLLED enrollment's subject set.
type GradeRecord struct {
	ID         string       `db:"id" json:"id"`
	StudentID  string       `db:"student_id" json:"student_id"`
	SemesterID string       `db:"semester_id" json:"semester_id"`
	Entries    GradeEntries `db:"entries" json:"entries"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}
