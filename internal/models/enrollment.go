package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. PENDING may move to ENROLLED, DENIED or
// DISCARDED; ENROLLED only accepts subject updates; DENIED and DISCARDED are
// terminal.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusDenied    EnrollmentStatus = "DENIED"
	EnrollmentStatusDiscarded EnrollmentStatus = "DISCARDED"
)

// Open reports whether the status still occupies the (student, semester)
// slot. At most one open enrollment may exist per slot.
func (s EnrollmentStatus) Open() bool {
	return s == EnrollmentStatusPending || s == EnrollmentStatusEnrolled
}

// EnrollmentSubject is a snapshot of a subject at submission time. Later
// catalogue edits must not retroactively change a student's enrolled units.
type EnrollmentSubject struct {
	SubjectCode string  `json:"subject_code"`
	Units       float64 `json:"units"`
	Teacher     string  `json:"teacher"`
	Status      string  `json:"status"`
}

// EnrollmentSubjects is the snapshot list persisted as a single JSONB value,
// so one UPDATE replaces the whole set atomically.
type EnrollmentSubjects []EnrollmentSubject

// Value marshals the subject snapshot for persistence.
func (s EnrollmentSubjects) Value() (driver.Value, error) {
	if s == nil {
		s = EnrollmentSubjects{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal enrollment subjects: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the subject list.
func (s *EnrollmentSubjects) Scan(value interface{}) error {
	if value == nil {
		*s = EnrollmentSubjects{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for EnrollmentSubjects", value)
	}
	if len(data) == 0 {
		*s = EnrollmentSubjects{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal enrollment subjects: %w", err)
	}
	return nil
}

// Codes returns the subject codes in snapshot order.
func (s EnrollmentSubjects) Codes() []string {
	codes := make([]string, 0, len(s))
	for _, subj := range s {
		codes = append(codes, subj.SubjectCode)
	}
	return codes
}

// CodeSet returns the subject codes as a set.
func (s EnrollmentSubjects) CodeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s))
	for _, subj := range s {
		set[subj.SubjectCode] = struct{}{}
	}
	return set
}

// Enrollment is the single lifecycle document per (student, semester).
// Version guards optimistic concurrency: every mutation carries the version
// it read and fails when the row moved on.
type Enrollment struct {
	ID            string             `db:"id" json:"id"`
	StudentID     string             `db:"student_id" json:"student_id"`
	SemesterID    string             `db:"semester_id" json:"semester_id"`
	Status        EnrollmentStatus   `db:"status" json:"status"`
	Subjects      EnrollmentSubjects `db:"subjects" json:"subjects"`
	RegisteredBy  string             `db:"registered_by" json:"registered_by"`
	ApprovedBy    *string            `db:"approved_by" json:"approved_by,omitempty"`
	DiscardedBy   *string            `db:"discarded_by" json:"discarded_by,omitempty"`
	DiscardReason *string            `db:"discard_reason" json:"discard_reason,omitempty"`
	SubmittedAt   time.Time          `db:"submitted_at" json:"submitted_at"`
	DecidedAt     *time.Time         `db:"decided_at" json:"decided_at,omitempty"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
	Version       int                `db:"version" json:"version"`
}
