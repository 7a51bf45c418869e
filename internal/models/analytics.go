package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportType enumerates the population-wide reports the batch pipeline
// produces.
type ReportType string

const (
	ReportTypeDeansList         ReportType = "deans_list"
	ReportTypeProbation         ReportType = "probation"
	ReportTypeRetention         ReportType = "retention"
	ReportTypeSubjectDifficulty ReportType = "subject_difficulty"
)

// ValidReportType reports whether t names a supported report.
func ValidReportType(t ReportType) bool {
	switch t {
	case ReportTypeDeansList, ReportTypeProbation, ReportTypeRetention, ReportTypeSubjectDifficulty:
		return true
	default:
		return false
	}
}

// SubjectTally accumulates graded attempts and failures for one subject.
type SubjectTally struct {
	Attempts int `json:"attempts"`
	Failures int `json:"failures"`
}

// StudentAggregate is the per-student contribution one batch appends to the
// checkpoint accumulator. It is a pure function of that student's grade
// history, so resuming never needs to re-read earlier batches.
type StudentAggregate struct {
	StudentID      string                  `json:"student_id"`
	StudentName    string                  `json:"student_name"`
	GradeCount     int                     `json:"grade_count"`
	GradeSum       float64                 `json:"grade_sum"`
	MinGrade       float64                 `json:"min_grade"`
	FailCount      int                     `json:"fail_count"`
	Semesters      []SemesterRef           `json:"semesters,omitempty"`
	SubjectTallies map[string]SubjectTally `json:"subject_tallies,omitempty"`
}

// Mean returns the average over graded entries, zero when nothing is graded.
func (a StudentAggregate) Mean() float64 {
	if a.GradeCount == 0 {
		return 0
	}
	return a.GradeSum / float64(a.GradeCount)
}

// FailingFraction returns the share of graded entries below passing.
func (a StudentAggregate) FailingFraction() float64 {
	if a.GradeCount == 0 {
		return 0
	}
	return float64(a.FailCount) / float64(a.GradeCount)
}

// AggregateList is the checkpoint's partial-results payload, persisted as a
// single JSONB value.
type AggregateList []StudentAggregate

// Value marshals the aggregates for persistence.
func (l AggregateList) Value() (driver.Value, error) {
	if l == nil {
		l = AggregateList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregates: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the aggregate list.
func (l *AggregateList) Scan(value interface{}) error {
	if value == nil {
		*l = AggregateList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AggregateList", value)
	}
	if len(data) == 0 {
		*l = AggregateList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal aggregates: %w", err)
	}
	return nil
}

// DeansListRow is one ranked honours row.
type DeansListRow struct {
	Rank        int     `json:"rank"`
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	MeanGrade   float64 `json:"mean_grade"`
	MinGrade    float64 `json:"min_grade"`
	GradeCount  int     `json:"grade_count"`
}

// ProbationRow flags a student for academic probation.
type ProbationRow struct {
	StudentID       string  `json:"student_id"`
	StudentName     string  `json:"student_name"`
	MeanGrade       float64 `json:"mean_grade"`
	MinGrade        float64 `json:"min_grade"`
	FailingFraction float64 `json:"failing_fraction"`
}

// RetentionRow reports how many students of a semester were still present in
// the immediately following semester.
type RetentionRow struct {
	SchoolYear string  `json:"school_year"`
	Term       string  `json:"term"`
	Total      int     `json:"total"`
	Retained   int     `json:"retained"`
	Rate       float64 `json:"rate"`
}

// SubjectDifficultyRow reports the failure rate of one subject across the
// population.
type SubjectDifficultyRow struct {
	SubjectCode string  `json:"subject_code"`
	Attempts    int     `json:"attempts"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

// Report is the computation-specific result of a completed batch run. Only
// the section matching Type is populated.
type Report struct {
	Type              ReportType             `json:"type"`
	GeneratedAt       time.Time              `json:"generated_at"`
	Population        int                    `json:"population"`
	SkippedRecords    int                    `json:"skipped_records"`
	DeansList         []DeansListRow         `json:"deans_list,omitempty"`
	Probation         []ProbationRow         `json:"probation,omitempty"`
	Retention         []RetentionRow         `json:"retention,omitempty"`
	SubjectDifficulty []SubjectDifficultyRow `json:"subject_difficulty,omitempty"`
}

// Value marshals the report for persistence.
func (r Report) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the report.
func (r *Report) Scan(value interface{}) error {
	if value == nil {
		*r = Report{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Report", value)
	}
	if len(data) == 0 {
		*r = Report{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal report: %w", err)
	}
	return nil
}
