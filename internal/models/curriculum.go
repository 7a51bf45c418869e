package models

import (
	"time"

	"github.com/lib/pq"
)

// CurriculumEntry is one subject requirement within a program's curriculum,
// tagged with the year/term it is scheduled for and its prerequisite codes.
type CurriculumEntry struct {
	ID             string         `db:"id" json:"id"`
	ProgramCode    string         `db:"program_code" json:"program_code"`
	CurriculumYear string         `db:"curriculum_year" json:"curriculum_year"`
	Year           int            `db:"year" json:"year"`
	Term           string         `db:"term" json:"term"`
	SubjectCode    string         `db:"subject_code" json:"subject_code"`
	SubjectName    string         `db:"subject_name" json:"subject_name"`
	LecUnits       float64        `db:"lec_units" json:"lec_units"`
	LabUnits       float64        `db:"lab_units" json:"lab_units"`
	TotalUnits     float64        `db:"total_units" json:"total_units"`
	Prerequisites  pq.StringArray `db:"prerequisites" json:"prerequisites"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// CurriculumTerm addresses one slot of a program's schedule.
type CurriculumTerm struct {
	Year int    `json:"year"`
	Term string `json:"term"`
}

// PrerequisiteGraph maps each subject of a program to the codes it requires.
// Built across every curriculum year of the program, since transfer or retake
// students may still reference older entries. Lookups are pure set
// membership, so cyclic data cannot cause unbounded traversal; a cycle just
// manifests as subjects permanently blocking each other.
type PrerequisiteGraph struct {
	ProgramCode string              `json:"program_code"`
	Requires    map[string][]string `json:"requires"`
}

// Prerequisites returns the required codes for a subject, nil when the
// subject has none or is unknown to the program.
func (g *PrerequisiteGraph) Prerequisites(subjectCode string) []string {
	if g == nil || g.Requires == nil {
		return nil
	}
	return g.Requires[subjectCode]
}
