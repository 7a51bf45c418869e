package models

import "time"

// Semester term labels.
const (
	SemesterTermFirst  = "FIRST"
	SemesterTermSecond = "SECOND"
	SemesterTermSummer = "SUMMER"
)

// Semester identifies one enrollment period.
type Semester struct {
	ID         string    `db:"id" json:"id"`
	SchoolYear string    `db:"school_year" json:"school_year"`
	Term       string    `db:"term" json:"term"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TermRank orders semester terms within one school year. Unknown terms sort
// last so malformed data never interleaves with real periods.
func TermRank(term string) int {
	switch term {
	case SemesterTermFirst:
		return 1
	case SemesterTermSecond:
		return 2
	case SemesterTermSummer:
		return 3
	default:
		return 4
	}
}

// SemesterRef is the light-weight semester identity carried inside analytics
// aggregates, ordered chronologically by school year then term rank.
type SemesterRef struct {
	SemesterID string `json:"semester_id"`
	SchoolYear string `json:"school_year"`
	Term       string `json:"term"`
}

// Before reports whether r precedes other chronologically.
func (r SemesterRef) Before(other SemesterRef) bool {
	if r.SchoolYear != other.SchoolYear {
		return r.SchoolYear < other.SchoolYear
	}
	return TermRank(r.Term) < TermRank(other.Term)
}
