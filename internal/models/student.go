package models

import "time"

// Student represents a learner registered in the institution. Identity is
// immutable; course and year level change over time. The registration module
// owns writes, the core only reads.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Course    string    `db:"course" json:"course"`
	YearLevel int       `db:"year_level" json:"year_level"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PopulationFilter scopes analytics runs to a slice of the student body.
// Zero values mean "no restriction".
type PopulationFilter struct {
	Course    string `json:"course,omitempty"`
	YearLevel int    `json:"year_level,omitempty"`
}
