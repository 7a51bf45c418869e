package models

import "time"

// Subject is the catalogue entry a curriculum row and an enrollment snapshot
// both point at. Code is the primary key referenced everywhere else.
type Subject struct {
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description"`
	Units       float64   `db:"units" json:"units"`
	Teacher     string    `db:"teacher" json:"teacher"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
