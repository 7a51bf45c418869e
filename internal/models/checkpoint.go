package models

import "time"

// Checkpoint is the durable progress marker of one batch computation, keyed
// by a stable hash of the computation's identity. It is created on the first
// batch, overwritten after every batch, and deleted only after the final
// report has been produced. A checkpoint surviving past completion means the
// previous run crashed mid-merge.
type Checkpoint struct {
	ComputationKey string        `db:"computation_key" json:"computation_key"`
	LastIndex      int           `db:"last_index" json:"last_index"`
	SkippedRecords int           `db:"skipped_records" json:"skipped_records"`
	PartialResults AggregateList `db:"partial_results" json:"partial_results"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}
