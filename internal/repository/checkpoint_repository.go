package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campuskit/academic-core/internal/models"
)

// CheckpointRepository is the durable key-to-blob store behind the batch
// pipeline. Put is an upsert so a crash between batches can only leave the
// previous batch's checkpoint behind, never a torn one.
type CheckpointRepository struct {
	db *sqlx.DB
}

// NewCheckpointRepository constructs the repository.
func NewCheckpointRepository(db *sqlx.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the checkpoint for a computation key, nil when absent.
func (r *CheckpointRepository) Get(ctx context.Context, computationKey string) (*models.Checkpoint, error) {
	const query = `SELECT computation_key, last_index, skipped_records, partial_results, updated_at
        FROM checkpoints WHERE computation_key = $1`
	var checkpoint models.Checkpoint
	if err := r.db.GetContext(ctx, &checkpoint, query, computationKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Put overwrites the checkpoint for a computation key.
func (r *CheckpointRepository) Put(ctx context.Context, checkpoint *models.Checkpoint) error {
	const query = `INSERT INTO checkpoints (computation_key, last_index, skipped_records, partial_results, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (computation_key) DO UPDATE SET last_index = EXCLUDED.last_index,
        skipped_records = EXCLUDED.skipped_records,
        partial_results = EXCLUDED.partial_results, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, checkpoint.ComputationKey, checkpoint.LastIndex,
		checkpoint.SkippedRecords, checkpoint.PartialResults, time.Now().UTC()); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint once the computation has completed.
func (r *CheckpointRepository) Delete(ctx context.Context, computationKey string) error {
	const query = `DELETE FROM checkpoints WHERE computation_key = $1`
	if _, err := r.db.ExecContext(ctx, query, computationKey); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
