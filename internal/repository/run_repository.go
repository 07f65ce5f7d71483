package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures
const uniqueViolation = "23505"

// RunRepository handles run history persistence
type RunRepository struct {
	db *database.Postgres
}

// NewRunRepository creates a new RunRepository
func NewRunRepository(db *database.Postgres) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run
func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	query := `
		INSERT INTO runs (id, subject, provider, account, state, total_batches,
		    succeeded, failed, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Subject,
		run.Provider,
		run.Account,
		run.State,
		run.TotalBatches,
		run.Succeeded,
		run.Failed,
		run.StartedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Finish stores the terminal state of a run
func (r *RunRepository) Finish(ctx context.Context, run *model.Run) error {
	query := `
		UPDATE runs
		SET state = $1, total_batches = $2, succeeded = $3, failed = $4,
		    reason = $5, finished_at = $6
		WHERE id = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		run.State,
		run.TotalBatches,
		run.Succeeded,
		run.Failed,
		run.Reason,
		run.FinishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAttempt inserts the attempt made for one batch
func (r *RunRepository) RecordAttempt(ctx context.Context, attempt *model.BatchAttempt) error {
	query := `
		INSERT INTO batch_attempts (run_id, batch_index, address_count, succeeded,
		    status_code, detail, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.RunID,
		attempt.BatchIndex,
		attempt.AddressCount,
		attempt.Succeeded,
		attempt.StatusCode,
		attempt.Detail,
		attempt.DurationMS,
		attempt.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to record batch attempt: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.Run, error) {
	query := `
		SELECT id, subject, provider, account, state, total_batches, succeeded,
		       failed, reason, started_at, finished_at
		FROM runs
		WHERE id = $1
	`
	var run model.Run
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Subject,
		&run.Provider,
		&run.Account,
		&run.State,
		&run.TotalBatches,
		&run.Succeeded,
		&run.Failed,
		&run.Reason,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListAttempts returns the batch attempts of a run in batch order
func (r *RunRepository) ListAttempts(ctx context.Context, runID string) ([]model.BatchAttempt, error) {
	query := `
		SELECT run_id, batch_index, address_count, succeeded, status_code,
		       detail, duration_ms, created_at
		FROM batch_attempts
		WHERE run_id = $1
		ORDER BY batch_index
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.BatchAttempt
	for rows.Next() {
		var a model.BatchAttempt
		err := rows.Scan(
			&a.RunID,
			&a.BatchIndex,
			&a.AddressCount,
			&a.Succeeded,
			&a.StatusCode,
			&a.Detail,
			&a.DurationMS,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch attempts: %w", err)
	}
	return attempts, nil
}

// DeleteFinishedBefore removes finished runs older than cutoff along with
// their attempts. It returns the number of runs removed.
func (r *RunRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return result.RowsAffected()
}
