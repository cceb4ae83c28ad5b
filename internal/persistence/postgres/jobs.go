package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ragserv/internal/persistence"
)

func (s *Store) CreateJob(ctx context.Context, userID string, total int) (persistence.IngestionJob, error) {
	ctx = mustCtx(ctx)
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
INSERT INTO ingestion_jobs (id, user_id, status, total)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, status, total, processed, failed, errors, cancelled_by, started_at, completed_at`,
		id, userID, string(persistence.JobQueued), total)
	return scanJob(row)
}

func (s *Store) SetJobStatus(ctx context.Context, jobID string, status persistence.JobStatus) error {
	ctx = mustCtx(ctx)
	cmd, err := s.pool.Exec(ctx, `UPDATE ingestion_jobs SET status = $2 WHERE id = $1`, jobID, string(status))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementProcessed(ctx context.Context, jobID string) error {
	ctx = mustCtx(ctx)
	cmd, err := s.pool.Exec(ctx, `UPDATE ingestion_jobs SET processed = processed + 1 WHERE id = $1`, jobID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementFailed(ctx context.Context, jobID string, errMsg string) error {
	ctx = mustCtx(ctx)
	cmd, err := s.pool.Exec(ctx, `
UPDATE ingestion_jobs
SET failed = failed + 1, errors = errors || to_jsonb($2::text)
WHERE id = $1`, jobID, errMsg)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string) (persistence.IngestionJob, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `
UPDATE ingestion_jobs
SET status = CASE
        WHEN failed = 0 THEN 'completed'
        WHEN processed = 0 THEN 'failed'
        ELSE 'partial'
    END,
    completed_at = NOW()
WHERE id = $1
RETURNING id, user_id, status, total, processed, failed, errors, cancelled_by, started_at, completed_at`, jobID)
	return scanJob(row)
}

func (s *Store) GetJob(ctx context.Context, userID, jobID string) (persistence.IngestionJob, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `
SELECT id, user_id, status, total, processed, failed, errors, cancelled_by, started_at, completed_at
FROM ingestion_jobs WHERE id = $1 AND user_id = $2`, jobID, userID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.IngestionJob{}, persistence.ErrNotFound
	}
	return job, err
}

func (s *Store) CancelJob(ctx context.Context, userID, jobID, cancelledBy string) error {
	ctx = mustCtx(ctx)
	cmd, err := s.pool.Exec(ctx, `
UPDATE ingestion_jobs
SET status = 'cancelled', cancelled_by = $3
WHERE id = $1 AND user_id = $2 AND status IN ('queued', 'processing')`, jobID, userID, cancelledBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (persistence.IngestionJob, error) {
	var j persistence.IngestionJob
	var status string
	var errs []byte
	if err := row.Scan(&j.ID, &j.UserID, &status, &j.Total, &j.Processed, &j.Failed, &errs, &j.CancelledBy, &j.StartedAt, &j.CompletedAt); err != nil {
		return persistence.IngestionJob{}, err
	}
	j.Status = persistence.JobStatus(status)
	if err := json.Unmarshal(errs, &j.Errors); err != nil {
		return persistence.IngestionJob{}, err
	}
	return j, nil
}
