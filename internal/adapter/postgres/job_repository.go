package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/commhub/internal/domain"
)

const jobColumns = `j.id, j.job_type, j.payload, j.integration_id, j.status, j.attempts, j.max_attempts,
	j.priority, j.run_after, j.last_error, j.created_at, j.completed_at`

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.JobType, &j.Payload, &j.IntegrationID, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.Priority, &j.RunAfter, &j.LastError, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepo) Enqueue(ctx context.Context, j *domain.Job) error {
	maxAttempts := j.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultJobMaxAttempts
	}
	runAfter := j.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now()
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO instagram_jobs (job_type, payload, integration_id, max_attempts, priority, run_after)
		VALUES ($1, $2, $3, $4, $5, $6)`, j.JobType, j.Payload, j.IntegrationID, maxAttempts, j.Priority, runAfter)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim locks runnable jobs with SKIP LOCKED so concurrent workers never pick
// the same job.
func (r *JobRepo) Claim(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `UPDATE instagram_jobs j
		SET status = 'processing', attempts = j.attempts + 1
		WHERE j.id IN (
			SELECT id FROM instagram_jobs
			WHERE status = 'pending' AND run_after <= $1
			ORDER BY priority DESC, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execOne(ctx, r.pool, domain.ErrJobNotFound, "failed to complete job",
		`UPDATE instagram_jobs SET status = 'completed', completed_at = $2 WHERE id = $1`, id, at)
}

func (r *JobRepo) Retry(ctx context.Context, id uuid.UUID, runAfter time.Time, lastError string) error {
	return execOne(ctx, r.pool, domain.ErrJobNotFound, "failed to reschedule job",
		`UPDATE instagram_jobs SET status = 'pending', run_after = $2, last_error = $3 WHERE id = $1`,
		id, runAfter, lastError)
}

func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return execOne(ctx, r.pool, domain.ErrJobNotFound, "failed to mark job failed",
		`UPDATE instagram_jobs SET status = 'failed', last_error = $2 WHERE id = $1`, id, lastError)
}

func (r *JobRepo) CleanupFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM instagram_jobs
		WHERE status IN ('completed', 'failed') AND created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
