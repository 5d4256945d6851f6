// Package scheduler owns the job catalog: the CAS state machine that keeps
// exactly one active run per job, fire-time computation, retry backoff, and
// abandonment detection on restart (§4.1).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pipelinecore.dev/pipeline"
)

// AbandonmentMultiplier scales the longer of the schedule/retry interval to
// decide how long after last_run_started_at a RUNNING job is treated as
// abandoned by a restart (Open Question, resolved in SPEC_FULL.md §9).
const AbandonmentMultiplier = 3

// RetryBackoffCap is the largest value the exponential retry multiplier
// 2^(retry_count-1) may reach.
const RetryBackoffCap = 8

// Store persists the job catalog and implements the CAS transitions that
// keep at most one active run per job.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool. Callers own the pool's lifecycle.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ErrNotClaimed is returned by TryClaim when the job's status no longer
// matches the expected value, meaning another scheduler instance (or a
// concurrent fire) already claimed it.
var ErrNotClaimed = fmt.Errorf("scheduler: job not in expected status")

// jobColumns lists the columns read back by every Scan in this file, so a
// schema change only needs one edit.
const jobColumns = `id, tenant_id, job_name, integration_id, status, schedule_interval_minutes,
	retry_interval_minutes, last_run_started_at, last_run_finished_at, retry_count,
	COALESCE(error_message, ''), checkpoint_data, active`

func scanJob(row interface {
	Scan(dest ...any) error
}) (*pipeline.Job, error) {
	j := &pipeline.Job{}
	err := row.Scan(
		&j.ID, &j.TenantID, &j.JobName, &j.IntegrationID, &j.Status, &j.ScheduleIntervalMinutes,
		&j.RetryIntervalMinutes, &j.LastRunStartedAt, &j.LastRunFinishedAt, &j.RetryCount,
		&j.ErrorMessage, &j.CheckpointData, &j.Active,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob fetches one job by its tenant-scoped primary key.
func (s *Store) GetJob(ctx context.Context, tenantID, jobID int64) (*pipeline.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = $2`, tenantID, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// DueJobs returns every active job across all tenants whose fire-time rule
// (§4.1) is satisfied as of now: READY jobs with no prior run, FINISHED jobs
// whose schedule interval has elapsed, and FAILED jobs whose backed-off retry
// interval has elapsed.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]*pipeline.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE active
		  AND (
			(status = 'READY' AND last_run_finished_at IS NULL)
			OR (status = 'FINISHED' AND last_run_finished_at + (schedule_interval_minutes || ' minutes')::interval <= $1)
			OR (status = 'FAILED')
		  )
		ORDER BY id`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close()

	var due []*pipeline.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		if job.Status == pipeline.JobStatusFailed && !isRetryDue(job, now) {
			continue
		}
		due = append(due, job)
	}
	return due, rows.Err()
}

// isRetryDue applies the exponential backoff clamp: the job is due at
// last_run_finished_at + retry_interval * min(2^(retry_count-1), 8).
func isRetryDue(job *pipeline.Job, now time.Time) bool {
	if job.LastRunFinishedAt == nil {
		return true
	}
	multiplier := 1 << uint(job.RetryCount-1)
	if job.RetryCount <= 0 {
		multiplier = 1
	}
	if multiplier > RetryBackoffCap {
		multiplier = RetryBackoffCap
	}
	backoff := time.Duration(job.RetryIntervalMinutes*multiplier) * time.Minute
	return now.After(job.LastRunFinishedAt.Add(backoff)) || now.Equal(job.LastRunFinishedAt.Add(backoff))
}

// TryClaim atomically transitions a job to RUNNING, provided it is still in
// one of the resting states. Returns ErrNotClaimed if a concurrent scheduler
// won the race; the caller must treat that as "skip this fire", not an error.
func (s *Store) TryClaim(ctx context.Context, tenantID, jobID int64, now time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'RUNNING', last_run_started_at = $1
		WHERE tenant_id = $2 AND id = $3 AND status IN ('READY', 'FINISHED', 'FAILED')`,
		now, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("claim job %d: %w", jobID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// SaveCheckpoint persists the adapter's checkpoint for a still-RUNNING job
// without changing its status, called after each page is durably staged so
// a crash mid-run resumes from the last page written rather than the start
// (§3 "Checkpoint semantics").
func (s *Store) SaveCheckpoint(ctx context.Context, tenantID, jobID int64, checkpoint []byte) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs SET checkpoint_data = $1
		WHERE tenant_id = $2 AND id = $3 AND status = 'RUNNING'`,
		checkpoint, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("save checkpoint %d: %w", jobID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// CompleteRun transitions a RUNNING job to FINISHED, resets the retry
// counter, and persists the new checkpoint.
func (s *Store) CompleteRun(ctx context.Context, tenantID, jobID int64, finishedAt time.Time, checkpoint []byte) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'FINISHED', last_run_finished_at = $1, retry_count = 0,
		    error_message = NULL, checkpoint_data = $2
		WHERE tenant_id = $3 AND id = $4 AND status = 'RUNNING'`,
		finishedAt, checkpoint, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("complete run %d: %w", jobID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// FailRun transitions a RUNNING job to FAILED, incrementing the retry
// counter that drives the next backoff, and records the truncated error.
func (s *Store) FailRun(ctx context.Context, tenantID, jobID int64, finishedAt time.Time, errMsg string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'FAILED', last_run_finished_at = $1, retry_count = retry_count + 1,
		    error_message = $2
		WHERE tenant_id = $3 AND id = $4 AND status = 'RUNNING'`,
		finishedAt, pipeline.Truncate(errMsg), tenantID, jobID)
	if err != nil {
		return fmt.Errorf("fail run %d: %w", jobID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ReclaimAbandoned runs once at startup (§4.1, Abandonment Detection). A job
// left RUNNING past max(schedule_interval, retry_interval) * 3 survived an
// unclean shutdown mid-run; it is moved to FAILED with error_message
// "abandoned on restart" and its retry count incremented, so the next fire
// picks it up through the normal retry path instead of leaving it stuck
// RUNNING forever.
func (s *Store) ReclaimAbandoned(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'FAILED', retry_count = retry_count + 1,
		    error_message = 'abandoned on restart'
		WHERE status = 'RUNNING'
		  AND last_run_started_at IS NOT NULL
		  AND last_run_started_at + (GREATEST(schedule_interval_minutes, retry_interval_minutes) * 3 || ' minutes')::interval <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("reclaim abandoned jobs: %w", err)
	}
	return result.RowsAffected(), nil
}
