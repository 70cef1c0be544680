package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/google/uuid"
)

const jobColumns = `id, tenant_id, user_id, job_type, status, processed, total, error, result_json,
	started_at, finished_at, created_at, updated_at, owner, heartbeat_at`

// CreateJob inserts a queued job.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *model.AsyncJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	now := s.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = model.JobStatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	job.HeartbeatAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO async_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.UserID, string(job.JobType), string(job.Status),
		job.Processed, job.Total, job.Error, string(job.Result),
		nullTime(job.StartedAt), nullTime(job.FinishedAt), job.CreatedAt, job.UpdatedAt,
		job.Owner, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob loads one job of the tenant.
func (s *SQLiteStorage) GetJob(ctx context.Context, tenantID, id string) (*model.AsyncJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM async_jobs WHERE tenant_id = ? AND id = ?`, tenantID, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return job, err
}

// FindActiveJob returns the newest queued or running job of a type.
func (s *SQLiteStorage) FindActiveJob(ctx context.Context, tenantID string, jobType model.JobType) (*model.AsyncJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM async_jobs
		WHERE tenant_id = ? AND job_type = ? AND status IN ('queued', 'running')
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, tenantID, string(jobType))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return job, err
}

// ListJobs returns the tenant's most recent jobs.
func (s *SQLiteStorage) ListJobs(ctx context.Context, tenantID string, limit int) ([]model.AsyncJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM async_jobs
		WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.AsyncJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkJobRunning moves a queued job to running and stamps started_at.
func (s *SQLiteStorage) MarkJobRunning(ctx context.Context, id string) error {
	now := s.now()
	return s.transitionJob(ctx, id, model.JobStatusRunning,
		`UPDATE async_jobs SET status = 'running', started_at = COALESCE(started_at, ?), updated_at = ?, heartbeat_at = ?
			WHERE id = ?`,
		now, now, now.UnixMilli(), id)
}

// UpdateJobProgress records progress of a running job. It also counts as a heartbeat.
func (s *SQLiteStorage) UpdateJobProgress(ctx context.Context, id string, processed, total int) error {
	now := s.now()
	return s.transitionJob(ctx, id, model.JobStatusRunning,
		`UPDATE async_jobs SET processed = ?, total = ?, updated_at = ?, heartbeat_at = ? WHERE id = ?`,
		processed, total, now, now.UnixMilli(), id)
}

// TouchJob refreshes the heartbeat of a queued or running job.
func (s *SQLiteStorage) TouchJob(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE async_jobs SET heartbeat_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to touch job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s is not active: %w", id, common.ErrInvalidTransition)
	}
	return nil
}

// CompleteJob marks a job done with its result.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, id string, result json.RawMessage, processed, total int) error {
	now := s.now()
	return s.transitionJob(ctx, id, model.JobStatusDone,
		`UPDATE async_jobs SET status = 'done', result_json = ?, processed = ?, total = ?, error = '',
			finished_at = ?, updated_at = ? WHERE id = ?`,
		string(result), processed, total, now, now, id)
}

// FailJob marks a job failed. Processed keeps its last recorded value.
func (s *SQLiteStorage) FailJob(ctx context.Context, id, errMsg string, result json.RawMessage) error {
	now := s.now()
	return s.transitionJob(ctx, id, model.JobStatusFailed,
		`UPDATE async_jobs SET status = 'failed', error = ?, result_json = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		errMsg, string(result), now, now, id)
}

// FailStaleJobs fails queued and running jobs that belong to another owner
// and have not sent a heartbeat since staleBefore. Jobs of live processes
// keep refreshing their heartbeat and are left alone.
func (s *SQLiteStorage) FailStaleJobs(ctx context.Context, owner string, staleBefore time.Time, errMsg string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE async_jobs
		SET status = 'failed', error = ?, finished_at = ?, updated_at = ?
		WHERE status IN ('queued', 'running') AND owner <> ? AND heartbeat_at < ?`,
		errMsg, now, now, owner, staleBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count stale jobs: %w", err)
	}
	return int(n), nil
}

// transitionJob applies an update after checking the state machine inside one transaction.
func (s *SQLiteStorage) transitionJob(ctx context.Context, id string, next model.JobStatus, update string, args ...any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM async_jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read job status: %w", err)
		}
		if !model.JobStatus(current).CanTransition(next) {
			return fmt.Errorf("job %s %s -> %s: %w", id, current, next, common.ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
		return nil
	})
}

func scanJob(row rowScanner) (*model.AsyncJob, error) {
	var job model.AsyncJob
	var jobType, status, result string
	var started, finished sql.NullTime
	var heartbeat int64
	err := row.Scan(&job.ID, &job.TenantID, &job.UserID, &jobType, &status, &job.Processed, &job.Total,
		&job.Error, &result, &started, &finished, &job.CreatedAt, &job.UpdatedAt, &job.Owner, &heartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.JobType = model.JobType(jobType)
	job.Status = model.JobStatus(status)
	if result != "" {
		job.Result = json.RawMessage(result)
	}
	job.StartedAt = timePtr(started)
	job.FinishedAt = timePtr(finished)
	if heartbeat > 0 {
		job.HeartbeatAt = time.UnixMilli(heartbeat).UTC()
	}
	return &job, nil
}
