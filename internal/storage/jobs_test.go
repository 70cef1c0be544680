package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestJob(t *testing.T, store *SQLiteStorage) *model.AsyncJob {
	t.Helper()
	job := &model.AsyncJob{TenantID: testTenant, UserID: "user-1", JobType: model.JobTypeCheckBank}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestJobLifecycle(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	active, err := store.FindActiveJob(ctx, testTenant, model.JobTypeCheckBank)
	require.NoError(t, err)
	assert.Equal(t, job.ID, active.ID)
	assert.Equal(t, model.JobStatusQueued, active.Status)

	require.NoError(t, store.MarkJobRunning(ctx, job.ID))
	require.NoError(t, store.UpdateJobProgress(ctx, job.ID, 3, 10))
	require.NoError(t, store.CompleteJob(ctx, job.ID, json.RawMessage(`{"checked":10}`), 10, 10))

	got, err := store.GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got.Status)
	assert.Equal(t, 10, got.Processed)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `{"checked":10}`, string(got.Result))

	_, err = store.FindActiveJob(ctx, testTenant, model.JobTypeCheckBank)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestJobTransitions_TerminalIsFinal(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		apply func(id string) error
		name  string
	}{
		{name: "running again", apply: func(id string) error { return store.MarkJobRunning(ctx, id) }},
		{name: "progress", apply: func(id string) error { return store.UpdateJobProgress(ctx, id, 1, 1) }},
		{name: "complete", apply: func(id string) error { return store.CompleteJob(ctx, id, nil, 1, 1) }},
		{name: "fail", apply: func(id string) error { return store.FailJob(ctx, id, "boom", nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := createTestJob(t, store)
			require.NoError(t, store.FailJob(ctx, job.ID, "first failure", nil))
			require.ErrorIs(t, tt.apply(job.ID), common.ErrInvalidTransition)

			got, err := store.GetJob(ctx, testTenant, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusFailed, got.Status)
			assert.Equal(t, "first failure", got.Error)
		})
	}
}

func TestJobTransitions_QueuedCannotComplete(t *testing.T) {
	store := createTestStorage(t)
	job := createTestJob(t, store)

	err := store.CompleteJob(context.Background(), job.ID, nil, 0, 0)
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestFailJob_KeepsProcessed(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	require.NoError(t, store.MarkJobRunning(ctx, job.ID))
	require.NoError(t, store.UpdateJobProgress(ctx, job.ID, 4, 9))
	require.NoError(t, store.FailJob(ctx, job.ID, "RuntimeError: boom", json.RawMessage(`{"trace":[]}`)))

	got, err := store.GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Processed)
	assert.Equal(t, 9, got.Total)
	assert.Equal(t, "RuntimeError: boom", got.Error)
}

func TestFailStaleJobs(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base.Add(-time.Hour)
	store.now = func() time.Time { return clock }

	newJob := func(owner string, running bool) *model.AsyncJob {
		job := &model.AsyncJob{TenantID: testTenant, UserID: "user-1", JobType: model.JobTypeCheckBank, Owner: owner}
		require.NoError(t, store.CreateJob(ctx, job))
		if running {
			require.NoError(t, store.MarkJobRunning(ctx, job.ID))
		}
		return job
	}

	crashedRunning := newJob("crashed", true)
	crashedQueued := newJob("crashed", false)
	mine := newJob("me", true)
	finished := newJob("crashed", true)
	require.NoError(t, store.CompleteJob(ctx, finished.ID, nil, 1, 1))

	clock = base
	alive := newJob("other", true)

	n, err := store.FailStaleJobs(ctx, "me", base.Add(-time.Minute), "server restart: job interrupted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tests := []struct {
		job    *model.AsyncJob
		name   string
		status model.JobStatus
	}{
		{name: "silent running job", job: crashedRunning, status: model.JobStatusFailed},
		{name: "silent queued job", job: crashedQueued, status: model.JobStatusFailed},
		{name: "own job", job: mine, status: model.JobStatusRunning},
		{name: "finished job", job: finished, status: model.JobStatusDone},
		{name: "live job of another process", job: alive, status: model.JobStatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetJob(ctx, testTenant, tt.job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
			if tt.status == model.JobStatusFailed {
				assert.Equal(t, "server restart: job interrupted", got.Error)
				assert.NotNil(t, got.FinishedAt)
			}
		})
	}
}

func TestTouchJob(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	job := &model.AsyncJob{TenantID: testTenant, UserID: "user-1", JobType: model.JobTypeCheckBank, Owner: "worker-a"}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.MarkJobRunning(ctx, job.ID))

	clock = clock.Add(30 * time.Second)
	require.NoError(t, store.TouchJob(ctx, job.ID))

	got, err := store.GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", got.Owner)
	assert.True(t, got.HeartbeatAt.Equal(clock), "heartbeat %s", got.HeartbeatAt)

	require.NoError(t, store.FailJob(ctx, job.ID, "boom", nil))
	require.ErrorIs(t, store.TouchJob(ctx, job.ID), common.ErrInvalidTransition)
}

func TestListJobs(t *testing.T) {
	store := createTestStorage(t)
	for range 3 {
		createTestJob(t, store)
	}

	jobs, err := store.ListJobs(context.Background(), testTenant, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
