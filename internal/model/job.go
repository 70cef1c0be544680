package model

import (
	"encoding/json"
	"time"
)

// JobType identifies the batch operation an async job runs.
type JobType string

const (
	// JobTypeCheckBank reconciles documents against bank transactions.
	JobTypeCheckBank JobType = "check-bank"
	// JobTypeBudgetAnalyze categorizes bank transactions.
	JobTypeBudgetAnalyze JobType = "budget-analyze"
)

// JobStatus is the state of an async job.
type JobStatus string

const (
	// JobStatusQueued is set when the row is created.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning is set once the worker starts.
	JobStatusRunning JobStatus = "running"
	// JobStatusDone is terminal success.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed is terminal failure.
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusRunning || next == JobStatusDone || next == JobStatusFailed
	default:
		return false
	}
}

// AsyncJob is a persisted background job.
//
// Owner identifies the supervisor instance running the worker. HeartbeatAt
// is refreshed by that instance while the job is active; a job whose
// heartbeat stops belongs to a process that is gone.
type AsyncJob struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	HeartbeatAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	ID          string
	TenantID    string
	UserID      string
	Owner       string
	JobType     JobType
	Status      JobStatus
	Error       string
	Result      json.RawMessage
	Processed   int
	Total       int
}

// IsStale reports whether an active job owned by another instance has not
// sent a heartbeat since before cutoff.
func (j *AsyncJob) IsStale(owner string, cutoff time.Time) bool {
	if j.Status.IsTerminal() || j.Owner == owner {
		return false
	}
	return j.HeartbeatAt.Before(cutoff)
}
