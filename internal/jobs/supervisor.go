// Package jobs runs long batch operations in the background and tracks them
// as rows in the async_jobs table.
//
// A job moves queued -> running -> done or failed. At most one queued or
// running job exists per (tenant, type); starting another returns the
// existing one. Workers report progress into an in-memory ProgressRegistry
// which is mirrored into the job row on a fixed interval.
//
// Several processes may share one database. Every supervisor has an owner id
// stamped on the jobs it starts and keeps a heartbeat on their rows while
// they run. Only jobs of other owners whose heartbeat went silent are treated
// as interrupted.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
	"github.com/google/uuid"
)

const (
	// DefaultMirrorInterval is how often registry progress is written to the job row.
	DefaultMirrorInterval = 700 * time.Millisecond

	// DefaultHeartbeatInterval is how often an active job row is touched when
	// its progress does not change.
	DefaultHeartbeatInterval = 5 * time.Second

	// InterruptedMessage is the error recorded on jobs a previous process left running.
	InterruptedMessage = "server restart: job interrupted"

	staleHeartbeats = 6

	maxTraceFrames = 12
)

// Progress reports (processed, total) from a worker.
type Progress func(processed, total int)

// Worker is the body of a job. Its result is stored as JSON on success.
type Worker func(ctx context.Context, progress Progress) (any, error)

// StartResult identifies the job a Start call refers to.
type StartResult struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Reused bool            `json:"reused"`
}

// Options configures a Supervisor.
type Options struct {
	Logger   *slog.Logger
	Registry *ProgressRegistry
	// Owner identifies this supervisor on job rows. Defaults to a random id.
	Owner             string
	MirrorInterval    time.Duration
	HeartbeatInterval time.Duration
	// StaleAfter is how long a job of another owner may stay silent before
	// it counts as interrupted. Defaults to six heartbeat intervals.
	StaleAfter time.Duration
}

// Supervisor starts and tracks async jobs.
type Supervisor struct {
	store             service.JobStore
	logger            *slog.Logger
	registry          *ProgressRegistry
	keyLocks          map[string]*sync.Mutex
	owner             string
	wg                sync.WaitGroup
	mirrorInterval    time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	mu                sync.Mutex
}

// New creates a supervisor over store.
func New(store service.JobStore, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = common.ComponentLogger("jobs")
	}
	if opts.Registry == nil {
		opts.Registry = NewProgressRegistry()
	}
	if opts.MirrorInterval <= 0 {
		opts.MirrorInterval = DefaultMirrorInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = staleHeartbeats * opts.HeartbeatInterval
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	return &Supervisor{
		store:             store,
		logger:            opts.Logger.With("owner", opts.Owner),
		registry:          opts.Registry,
		owner:             opts.Owner,
		mirrorInterval:    opts.MirrorInterval,
		heartbeatInterval: opts.HeartbeatInterval,
		staleAfter:        opts.StaleAfter,
		keyLocks:          make(map[string]*sync.Mutex),
	}
}

// Owner returns the id stamped on jobs started by this supervisor.
func (s *Supervisor) Owner() string {
	return s.owner
}

// Registry returns the live progress registry.
func (s *Supervisor) Registry() *ProgressRegistry {
	return s.registry
}

// Start launches worker as a job of jobType unless the tenant already has a
// queued or running job of that type, in which case that job is returned.
// The worker runs detached from ctx cancellation.
func (s *Supervisor) Start(ctx context.Context, tenantID, userID string, jobType model.JobType, worker Worker) (*StartResult, error) {
	if worker == nil {
		return nil, fmt.Errorf("%w: %s has no worker", common.ErrUnknownJobType, jobType)
	}

	lock := s.keyLock(tenantID, jobType)
	lock.Lock()
	defer lock.Unlock()

	active, err := s.store.FindActiveJob(ctx, tenantID, jobType)
	switch {
	case err == nil && active.IsStale(s.owner, s.staleCutoff()):
		s.logger.Warn("Replacing job left behind by a stopped process",
			"job_id", active.ID,
			"job_type", jobType,
			"job_owner", active.Owner)
		if ferr := s.store.FailJob(ctx, active.ID, InterruptedMessage, nil); ferr != nil {
			return nil, fmt.Errorf("failed to fail stale job: %w", ferr)
		}
	case err == nil:
		s.logger.Info("Reusing active job",
			"job_id", active.ID,
			"job_type", jobType,
			"status", active.Status)
		return &StartResult{JobID: active.ID, Status: active.Status, Reused: true}, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("failed to look up active job: %w", err)
	}

	job := &model.AsyncJob{TenantID: tenantID, UserID: userID, JobType: jobType, Owner: s.owner}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job queued", "job_id", job.ID, "job_type", jobType, "tenant_id", tenantID)

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), job.ID, worker)

	return &StartResult{JobID: job.ID, Status: model.JobStatusQueued}, nil
}

// Status returns the job with live progress overlaid while it is running in
// this process.
func (s *Supervisor) Status(ctx context.Context, tenantID, jobID string) (*model.AsyncJob, error) {
	job, err := s.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusRunning {
		if snap, ok := s.registry.Get(jobID); ok {
			job.Processed = snap.Processed
			job.Total = snap.Total
		}
	}
	return job, nil
}

// Wait polls the job until it reaches a terminal state or ctx ends.
func (s *Supervisor) Wait(ctx context.Context, tenantID, jobID string) (*model.AsyncJob, error) {
	ticker := time.NewTicker(s.mirrorInterval)
	defer ticker.Stop()

	var last *model.AsyncJob
	for {
		job, err := s.Status(ctx, tenantID, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && last != nil {
				return last, ctxErr
			}
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		last = job

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RecoverInterrupted fails queued and running jobs of other owners whose
// heartbeat has been silent for longer than StaleAfter. Jobs that another
// live process is still running keep their heartbeat fresh and are not
// touched, so it is safe to call on every startup.
func (s *Supervisor) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := s.store.FailStaleJobs(ctx, s.owner, s.staleCutoff(), InterruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Marked interrupted jobs as failed", "count", n)
	}
	return n, nil
}

// Shutdown waits for workers started by this supervisor.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) staleCutoff() time.Time {
	return time.Now().Add(-s.staleAfter)
}

func (s *Supervisor) keyLock(tenantID string, jobType model.JobType) *sync.Mutex {
	key := tenantID + "\x00" + string(jobType)

	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[key] = lock
	}
	return lock
}

func (s *Supervisor) run(ctx context.Context, jobID string, worker Worker) {
	defer s.wg.Done()
	defer s.registry.Delete(jobID)

	logger := s.logger.With("job_id", jobID)
	if err := s.store.MarkJobRunning(ctx, jobID); err != nil {
		logger.Error("Failed to mark job running", "error", err)
		return
	}
	logger.Info("Job started")

	stop := make(chan struct{})
	mirrored := make(chan struct{})
	go func() {
		defer close(mirrored)
		s.mirror(ctx, logger, jobID, stop)
	}()

	result, err := s.invoke(ctx, jobID, worker)
	close(stop)
	<-mirrored

	if err != nil {
		s.fail(ctx, logger, jobID, err)
		return
	}

	payload := json.RawMessage("{}")
	if result != nil {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			s.fail(ctx, logger, jobID, fmt.Errorf("failed to encode job result: %w", marshalErr))
			return
		}
		payload = data
	}

	snap, _ := s.registry.Get(jobID)
	completed := snap.Total
	if n, ok := checkedCount(payload); ok {
		completed = n
	}

	if err := s.store.CompleteJob(ctx, jobID, payload, completed, completed); err != nil {
		logger.Error("Failed to complete job", "error", err)
		return
	}
	logger.Info("Job done", "processed", completed)
}

// invoke runs the worker and turns a panic into an error.
func (s *Supervisor) invoke(ctx context.Context, jobID string, worker Worker) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, frames: panicFrames()}
		}
	}()

	return worker(ctx, func(processed, total int) {
		s.registry.Set(jobID, processed, total)
	})
}

// mirror copies registry progress into the job row until stop is closed,
// then writes the final value once more. A row whose progress has not
// changed for a heartbeat interval is touched so other processes see the
// job as alive.
func (s *Supervisor) mirror(ctx context.Context, logger *slog.Logger, jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(s.mirrorInterval)
	defer ticker.Stop()

	var last Snapshot
	written := false
	beat := time.Now()
	flush := func() {
		snap, ok := s.registry.Get(jobID)
		if ok && (!written || snap != last) {
			if err := s.store.UpdateJobProgress(ctx, jobID, snap.Processed, snap.Total); err != nil {
				logger.Warn("Failed to mirror job progress", "error", err)
				return
			}
			last, written, beat = snap, true, time.Now()
			return
		}
		if time.Since(beat) < s.heartbeatInterval {
			return
		}
		if err := s.store.TouchJob(ctx, jobID); err != nil {
			logger.Warn("Failed to record job heartbeat", "error", err)
			return
		}
		beat = time.Now()
	}

	for {
		select {
		case <-stop:
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

type failureResult struct {
	Traceback []string `json:"traceback"`
}

func (s *Supervisor) fail(ctx context.Context, logger *slog.Logger, jobID string, err error) {
	msg := fmt.Sprintf("%s: %v", errorType(err), err)
	logger.Error("Job failed", "error", msg)

	trace, marshalErr := json.Marshal(failureResult{Traceback: traceOf(err)})
	if marshalErr != nil {
		trace = json.RawMessage("{}")
	}
	if ferr := s.store.FailJob(ctx, jobID, msg, trace); ferr != nil {
		logger.Error("Failed to record job failure", "error", ferr)
	}
}

// checkedCount reads the "checked" field of an object result.
func checkedCount(payload json.RawMessage) (int, bool) {
	var probe struct {
		Checked *int `json:"checked"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Checked == nil {
		return 0, false
	}
	return *probe.Checked, true
}

type panicError struct {
	value  any
	frames []string
}

func (e *panicError) Error() string {
	return fmt.Sprint(e.value)
}

// errorType names the root cause of err, or "panic" for a recovered panic.
func errorType(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return "panic"
	}

	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "errorString" {
		return "Error"
	}
	return name
}

// traceOf returns the panic stack, or the wrap chain of an ordinary error.
func traceOf(err error) []string {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.frames
	}

	var trace []string
	for e := err; e != nil && len(trace) < maxTraceFrames; e = errors.Unwrap(e) {
		trace = append(trace, e.Error())
	}
	return trace
}

// panicFrames captures the stack of the panicking goroutine, without runtime
// frames, bounded to maxTraceFrames.
func panicFrames() []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]string, 0, maxTraceFrames)
	for len(out) < maxTraceFrames {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") && frame.Function != "" {
			out = append(out, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}
