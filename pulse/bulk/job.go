// Package bulk runs bulk jobs: a list of items pushed through a caller-supplied
// Processor one window at a time, with pause/resume/end control, auto-pause
// after consecutive failures and resume-by-skip.
//
// ARCHITECTURE: the engine is domain-agnostic
// - Product packages register Handlers that build Processors
// - The Runner walks items, the Registry owns job lifecycle
// - Every event flows through a Sink supplied by whoever started the job
package bulk

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/teranos/zbulk/errors"
)

// JobStatus represents the control state of a bulk job
type JobStatus string

const (
	StatusRunning JobStatus = "running"
	StatusPaused  JobStatus = "paused"
	StatusEnded   JobStatus = "ended"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case StatusRunning, StatusPaused, StatusEnded:
		return true
	default:
		return false
	}
}

// Pause reasons carried on job_paused events
const (
	PauseReasonUser     = "user_requested"
	PauseReasonFailures = "consecutive_failures"
)

// JobKey identifies a job. At most one active job exists per key.
type JobKey struct {
	ConnectionID string `json:"connection_id"`
	ProfileName  string `json:"profile_name"`
	JobType      string `json:"job_type"`
}

// String renders the key for logs: connection/profile/job_type
func (k JobKey) String() string {
	return k.ConnectionID + "/" + k.ProfileName + "/" + k.JobType
}

// Validate checks that every component of the key is set
func (k JobKey) Validate() error {
	var missing []string
	if k.ConnectionID == "" {
		missing = append(missing, "connection_id")
	}
	if k.ProfileName == "" {
		missing = append(missing, "profile_name")
	}
	if k.JobType == "" {
		missing = append(missing, "job_type")
	}
	if len(missing) > 0 {
		return errors.NewInvalidRequestError("job key missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Options control how a job walks its items
type Options struct {
	Concurrency       int           // Items in flight per window, >= 1
	Delay             time.Duration // Wait between windows, >= 0
	StopAfterFailures int           // Auto-pause threshold, 0 disables
	Resume            ResumeSet     // Identifiers to skip
	Countdown         bool          // Emit job_countdown while waiting out Delay
}

// Validate checks option ranges. A zero Concurrency is treated as 1.
func (o Options) Validate() error {
	if o.Concurrency < 0 {
		return errors.Wrapf(ErrInvalidOptions, "concurrency must be >= 1, got %d", o.Concurrency)
	}
	if o.Delay < 0 {
		return errors.Wrapf(ErrInvalidOptions, "delay must be >= 0, got %s", o.Delay)
	}
	if o.StopAfterFailures < 0 {
		return errors.Wrapf(ErrInvalidOptions, "stop_after_failures must be >= 0, got %d", o.StopAfterFailures)
	}
	return nil
}

func (o Options) normalized() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	return o
}

// Summary counts what a run did so far
type Summary struct {
	Total     int `json:"total"`
	Skipped   int `json:"skipped"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Snapshot is a point-in-time copy of a job's state
type Snapshot struct {
	Key                 JobKey    `json:"key"`
	RunID               string    `json:"run_id"`
	Status              JobStatus `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	StopAfterFailures   int       `json:"stop_after_failures"`
	Concurrency         int       `json:"concurrency"`
	DelayMS             int64     `json:"delay_ms"`
	Summary             Summary   `json:"summary"`
	StartedAt           time.Time `json:"started_at"`
}

// Job is the mutable control record of one bulk run.
//
// Status changes are broadcast by closing the current `changed` channel and
// replacing it, so waiters block instead of polling.
type Job struct {
	key       JobKey
	runID     string
	opts      Options
	sink      Sink
	registry  *Registry
	startedAt time.Time

	mu                  sync.Mutex
	status              JobStatus
	consecutiveFailures int
	summary             Summary
	changed             chan struct{}
	ended               chan struct{}
	cancel              context.CancelFunc

	emitMu   sync.Mutex
	terminal bool
}

// NewJob creates a running job that is not tracked by any registry.
// Most callers go through Registry.Create instead.
func NewJob(key JobKey, runID string, opts Options, sink Sink) *Job {
	if sink == nil {
		sink = Discard
	}
	return &Job{
		key:       key,
		runID:     runID,
		opts:      opts.normalized(),
		sink:      sink,
		startedAt: time.Now(),
		status:    StatusRunning,
		changed:   make(chan struct{}),
		ended:     make(chan struct{}),
	}
}

// Key returns the job's key
func (j *Job) Key() JobKey { return j.key }

// RunID returns the identifier of this run
func (j *Job) RunID() string { return j.runID }

// Options returns the normalized options the job runs with
func (j *Job) Options() Options { return j.opts }

// Status returns the current status
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// ConsecutiveFailures returns the current failure streak
func (j *Job) ConsecutiveFailures() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.consecutiveFailures
}

// Snapshot returns a copy of the job's state
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		Key:                 j.key,
		RunID:               j.runID,
		Status:              j.status,
		ConsecutiveFailures: j.consecutiveFailures,
		StopAfterFailures:   j.opts.StopAfterFailures,
		Concurrency:         j.opts.Concurrency,
		DelayMS:             j.opts.Delay.Milliseconds(),
		Summary:             j.summary,
		StartedAt:           j.startedAt,
	}
}

// Pause moves a running job to paused and emits job_paused.
// Returns false if the job was not running.
//
// Status changes that emit an event hold emitMu across the change and the
// emit, so the stream orders paused and resumed the way they happened.
func (j *Job) Pause(reason string) bool {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()

	j.mu.Lock()
	if j.status != StatusRunning {
		j.mu.Unlock()
		return false
	}
	j.setStatusLocked(StatusPaused)
	failures := j.consecutiveFailures
	j.mu.Unlock()

	j.emitLocked(j.newEvent(EventJobPaused, func(e *Event) {
		e.Reason = reason
		e.Failures = failures
	}))
	return true
}

// Resume moves a paused job back to running and emits job_resumed.
// Returns false if the job was not paused.
func (j *Job) Resume() bool {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()

	j.mu.Lock()
	if j.status != StatusPaused {
		j.mu.Unlock()
		return false
	}
	j.setStatusLocked(StatusRunning)
	j.mu.Unlock()

	j.emitLocked(j.newEvent(EventJobResumed, nil))
	return true
}

// End marks the job ended. The run loop stops before its next item, waiters
// wake up, and in-flight processor contexts are cancelled. Returns false if
// the job had already ended.
func (j *Job) End() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == StatusEnded {
		return false
	}
	j.setStatusLocked(StatusEnded)
	close(j.ended)
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// IsEnded reports whether End has been called
func (j *Job) IsEnded() bool {
	select {
	case <-j.ended:
		return true
	default:
		return false
	}
}

// Done is closed when the job ends
func (j *Job) Done() <-chan struct{} {
	return j.ended
}

// setStatusLocked records the new status and wakes every waiter. Caller holds j.mu.
func (j *Job) setStatusLocked(status JobStatus) {
	j.status = status
	close(j.changed)
	j.changed = make(chan struct{})
}

// attachCancel registers the cancel func of the run context. If the job has
// already ended the context is cancelled immediately.
func (j *Job) attachCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
	if j.status == StatusEnded {
		cancel()
	}
}

// waitRunnable blocks while the job is paused. Returns true once it is
// running, false if it ended or ctx was cancelled.
func (j *Job) waitRunnable(ctx context.Context) bool {
	for {
		j.mu.Lock()
		status, changed := j.status, j.changed
		j.mu.Unlock()

		switch status {
		case StatusEnded:
			return false
		case StatusRunning:
			return ctx.Err() == nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}

// recordOutcome updates the failure streak and counters. It returns true when
// this outcome crossed the auto-pause threshold and paused a running job.
func (j *Job) recordOutcome(success bool) (autoPaused bool, failures int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.summary.Processed++
	if success {
		j.summary.Succeeded++
		j.consecutiveFailures = 0
		return false, 0
	}

	j.summary.Failed++
	j.consecutiveFailures++
	failures = j.consecutiveFailures

	threshold := j.opts.StopAfterFailures
	if threshold > 0 && failures >= threshold && j.status == StatusRunning {
		j.setStatusLocked(StatusPaused)
		return true, failures
	}
	return false, failures
}

// completeItem counts outcome, then emits its bulk_result and, when the
// outcome crossed the threshold, job_paused. The count and both emits happen
// under emitMu, so a concurrent Resume can only land after job_paused.
// Nothing is emitted once the job has ended.
func (j *Job) completeItem(outcome Outcome) (autoPaused bool, failures int) {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()

	autoPaused, failures = j.recordOutcome(outcome.Success)
	if j.IsEnded() {
		return autoPaused, failures
	}

	result := outcome
	j.emitLocked(j.newEvent(EventItemResult, func(e *Event) { e.Result = &result }))
	if autoPaused {
		j.emitLocked(j.newEvent(EventJobPaused, func(e *Event) {
			e.Reason = PauseReasonFailures
			e.Failures = failures
		}))
	}
	return autoPaused, failures
}

func (j *Job) setPlan(total, skipped int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.summary.Total = total
	j.summary.Skipped = skipped
}

func (j *Job) currentSummary() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summary
}

// release removes the job from its registry, if any
func (j *Job) release() {
	if j.registry != nil {
		j.registry.Remove(j)
	}
}

func (j *Job) newEvent(t EventType, fill func(*Event)) Event {
	e := Event{
		Type:        t,
		JobType:     j.key.JobType,
		ProfileName: j.key.ProfileName,
		RunID:       j.runID,
		Timestamp:   time.Now(),
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

// emit delivers a non-terminal event. Nothing is delivered after the
// terminal event.
func (j *Job) emit(e Event) {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	j.emitLocked(e)
}

// emitLocked is emit for callers already holding emitMu
func (j *Job) emitLocked(e Event) {
	if j.terminal {
		return
	}
	j.sink.Emit(e)
}

// emitTerminal delivers the single terminal event. Later calls are dropped.
func (j *Job) emitTerminal(e Event) bool {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	if j.terminal {
		return false
	}
	j.terminal = true
	j.sink.Emit(e)
	return true
}
