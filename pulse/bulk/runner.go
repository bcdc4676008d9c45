package bulk

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/zbulk/db"
	"github.com/teranos/zbulk/logger"
)

// bulkLogger wraps zap.SugaredLogger with lifecycle helpers:
// - Starting → DEBUG, job and loop startup
// - Closing → INFO, job shutdown and terminal state
type bulkLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event
func (l bulkLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a closing event
func (l bulkLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow("❀ "+msg, keysAndValues...)
}

// RunStatus is the terminal state of a run as recorded in history
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusEnded    RunStatus = "ended"
	RunStatusError    RunStatus = "error"
)

// RunRecord describes a run for history
type RunRecord struct {
	ID                string     `json:"id"`
	Key               JobKey     `json:"key"`
	Status            RunStatus  `json:"status"`
	Summary           Summary    `json:"summary"`
	Concurrency       int        `json:"concurrency"`
	DelayMS           int64      `json:"delay_ms"`
	StopAfterFailures int        `json:"stop_after_failures"`
	ItemsDigest       string     `json:"items_digest,omitempty"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Recorder persists run progress. Every outcome is recorded, including those
// that arrive after the job ended and are no longer emitted.
// Recorder errors are logged and never stop a run.
type Recorder interface {
	BeginRun(ctx context.Context, run RunRecord) error
	RecordOutcome(ctx context.Context, runID string, key JobKey, outcome Outcome) error
	FinishRun(ctx context.Context, runID string, status RunStatus, summary Summary, errMsg string) error
}

// Runner walks a job's items through a Processor
type Runner struct {
	logger        bulkLogger
	recorder      Recorder
	countdownUnit time.Duration
}

// RunnerOption customises a Runner
type RunnerOption func(*Runner)

// WithRecorder persists run progress through rec
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithCountdownUnit sets the job_countdown granularity (default one second)
func WithCountdownUnit(d time.Duration) RunnerOption {
	return func(r *Runner) { r.countdownUnit = d }
}

// NewRunner creates a runner
func NewRunner(logger *zap.SugaredLogger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Runner{
		logger:        bulkLogger{logger.Named("bulk")},
		countdownUnit: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes items for job and blocks until the loop exits. It emits
// exactly one terminal event, removes the job from its registry, and returns
// the final summary. Nothing escapes as a panic.
func (r *Runner) Run(ctx context.Context, job *Job, items []Item, proc Processor) (summary Summary) {
	log := bulkLogger{r.logger.With("job_key", job.key.String(), "run_id", job.runID)}

	runCtx, cancel := context.WithCancel(logger.WithRunID(logger.WithJobKey(ctx, job.key.String()), job.runID))
	defer cancel()
	job.attachCancel(cancel)

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("Bulk run panicked", "panic", rec, "stack", string(debug.Stack()))
			summary = r.finish(ctx, job, EventError, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	pending, skipped := planResume(items, job.opts.Resume)
	job.setPlan(len(items), skipped)
	r.begin(ctx, job, ItemsDigest(items))

	if proc == nil {
		return r.finish(ctx, job, EventError, "no processor for job type "+job.key.JobType)
	}

	log.Starting("Bulk run starting",
		"total", len(items),
		"skipped", skipped,
		"concurrency", job.opts.Concurrency,
		"delay", job.opts.Delay.String(),
		"stop_after_failures", job.opts.StopAfterFailures)

	size := job.opts.Concurrency
	for start := 0; start < len(pending); start += size {
		if !job.waitRunnable(runCtx) {
			break
		}
		if start > 0 && job.opts.Delay > 0 {
			if !waitDelay(runCtx, job, r.countdownUnit) {
				break
			}
			// paused during the delay: hold here, not mid-window
			if !job.waitRunnable(runCtx) {
				break
			}
		}

		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		r.processWindow(runCtx, job, pending[start:end], proc)
	}

	// Parent cancellation (shutdown) counts as an external end
	if ctx.Err() != nil {
		job.End()
	}

	if job.IsEnded() {
		return r.finish(ctx, job, EventEnded, "")
	}
	return r.finish(ctx, job, EventComplete, "")
}

// processWindow runs up to Concurrency items at once and waits for all of
// them. A window of one runs inline, which keeps sequential jobs in order.
func (r *Runner) processWindow(ctx context.Context, job *Job, window []Item, proc Processor) {
	if len(window) == 1 {
		r.processItem(ctx, job, window[0], proc)
		return
	}

	var wg sync.WaitGroup
	for _, item := range window {
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			r.processItem(ctx, job, item, proc)
		}(item)
	}
	wg.Wait()
}

func (r *Runner) processItem(ctx context.Context, job *Job, item Item, proc Processor) {
	outcome := r.invoke(ctx, item, proc)
	outcome.Row = item.Row
	outcome.Identifier = item.Identifier

	if r.recorder != nil && outcome.FailureReason != FailureCancelled {
		if err := r.recorder.RecordOutcome(context.WithoutCancel(ctx), job.runID, job.key, outcome); err != nil {
			r.recordFailed("Failed to record outcome", job, err, logger.FieldRow, item.Row)
		}
	}

	if autoPaused, failures := job.completeItem(outcome); autoPaused {
		r.logger.Infow("Job auto-paused after consecutive failures",
			"job_key", job.key.String(), "failures", failures)
	}
}

// recordFailed logs a recorder error. A closed database only happens while
// shutting down, so it is not worth a warning.
func (r *Runner) recordFailed(msg string, job *Job, err error, keysAndValues ...interface{}) {
	kv := append([]interface{}{logger.FieldJobKey, job.key.String(), logger.FieldError, err}, keysAndValues...)
	if db.IsDatabaseClosed(err) {
		r.logger.Debugw(msg, kv...)
		return
	}
	r.logger.Warnw(msg, kv...)
}

// invoke calls the processor, converting a panic into a failed outcome
func (r *Runner) invoke(ctx context.Context, item Item, proc Processor) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("Processor panicked", "row", item.Row, "identifier", item.Identifier, "panic", rec)
			out = Failed(item, FailurePanic, fmt.Sprintf("processor panic: %v", rec))
		}
	}()
	return proc.Process(ctx, item)
}

func (r *Runner) begin(ctx context.Context, job *Job, itemsDigest string) {
	if r.recorder == nil {
		return
	}
	run := RunRecord{
		ID:                job.runID,
		Key:               job.key,
		Status:            RunStatusRunning,
		Summary:           job.currentSummary(),
		Concurrency:       job.opts.Concurrency,
		DelayMS:           job.opts.Delay.Milliseconds(),
		StopAfterFailures: job.opts.StopAfterFailures,
		ItemsDigest:       itemsDigest,
		StartedAt:         job.startedAt,
	}
	if err := r.recorder.BeginRun(context.WithoutCancel(ctx), run); err != nil {
		r.recordFailed("Failed to record run start", job, err)
	}
}

// finish releases the key, then emits the terminal event. Releasing first
// lets a consumer restart the same key as soon as it sees the event.
func (r *Runner) finish(ctx context.Context, job *Job, t EventType, message string) Summary {
	job.release()
	summary := job.currentSummary()

	status := RunStatusComplete
	switch t {
	case EventEnded:
		status = RunStatusEnded
	case EventError:
		status = RunStatusError
	}

	if r.recorder != nil {
		if err := r.recorder.FinishRun(context.WithoutCancel(ctx), job.runID, status, summary, message); err != nil {
			r.recordFailed("Failed to record run finish", job, err)
		}
	}

	s := summary
	job.emitTerminal(job.newEvent(t, func(e *Event) {
		e.Message = message
		e.Summary = &s
	}))

	r.logger.Closing("Bulk run finished",
		"job_key", job.key.String(),
		"status", string(status),
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary
}
