package bulk

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/zbulk/am"
	"github.com/teranos/zbulk/errors"
)

// Defaults fill in options a start request leaves unset, and bound the rest
type Defaults struct {
	Concurrency       int
	MaxConcurrency    int
	Delay             time.Duration
	StopAfterFailures int
	Countdown         bool
	ItemTimeout       time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxItems          int
}

// DefaultsFromConfig maps the [bulk] config section onto engine defaults
func DefaultsFromConfig(cfg am.BulkConfig) Defaults {
	return Defaults{
		Concurrency:       cfg.DefaultConcurrency,
		MaxConcurrency:    cfg.MaxConcurrency,
		Delay:             cfg.DefaultDelay(),
		StopAfterFailures: cfg.DefaultStopAfterFailures,
		Countdown:         cfg.Countdown,
		ItemTimeout:       cfg.ItemTimeout(),
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff(),
		MaxItems:          cfg.MaxItems,
	}
}

// StartRequest describes a job to start
type StartRequest struct {
	Key JobKey

	// Items are used as-is when set; otherwise Rows are converted using
	// IdentifierField (or the handler's default identifier field). RowNumbers
	// optionally numbers Rows, one entry per row.
	Items           []Item
	Rows            []map[string]any
	RowNumbers      []int
	IdentifierField string

	Params map[string]any

	// Zero/nil values take the engine defaults
	Concurrency       int
	Delay             *time.Duration
	StopAfterFailures *int
	Countdown         *bool

	// Resume: identifiers to skip, merged with what already succeeded in
	// ResumeRunID and, with ResumeFromHistory, in earlier runs of this profile
	// and job type. Row-number identifiers only resume from runs over the same
	// item list.
	ResumeIdentifiers []string
	ResumeRunID       string
	ResumeFromHistory bool
}

// EngineConfig wires an Engine
type EngineConfig struct {
	Handlers      *HandlerRegistry
	Registry      *Registry // nil = new registry
	Store         *Store    // nil = no history
	Defaults      Defaults
	Logger        *zap.SugaredLogger
	RunnerOptions []RunnerOption
}

// Engine is the command surface for bulk jobs: start, pause, resume, end
type Engine struct {
	handlers *HandlerRegistry
	registry *Registry
	store    *Store
	runner   *Runner
	logger   bulkLogger

	mu       sync.RWMutex
	defaults Defaults

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Background runs live until Shutdown.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Handlers == nil {
		cfg.Handlers = NewHandlerRegistry()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	runnerOpts := cfg.RunnerOptions
	if cfg.Store != nil {
		runnerOpts = append([]RunnerOption{WithRecorder(cfg.Store)}, runnerOpts...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		handlers: cfg.Handlers,
		registry: cfg.Registry,
		store:    cfg.Store,
		runner:   NewRunner(cfg.Logger, runnerOpts...),
		logger:   bulkLogger{cfg.Logger.Named("engine")},
		defaults: cfg.Defaults,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the job registry
func (e *Engine) Registry() *Registry { return e.registry }

// Handlers returns the handler registry
func (e *Engine) Handlers() *HandlerRegistry { return e.handlers }

// Store returns the history store, or nil
func (e *Engine) Store() *Store { return e.store }

// Defaults returns the current defaults
func (e *Engine) Defaults() Defaults {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaults
}

// UpdateDefaults swaps the defaults used by jobs started from now on
func (e *Engine) UpdateDefaults(d Defaults) {
	e.mu.Lock()
	e.defaults = d
	e.mu.Unlock()
	e.logger.Infow("Bulk defaults updated",
		"concurrency", d.Concurrency,
		"max_concurrency", d.MaxConcurrency,
		"stop_after_failures", d.StopAfterFailures)
}

// StartJob validates req, registers the job and runs it in the background.
//
// A key that is already active returns ErrDuplicateJob and emits nothing, so
// the running job's stream is untouched. Any other setup error is delivered
// to sink as the job's single bulk_error event and also returned.
func (e *Engine) StartJob(ctx context.Context, req StartRequest, sink Sink) (*Job, error) {
	job, items, proc, err := e.prepare(ctx, req, sink)
	if err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runner.Run(e.ctx, job, items, proc)
	}()
	return job, nil
}

// Run is StartJob in the foreground: it returns when the job's terminal
// event has been emitted.
func (e *Engine) Run(ctx context.Context, req StartRequest, sink Sink) (Summary, error) {
	job, items, proc, err := e.prepare(ctx, req, sink)
	if err != nil {
		return Summary{}, err
	}
	return e.runner.Run(ctx, job, items, proc), nil
}

// RestartJob ends whatever runs under req.Key and starts req in its place.
// Pass the full item list with ResumeIdentifiers, ResumeRunID or
// ResumeFromHistory to skip work already done.
func (e *Engine) RestartJob(ctx context.Context, req StartRequest, sink Sink) (*Job, error) {
	if e.registry.SetStatus(req.Key, StatusEnded) {
		e.logger.Debugw("Ended stale job for restart", "job_key", req.Key.String())
	}
	return e.StartJob(ctx, req, sink)
}

// PauseJob pauses the job for key. Unknown keys are ignored.
func (e *Engine) PauseJob(key JobKey) bool {
	return e.control(key, StatusPaused)
}

// ResumeJob resumes the paused job for key. Unknown keys are ignored.
func (e *Engine) ResumeJob(key JobKey) bool {
	return e.control(key, StatusRunning)
}

// EndJob ends the job for key. Unknown keys are ignored.
func (e *Engine) EndJob(key JobKey) bool {
	return e.control(key, StatusEnded)
}

func (e *Engine) control(key JobKey, status JobStatus) bool {
	changed := e.registry.SetStatus(key, status)
	if !changed {
		e.logger.Debugw("Control ignored", "job_key", key.String(), "status", string(status))
		return false
	}
	e.logger.Infow("Job control applied", "job_key", key.String(), "status", string(status))
	return true
}

// EndConnection ends every job owned by a dropped connection
func (e *Engine) EndConnection(connectionID string) int {
	n := e.registry.EndConnection(connectionID)
	if n > 0 {
		e.logger.Infow("Ended jobs for closed connection", "client_id", connectionID, "count", n)
	}
	return n
}

// Shutdown ends every job and waits for their loops to exit or ctx to expire
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Closing("Bulk engine shutting down", "active_jobs", e.registry.Len())
	e.registry.EndAll()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "bulk engine shutdown timed out")
	}
}

// prepare resolves everything a run needs and registers the job
func (e *Engine) prepare(ctx context.Context, req StartRequest, sink Sink) (*Job, []Item, Processor, error) {
	if sink == nil {
		sink = Discard
	}
	if err := req.Key.Validate(); err != nil {
		return nil, nil, nil, e.setupFailed(req.Key, sink, err)
	}

	// Cheap early check; Registry.Create is the authority
	if existing, ok := e.registry.Get(req.Key); ok && !existing.IsEnded() {
		return nil, nil, nil, newDuplicateJobError(req.Key)
	}

	handler := e.handlers.Get(req.Key.JobType)
	if handler == nil {
		return nil, nil, nil, e.setupFailed(req.Key, sink,
			errors.Wrapf(ErrUnknownJobType, "%q", req.Key.JobType))
	}

	items, rowIdentifiers, err := e.resolveItems(req, handler)
	if err != nil {
		return nil, nil, nil, e.setupFailed(req.Key, sink, err)
	}

	d := e.Defaults()
	opts, err := e.resolveOptions(req, d)
	if err != nil {
		return nil, nil, nil, e.setupFailed(req.Key, sink, err)
	}
	if opts.Resume, err = e.resolveResume(ctx, req, items, rowIdentifiers); err != nil {
		return nil, nil, nil, e.setupFailed(req.Key, sink, err)
	}

	proc, err := handler.NewProcessor(ctx, ProcessorRequest{Key: req.Key, Params: req.Params})
	if err != nil {
		return nil, nil, nil, e.setupFailed(req.Key, sink, errors.Wrap(err, "failed to prepare processor"))
	}
	proc = Chain(proc,
		WithRetry(d.MaxRetries, d.RetryBackoff),
		WithTimeout(d.ItemTimeout),
	)

	job, err := e.registry.Create(req.Key, opts, sink)
	if err != nil {
		if errors.Is(err, ErrDuplicateJob) {
			return nil, nil, nil, err
		}
		return nil, nil, nil, e.setupFailed(req.Key, sink, err)
	}

	e.logger.Starting("Bulk job registered",
		"job_key", req.Key.String(),
		"run_id", job.RunID(),
		"items", len(items),
		"resume", opts.Resume.Len())
	return job, items, proc, nil
}

// resolveItems builds the item list. rowIdentifiers reports that items are
// identified by their row number rather than a field of their own.
func (e *Engine) resolveItems(req StartRequest, handler Handler) (items []Item, rowIdentifiers bool, err error) {
	items = req.Items
	if items == nil {
		field := req.IdentifierField
		if field == "" {
			if f, ok := handler.(IdentifierFielder); ok {
				field = f.IdentifierField()
			}
		}
		items, err = ItemsFromNumberedRows(req.Rows, req.RowNumbers, field)
		if err != nil {
			return nil, false, err
		}
		rowIdentifiers = field == ""
	}

	if limit := e.Defaults().MaxItems; limit > 0 && len(items) > limit {
		return nil, false, errors.WithHint(
			errors.Wrapf(ErrInvalidItems, "%d items exceeds the limit of %d", len(items), limit),
			"split the list into smaller jobs or raise bulk.max_items")
	}
	return items, rowIdentifiers, nil
}

func (e *Engine) resolveOptions(req StartRequest, d Defaults) (Options, error) {
	opts := Options{
		Concurrency:       req.Concurrency,
		Delay:             d.Delay,
		StopAfterFailures: d.StopAfterFailures,
		Countdown:         d.Countdown,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = d.Concurrency
	}
	if req.Delay != nil {
		opts.Delay = *req.Delay
	}
	if req.StopAfterFailures != nil {
		opts.StopAfterFailures = *req.StopAfterFailures
	}
	if req.Countdown != nil {
		opts.Countdown = *req.Countdown
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	if d.MaxConcurrency > 0 && opts.Concurrency > d.MaxConcurrency {
		return Options{}, errors.Wrapf(ErrInvalidOptions,
			"concurrency %d exceeds the limit of %d", opts.Concurrency, d.MaxConcurrency)
	}

	return opts, nil
}

// resolveResume builds the resume set from the request and run history
func (e *Engine) resolveResume(ctx context.Context, req StartRequest, items []Item, rowIdentifiers bool) (ResumeSet, error) {
	resume := NewResumeSet(req.ResumeIdentifiers...)
	if req.ResumeRunID == "" && !req.ResumeFromHistory {
		return resume, nil
	}
	if e.store == nil {
		return nil, errors.NewInvalidRequestError("resume from history requested but no history store is configured")
	}

	var digest string
	if rowIdentifiers {
		digest = ItemsDigest(items)
	}

	if req.ResumeRunID != "" {
		run, err := e.store.GetRun(ctx, req.ResumeRunID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load resume run")
		}
		if run.Key.ProfileName != req.Key.ProfileName || run.Key.JobType != req.Key.JobType {
			return nil, errors.NewInvalidRequestError("run %s is a %s job for profile %s",
				run.ID, run.Key.JobType, run.Key.ProfileName)
		}
		if rowIdentifiers && run.ItemsDigest != digest {
			return nil, errors.WithHint(
				errors.Wrapf(ErrInvalidItems, "run %s was over a different item list and items are identified by row number", run.ID),
				"resume with the original item list, or set an identifier field")
		}
		done, err := e.store.RunSucceededIdentifiers(ctx, run.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load resume set from run")
		}
		resume = resume.Merge(done)
	}

	if req.ResumeFromHistory {
		done, err := e.store.SucceededIdentifiers(ctx, req.Key.ProfileName, req.Key.JobType, digest)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load resume set from history")
		}
		resume = resume.Merge(done)
	}
	return resume, nil
}

// setupFailed emits the job's single bulk_error event and returns err
func (e *Engine) setupFailed(key JobKey, sink Sink, err error) error {
	e.logger.Warnw("Bulk job setup failed", "job_key", key.String(), "error", err)
	sink.Emit(Event{
		Type:        EventError,
		JobType:     key.JobType,
		ProfileName: key.ProfileName,
		Message:     err.Error(),
		Summary:     &Summary{},
		Timestamp:   time.Now(),
	})
	return err
}
