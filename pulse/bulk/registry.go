package bulk

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the active job for every JobKey.
// Thread-safe; injected wherever jobs are started or controlled.
type Registry struct {
	mu   sync.Mutex
	jobs map[JobKey]*Job
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[JobKey]*Job)}
}

// Create registers a new running job for key.
//
// Fails with ErrDuplicateJob while another job holds the key and has not been
// ended. A job that was ended but whose loop is still draining is superseded,
// so stop-then-restart never races the old loop's cleanup.
func (r *Registry) Create(key JobKey, opts Options, sink Sink) (*Job, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[key]; ok && !existing.IsEnded() {
		return nil, newDuplicateJobError(key)
	}

	job := NewJob(key, uuid.NewString(), opts, sink)
	job.registry = r
	r.jobs[key] = job
	return job, nil
}

// Get returns the job registered for key
func (r *Registry) Get(key JobKey) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[key]
	return job, ok
}

// SetStatus applies a status change to the job registered for key.
// Unknown keys and no-op transitions return false.
func (r *Registry) SetStatus(key JobKey, status JobStatus) bool {
	job, ok := r.Get(key)
	if !ok {
		return false
	}

	switch status {
	case StatusPaused:
		return job.Pause(PauseReasonUser)
	case StatusRunning:
		return job.Resume()
	case StatusEnded:
		return job.End()
	default:
		return false
	}
}

// Remove drops job from the registry, but only if it is still the job
// registered under its key. A superseded job never evicts its successor.
func (r *Registry) Remove(job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.jobs[job.key]; ok && current == job {
		delete(r.jobs, job.key)
		return true
	}
	return false
}

// EndConnection ends every job owned by a connection and returns how many
// jobs were ended. Their loops remove them from the registry on exit.
func (r *Registry) EndConnection(connectionID string) int {
	r.mu.Lock()
	var owned []*Job
	for key, job := range r.jobs {
		if key.ConnectionID == connectionID {
			owned = append(owned, job)
		}
	}
	r.mu.Unlock()

	ended := 0
	for _, job := range owned {
		if job.End() {
			ended++
		}
	}
	return ended
}

// EndAll ends every registered job
func (r *Registry) EndAll() int {
	r.mu.Lock()
	all := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		all = append(all, job)
	}
	r.mu.Unlock()

	ended := 0
	for _, job := range all {
		if job.End() {
			ended++
		}
	}
	return ended
}

// List returns snapshots of all registered jobs ordered by key
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(jobs))
	for _, job := range jobs {
		snapshots = append(snapshots, job.Snapshot())
	}
	sort.Slice(snapshots, func(a, b int) bool {
		return snapshots[a].Key.String() < snapshots[b].Key.String()
	})
	return snapshots
}

// Len returns the number of registered jobs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
