package bulk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/zbulk/errors"
)

func TestRegistry_CreateRejectsActiveDuplicate(t *testing.T) {
	reg := NewRegistry()
	key := testKey("inventory.contacts.create")

	first, err := reg.Create(key, Options{}, nil)
	require.NoError(t, err)

	_, err = reg.Create(key, Options{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateJob))
	assert.True(t, errors.IsConflictError(err))

	var dup *DuplicateJobError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, key, dup.Key)

	got, ok := reg.Get(key)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistry_CreateSupersedesEndedJob(t *testing.T) {
	reg := NewRegistry()
	key := testKey("inventory.contacts.create")

	old, err := reg.Create(key, Options{}, nil)
	require.NoError(t, err)
	require.True(t, old.End())

	fresh, err := reg.Create(key, Options{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, old.RunID(), fresh.RunID())

	// the old loop exiting late must not evict its successor
	assert.False(t, reg.Remove(old))
	got, ok := reg.Get(key)
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistry_CreateValidates(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create(JobKey{ProfileName: "acme"}, Options{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "connection_id")
	assert.Contains(t, err.Error(), "job_type")

	_, err = reg.Create(testKey("x"), Options{Concurrency: -1}, nil)
	assert.True(t, errors.Is(err, ErrInvalidOptions))

	_, err = reg.Create(testKey("x"), Options{Delay: -time.Second}, nil)
	assert.True(t, errors.Is(err, ErrInvalidOptions))

	_, err = reg.Create(testKey("x"), Options{StopAfterFailures: -1}, nil)
	assert.True(t, errors.Is(err, ErrInvalidOptions))

	assert.Zero(t, reg.Len())
}

func TestRegistry_SetStatus(t *testing.T) {
	reg := NewRegistry()
	key := testKey("desk.tickets.create")
	sink := NewCollector()

	assert.False(t, reg.SetStatus(key, StatusPaused), "absent key is a no-op")

	job, err := reg.Create(key, Options{}, sink)
	require.NoError(t, err)

	assert.True(t, reg.SetStatus(key, StatusPaused))
	assert.False(t, reg.SetStatus(key, StatusPaused), "already paused")
	assert.Equal(t, StatusPaused, job.Status())

	assert.True(t, reg.SetStatus(key, StatusRunning))
	assert.True(t, reg.SetStatus(key, StatusEnded))
	assert.False(t, reg.SetStatus(key, StatusEnded))
	assert.False(t, reg.SetStatus(key, JobStatus("bogus")))

	assert.Equal(t, []string{"job_paused", "job_resumed"}, eventTypes(sink.Events()))
	assert.Equal(t, PauseReasonUser, sink.Events()[0].Reason)
}

func TestRegistry_EndConnectionEndsOnlyOwnedJobs(t *testing.T) {
	reg := NewRegistry()

	mine1, _ := reg.Create(JobKey{ConnectionID: "c1", ProfileName: "acme", JobType: "a"}, Options{}, nil)
	mine2, _ := reg.Create(JobKey{ConnectionID: "c1", ProfileName: "beta", JobType: "a"}, Options{}, nil)
	theirs, _ := reg.Create(JobKey{ConnectionID: "c2", ProfileName: "acme", JobType: "a"}, Options{}, nil)

	assert.Equal(t, 2, reg.EndConnection("c1"))
	assert.True(t, mine1.IsEnded())
	assert.True(t, mine2.IsEnded())
	assert.False(t, theirs.IsEnded())

	assert.Zero(t, reg.EndConnection("c1"), "already ended")
	assert.Zero(t, reg.EndConnection("nobody"))
}

func TestRegistry_ListSortedSnapshots(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Create(JobKey{ConnectionID: "c2", ProfileName: "p", JobType: "t"}, Options{Concurrency: 2}, nil)
	_, _ = reg.Create(JobKey{ConnectionID: "c1", ProfileName: "p", JobType: "t"}, Options{StopAfterFailures: 3}, nil)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].Key.ConnectionID)
	assert.Equal(t, 3, list[0].StopAfterFailures)
	assert.Equal(t, 1, list[0].Concurrency)
	assert.Equal(t, 2, list[1].Concurrency)
	assert.Equal(t, StatusRunning, list[1].Status)
}

func TestJob_WaitRunnableBlocksUntilResume(t *testing.T) {
	job := NewJob(testKey("t"), "run", Options{}, nil)
	require.True(t, job.Pause(PauseReasonUser))

	released := make(chan bool, 1)
	go func() { released <- job.waitRunnable(context.Background()) }()

	select {
	case <-released:
		t.Fatal("waitRunnable returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	require.True(t, job.Resume())
	select {
	case ok := <-released:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waitRunnable did not wake on resume")
	}
}

func TestJob_WaitRunnableReturnsFalseOnEnd(t *testing.T) {
	job := NewJob(testKey("t"), "run", Options{}, nil)
	job.Pause(PauseReasonUser)

	released := make(chan bool, 1)
	go func() { released <- job.waitRunnable(context.Background()) }()

	job.End()
	select {
	case ok := <-released:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waitRunnable did not wake on end")
	}
}

func TestJob_RecordOutcomeThreshold(t *testing.T) {
	job := NewJob(testKey("t"), "run", Options{StopAfterFailures: 2}, nil)

	paused, failures := job.recordOutcome(false)
	assert.False(t, paused)
	assert.Equal(t, 1, failures)

	paused, failures = job.recordOutcome(false)
	assert.True(t, paused)
	assert.Equal(t, 2, failures)
	assert.Equal(t, StatusPaused, job.Status())

	// already paused: no second transition
	paused, _ = job.recordOutcome(false)
	assert.False(t, paused)

	job.Resume()
	paused, failures = job.recordOutcome(true)
	assert.False(t, paused)
	assert.Zero(t, failures)
	assert.Zero(t, job.ConsecutiveFailures())
}

func TestJob_NoEventsAfterTerminal(t *testing.T) {
	sink := NewCollector()
	job := NewJob(testKey("t"), "run", Options{}, sink)

	assert.True(t, job.emitTerminal(job.newEvent(EventComplete, nil)))
	assert.False(t, job.emitTerminal(job.newEvent(EventEnded, nil)))
	job.emit(job.newEvent(EventCountdown, nil))

	assert.Equal(t, []string{"bulk_complete"}, eventTypes(sink.Events()))
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("running"))
	assert.True(t, IsValidStatus("paused"))
	assert.True(t, IsValidStatus("ended"))
	assert.False(t, IsValidStatus("completed"))
}
