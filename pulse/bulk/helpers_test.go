package bulk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// createTestLogger creates a no-op logger for testing
func createTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testKey(jobType string) JobKey {
	return JobKey{ConnectionID: "conn-1", ProfileName: "acme", JobType: jobType}
}

func itemsOf(ids ...string) []Item {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{Row: i + 1, Identifier: id, Data: map[string]any{"email": id}}
	}
	return items
}

// scriptedProcessor fails the identifiers it is told to fail, records call
// order and tracks the highest number of concurrent calls.
type scriptedProcessor struct {
	fail  map[string]bool
	delay time.Duration

	mu       sync.Mutex
	calls    []string
	inFlight int32
	maxSeen  int32
}

func newScripted(fail ...string) *scriptedProcessor {
	p := &scriptedProcessor{fail: make(map[string]bool)}
	for _, id := range fail {
		p.fail[id] = true
	}
	return p
}

func (p *scriptedProcessor) Process(ctx context.Context, item Item) Outcome {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&p.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&p.maxSeen, seen, n) {
			break
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, item.Identifier)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return FailedWithError(item, ctx.Err())
		}
	}

	if p.fail[item.Identifier] {
		return Failed(item, FailureHTTP, "remote rejected "+item.Identifier)
	}
	return Succeeded(item, "created "+item.Identifier, nil)
}

func (p *scriptedProcessor) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *scriptedProcessor) MaxConcurrent() int {
	return int(atomic.LoadInt32(&p.maxSeen))
}

// eventTypes flattens a stream into its types, with results as "bulk_result:<id>"
func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e.Type)
		if e.Type == EventItemResult && e.Result != nil {
			out[i] += ":" + e.Result.Identifier
		}
	}
	return out
}

func resultIDs(events []Event) []string {
	var ids []string
	for _, e := range events {
		if e.Type == EventItemResult {
			ids = append(ids, e.Result.Identifier)
		}
	}
	return ids
}

func terminalCount(events []Event) int {
	n := 0
	for _, e := range events {
		if e.Type.IsTerminal() {
			n++
		}
	}
	return n
}

// startRun registers a job and runs it in the background
func startRun(t *testing.T, reg *Registry, opts Options, items []Item, proc Processor, ropts ...RunnerOption) (*Job, *Collector, <-chan Summary) {
	t.Helper()
	sink := NewCollector()
	job, err := reg.Create(testKey("test.items.create"), opts, sink)
	require.NoError(t, err)

	runner := NewRunner(createTestLogger(), ropts...)
	done := make(chan Summary, 1)
	go func() {
		done <- runner.Run(context.Background(), job, items, proc)
	}()
	return job, sink, done
}

func waitSummary(t *testing.T, done <-chan Summary) Summary {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return Summary{}
	}
}

// fakeRecorder records calls in memory
type fakeRecorder struct {
	mu       sync.Mutex
	begun    []RunRecord
	outcomes []Outcome
	finished map[string]RunStatus
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{finished: make(map[string]RunStatus)}
}

func (r *fakeRecorder) BeginRun(_ context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, run)
	return nil
}

func (r *fakeRecorder) RecordOutcome(_ context.Context, _ string, _ JobKey, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, runID string, status RunStatus, _ Summary, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[runID] = status
	return nil
}

func (r *fakeRecorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}
