package bulk

import (
	"sync"
	"time"
)

// EventType names the events a job emits
type EventType string

const (
	EventItemResult EventType = "bulk_result"
	EventJobPaused  EventType = "job_paused"
	EventJobResumed EventType = "job_resumed"
	EventCountdown  EventType = "job_countdown"
	EventComplete   EventType = "bulk_complete"
	EventEnded      EventType = "bulk_ended"
	EventError      EventType = "bulk_error"
)

// IsTerminal reports whether t closes a job's event stream
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventEnded || t == EventError
}

// Event is everything a job tells the outside world
type Event struct {
	Type        EventType `json:"type"`
	JobType     string    `json:"job_type"`
	ProfileName string    `json:"profile_name"`
	RunID       string    `json:"run_id,omitempty"`
	Result      *Outcome  `json:"result,omitempty"`   // bulk_result
	Reason      string    `json:"reason,omitempty"`   // job_paused
	Failures    int       `json:"failures,omitempty"` // job_paused
	Seconds     int       `json:"seconds,omitempty"`  // job_countdown
	Message     string    `json:"message,omitempty"`  // bulk_error
	Summary     *Summary  `json:"summary,omitempty"`  // terminal events
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives a job's events. Calls for one job are serialized.
//
// Emit runs under the job's event lock. It may end the job, but pausing or
// resuming the same job from inside Emit deadlocks; hand that off to another
// goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// MultiSink fans an event out to several sinks in order
type MultiSink []Sink

// Emit forwards e to every non-nil sink
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Collector keeps every event it receives. Used by tests and by the
// headless CLI to build its final report.
type Collector struct {
	mu       sync.Mutex
	events   []Event
	terminal chan struct{}
	once     sync.Once
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{terminal: make(chan struct{})}
}

// Emit records e and, for terminal events, releases Wait
func (c *Collector) Emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()

	if e.Type.IsTerminal() {
		c.once.Do(func() { close(c.terminal) })
	}
}

// Events returns a copy of everything received so far
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns the received events of type t
func (c *Collector) OfType(t EventType) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Terminal is closed after the first terminal event
func (c *Collector) Terminal() <-chan struct{} {
	return c.terminal
}

// Wait blocks until a terminal event arrives or timeout elapses.
// Returns false on timeout.
func (c *Collector) Wait(timeout time.Duration) bool {
	select {
	case <-c.terminal:
		return true
	case <-time.After(timeout):
		return false
	}
}
