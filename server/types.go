package server

import (
	"time"

	"github.com/teranos/zbulk/pulse/bulk"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout is how long Stop waits for goroutines and running jobs
	ShutdownTimeout = 30 * time.Second
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// Inbound message types
const (
	MsgStartJob   = "start_job"
	MsgRestartJob = "restart_job"
	MsgJobControl = "job_control"
	MsgListJobs   = "list_jobs"
	MsgPing       = "ping"
)

// Job control actions
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionEnd    = "end"
)

// ClientMessage is a command from a WebSocket client
type ClientMessage struct {
	Type      string `json:"type"`                 // start_job, restart_job, job_control, list_jobs, ping
	RequestID string `json:"request_id,omitempty"` // Echoed in error replies

	ProfileName string `json:"profile_name"`
	JobType     string `json:"job_type"`
	Action      string `json:"action"` // job_control: pause, resume, end

	// start_job / restart_job
	Items             []map[string]any `json:"items"`
	IdentifierField   string           `json:"identifier_field"`
	Params            map[string]any   `json:"params"`
	Concurrency       int              `json:"concurrency"`
	DelaySeconds      *float64         `json:"delay_seconds"`
	StopAfterFailures *int             `json:"stop_after_failures"`
	Countdown         *bool            `json:"countdown"`
	ResumeIdentifiers []string         `json:"resume_identifiers"`
	ResumeRunID       string           `json:"resume_run_id"`
	ResumeFromHistory bool             `json:"resume_from_history"`
}

// ErrorMessage reports a rejected command. Setup failures of an accepted
// start are reported as the job's bulk_error event instead.
type ErrorMessage struct {
	Type        string `json:"type"` // "error"
	RequestID   string `json:"request_id,omitempty"`
	Command     string `json:"command,omitempty"`
	ProfileName string `json:"profile_name,omitempty"`
	JobType     string `json:"job_type,omitempty"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

// JobsMessage answers list_jobs with the client's own jobs
type JobsMessage struct {
	Type      string          `json:"type"` // "jobs"
	RequestID string          `json:"request_id,omitempty"`
	Jobs      []bulk.Snapshot `json:"jobs"`
}

// PongMessage answers ping
type PongMessage struct {
	Type      string `json:"type"` // "pong"
	Timestamp int64  `json:"timestamp"`
}

// HelloMessage is sent once on connect, before any job traffic
type HelloMessage struct {
	Type     string   `json:"type"` // "hello"
	ClientID string   `json:"client_id"`
	Version  string   `json:"version"`
	Commit   string   `json:"commit"`
	JobTypes []string `json:"job_types"`
}
