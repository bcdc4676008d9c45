package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/internal/util"
	"github.com/teranos/zbulk/pulse/bulk"
)

// WebSocket timeouts, following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer (item lists can be large)
	maxMessageSize = 8 * 1024 * 1024
)

// Client is one WebSocket connection. It is also the bulk.Sink for every job
// it starts, so job events flow back on the connection that asked for them.
type Client struct {
	server    *BulkServer
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{} // Closed when the connection is finished
	id        string
	closeOnce sync.Once
}

// Emit queues a job event. It blocks while the queue is full so results are
// not lost, and gives up once the connection is gone.
func (c *Client) Emit(e bulk.Event) {
	select {
	case c.send <- e:
	case <-c.done:
		c.server.drops.Add(1)
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
			c.close()
			c.server.engine.EndConnection(c.id)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.server.logger.Debugw("Read pump started", "client_id", c.id)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.server.logger.Warnw("JSON unmarshal error",
				"error", err.Error(),
				"client_id", c.id,
			)
			c.sendError(ClientMessage{}, "malformed message: "+err.Error())
			continue
		}

		c.routeMessage(&msg)
	}
}

// handleReadError logs unexpected WebSocket read errors.
// Expected closure codes (going away, abnormal, no status) are silently ignored.
func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseNormalClosure,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.server.logger.Warnw("WebSocket read error",
			"error", err.Error(),
			"client_id", c.id,
		)
	}
}

// routeMessage dispatches incoming WebSocket messages to their handlers
func (c *Client) routeMessage(msg *ClientMessage) {
	switch msg.Type {
	case MsgStartJob:
		c.handleStartJob(msg, false)
	case MsgRestartJob:
		c.handleStartJob(msg, true)
	case MsgJobControl:
		c.handleJobControl(msg)
	case MsgListJobs:
		c.handleListJobs(msg)
	case MsgPing:
		c.sendJSON(PongMessage{Type: "pong", Timestamp: time.Now().Unix()})
	default:
		c.server.logger.Debugw("Unknown message type",
			"type", msg.Type,
			"client_id", c.id,
		)
		c.sendError(*msg, "unknown message type "+msg.Type)
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	c.server.logger.Debugw("Write pump started", "client_id", c.id)

	for {
		select {
		case <-c.server.ctx.Done():
			c.server.logger.Debugw("Write pump stopping due to server shutdown", "client_id", c.id)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warnw("Message write error",
					"error", err.Error(),
					"client_id", c.id,
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) key(msg *ClientMessage) bulk.JobKey {
	return bulk.JobKey{ConnectionID: c.id, ProfileName: msg.ProfileName, JobType: msg.JobType}
}

// handleStartJob starts (or restarts) a job owned by this connection. A
// duplicate start is answered with an error message; other setup failures
// arrive as the job's bulk_error event.
func (c *Client) handleStartJob(msg *ClientMessage, restart bool) {
	req := bulk.StartRequest{
		Key:               c.key(msg),
		Rows:              msg.Items,
		IdentifierField:   msg.IdentifierField,
		Params:            msg.Params,
		Concurrency:       msg.Concurrency,
		StopAfterFailures: msg.StopAfterFailures,
		Countdown:         msg.Countdown,
		ResumeIdentifiers: msg.ResumeIdentifiers,
		ResumeRunID:       msg.ResumeRunID,
		ResumeFromHistory: msg.ResumeFromHistory,
	}
	if msg.DelaySeconds != nil {
		req.Delay = util.Ptr(time.Duration(*msg.DelaySeconds * float64(time.Second)))
	}

	c.server.logger.Infow("Bulk job requested",
		"client_id", c.id,
		"job_key", req.Key.String(),
		"items", len(msg.Items),
		"restart", restart,
	)

	var err error
	if restart {
		_, err = c.server.engine.RestartJob(c.server.ctx, req, c)
	} else {
		_, err = c.server.engine.StartJob(c.server.ctx, req, c)
	}
	if err == nil {
		return
	}
	if errors.Is(err, bulk.ErrDuplicateJob) {
		c.sendError(*msg, err.Error())
		return
	}
	c.server.logger.Debugw("Bulk job rejected",
		"client_id", c.id,
		"job_key", req.Key.String(),
		"error", err,
	)
}

// handleJobControl pauses, resumes or ends one of this connection's jobs.
// Unknown jobs are ignored.
func (c *Client) handleJobControl(msg *ClientMessage) {
	key := c.key(msg)

	var applied bool
	switch msg.Action {
	case ActionPause:
		applied = c.server.engine.PauseJob(key)
	case ActionResume:
		applied = c.server.engine.ResumeJob(key)
	case ActionEnd:
		applied = c.server.engine.EndJob(key)
	default:
		c.server.logger.Warnw("Unknown job control action",
			"action", msg.Action,
			"client_id", c.id,
		)
		c.sendError(*msg, "unknown job control action "+msg.Action)
		return
	}

	c.server.logger.Infow("Job control",
		"action", msg.Action,
		"job_key", key.String(),
		"applied", applied,
	)
}

// handleListJobs reports the jobs this connection owns
func (c *Client) handleListJobs(msg *ClientMessage) {
	jobs := make([]bulk.Snapshot, 0)
	for _, snap := range c.server.engine.Registry().List() {
		if snap.Key.ConnectionID == c.id {
			jobs = append(jobs, snap)
		}
	}
	c.sendJSON(JobsMessage{Type: "jobs", RequestID: msg.RequestID, Jobs: jobs})
}

func (c *Client) sendError(msg ClientMessage, text string) {
	c.sendJSON(ErrorMessage{
		Type:        "error",
		RequestID:   msg.RequestID,
		Command:     msg.Type,
		ProfileName: msg.ProfileName,
		JobType:     msg.JobType,
		Message:     text,
		Timestamp:   time.Now().Unix(),
	})
}

// sendJSON queues a reply, dropping it when the queue is full
func (c *Client) sendJSON(data interface{}) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.server.drops.Add(1)
		c.server.logger.Warnw("Client send channel full, dropping reply",
			"client_id", c.id,
		)
	}
}

// close marks the client finished. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
