package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/zbulk/pulse/bulk"
	"github.com/teranos/zbulk/version"
)

// HandleWebSocket upgrades the connection and starts the client's pumps
func (s *BulkServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Warnw("WebSocket upgrade failed",
			"error", err.Error(),
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan interface{}, MaxClientMessageQueueSize),
		done:   make(chan struct{}),
		id:     uuid.NewString(),
	}

	// Rejected before any pump runs, so no job can start on this connection
	if err := s.admit(client); err != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	// Sent before writePump starts, so there is a single writer
	info := version.Get()
	hello := HelloMessage{
		Type:     "hello",
		ClientID: client.id,
		Version:  info.Version,
		Commit:   info.Short(),
		JobTypes: s.engine.Handlers().Names(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		s.logger.Debugw("Failed to send hello",
			"client_id", client.id,
			"error", err,
		)
	}

	// admit has already added both pumps to s.wg
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// HandleHealth reports liveness, job counts and host memory
func (s *BulkServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	info := version.Get()

	health := map[string]interface{}{
		"status":      stateString(s.getState()),
		"version":     info.Version,
		"commit":      info.CommitHash,
		"build_time":  info.BuildTime,
		"clients":     s.ClientCount(),
		"active_jobs": s.engine.Registry().Len(),
		"dropped":     s.drops.Load(),
	}
	if mem, err := memoryStats(); err != nil {
		s.logger.Debugw("Memory stats unavailable", "error", err)
	} else {
		health["memory"] = mem
	}

	writeJSON(w, http.StatusOK, health)
}

// HandleJobs lists every active job across connections
func (s *BulkServer) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.engine.Registry().List(),
	})
}

// HandleHandlers lists the registered job types
func (s *BulkServer) HandleHandlers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"handlers": s.engine.Handlers().Describe(),
	})
}

// HandleRuns serves run history. Query parameters:
//   - profile: only runs for this profile
//   - job_type: only runs of this job type
//   - status: only runs in this status
//   - limit: at most this many runs (default 50)
func (s *BulkServer) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	store := s.engine.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := bulk.RunFilter{
		ProfileName: q.Get("profile"),
		JobType:     q.Get("job_type"),
		Status:      bulk.RunStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, 500)
	}

	runs, err := store.ListRuns(r.Context(), filter)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// HandleRun serves one run with its item outcomes: GET /api/runs/{id}
func (s *BulkServer) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	store := s.engine.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	id := r.PathValue("id")
	run, err := store.GetRun(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get run "+shortID(id), http.StatusInternalServerError)
		return
	}
	outcomes, err := store.ListOutcomes(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list outcomes for run "+shortID(id), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run, "outcomes": outcomes})
}
