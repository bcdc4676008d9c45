package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/teranos/zbulk/errors"
)

// getState returns the current server state
func (s *BulkServer) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *BulkServer) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "ok"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Start listens on addr and serves until Stop. Returns nil after a clean
// shutdown.
func (s *BulkServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ln)
}

// Serve runs the hub and serves HTTP on ln until Stop
func (s *BulkServer) Serve(ln net.Listener) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Infow("Server ready",
		"address", ln.Addr().String(),
		"url", "ws://"+ln.Addr().String()+"/ws",
	)

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop drains the server: new connections are refused, jobs are ended,
// client connections are closed and goroutines are awaited until ctx
// expires.
func (s *BulkServer) Stop(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	s.mu.RLock()
	httpServer := s.httpServer
	s.mu.RUnlock()
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnw("HTTP shutdown incomplete", "error", err)
		}
	}

	// Jobs first, so their bulk_ended events reach clients that are still
	// connected
	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Warnw("Bulk engine shutdown incomplete", "error", err)
	}

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()

	s.cancel()

	if len(clients) > 0 {
		s.logger.Infow("Closing client connections", "count", len(clients))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "server shutdown timed out")
		s.logger.Warnw("Goroutine shutdown timed out")
	}

	for _, client := range clients {
		client.conn.Close()
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "dropped_messages", s.drops.Load())
	return err
}
