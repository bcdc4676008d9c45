package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/pulse/bulk"
)

// Config wires a BulkServer
type Config struct {
	Engine         *bulk.Engine // Required
	AllowedOrigins []string     // Origin prefixes; empty allows localhost only
	MaxClients     int          // 0 = MaxClients
	Logger         *zap.SugaredLogger
}

// BulkServer exposes the bulk engine over a WebSocket command/event stream
// and a small read-only HTTP API.
//
// Every WebSocket connection gets its own id, which becomes the
// ConnectionID of every job it starts. When the connection goes away its
// jobs are ended.
type BulkServer struct {
	engine *bulk.Engine
	logger *zap.SugaredLogger

	clients    map[*Client]bool
	maxClients int
	unregister chan *Client
	mu         sync.RWMutex

	originsMu      sync.RWMutex
	allowedOrigins []string

	mux        *http.ServeMux
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	state  atomic.Int32
	drops  atomic.Int64
}

// New creates a server. Call Run (or Start) to begin serving clients.
func New(cfg Config) (*BulkServer, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server requires a bulk engine")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = MaxClients
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BulkServer{
		engine:     cfg.Engine,
		logger:     cfg.Logger.Named("server"),
		clients:    make(map[*Client]bool),
		maxClients: cfg.MaxClients,
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.SetAllowedOrigins(cfg.AllowedOrigins)
	s.state.Store(int32(ServerStateRunning))
	s.setupHTTPRoutes()
	return s, nil
}

// Handler returns the HTTP handler serving /ws and the API routes
func (s *BulkServer) Handler() http.Handler {
	return s.mux
}

// Engine returns the engine commands are sent to
func (s *BulkServer) Engine() *bulk.Engine {
	return s.engine
}

// SetAllowedOrigins replaces the origin allow-list; used on config reload
func (s *BulkServer) SetAllowedOrigins(origins []string) {
	s.originsMu.Lock()
	defer s.originsMu.Unlock()
	s.allowedOrigins = append([]string(nil), origins...)
}

// ClientCount returns the number of connected clients
func (s *BulkServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

var (
	errServerDraining = errors.New("server is shutting down")
	errServerFull     = errors.New("too many clients")
)

// admit registers client and reserves its two pump goroutines on the wait
// group. Both happen under s.mu after the state check, so Stop, which flips
// the state before taking s.mu, never waits while an Add can still happen.
func (s *BulkServer) admit(client *Client) error {
	s.mu.Lock()
	if s.getState() != ServerStateRunning {
		s.mu.Unlock()
		return errServerDraining
	}
	if len(s.clients) >= s.maxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", s.maxClients,
		)
		return errServerFull
	}
	s.clients[client] = true
	s.wg.Add(2)
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", total,
	)
	return nil
}

// handleClientUnregister drops a client and ends every job it owns
func (s *BulkServer) handleClientUnregister(client *Client) {
	s.mu.Lock()
	_, ok := s.clients[client]
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	if !ok {
		return
	}

	ended := s.engine.EndConnection(client.id)
	s.logger.Infow("Client disconnected",
		"client_id", client.id,
		"jobs_ended", ended,
		"total_clients", total,
	)
}

// Run is the hub loop: it owns client departures until the server stops
func (s *BulkServer) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}
