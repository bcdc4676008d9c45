package server

import "net/http"

// setupHTTPRoutes configures all HTTP handlers on the server's own mux
func (s *BulkServer) setupHTTPRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.HandleWebSocket)                            // Job commands in, job events out
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))         // Liveness, job counts, memory
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))         // Active jobs (GET)
	mux.HandleFunc("/api/handlers", s.corsMiddleware(s.HandleHandlers)) // Registered job types (GET)
	mux.HandleFunc("/api/runs/{id}", s.corsMiddleware(s.HandleRun))     // One run with outcomes (GET)
	mux.HandleFunc("/api/runs", s.corsMiddleware(s.HandleRuns))         // Run history (GET)

	s.mux = mux
}

// corsMiddleware adds CORS headers for allowed origins and answers preflight
// requests. Uses the same origin rules as WebSocket upgrades.
func (s *BulkServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.checkOrigin(r) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
