package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/zbulk/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeWrappedError logs err with context and writes it as a JSON error.
// Sentinel errors pick the status: not found → 404, invalid request → 400,
// conflict → 409; anything else uses fallback.
func writeWrappedError(w http.ResponseWriter, logger *zap.SugaredLogger, err error, context string, fallback int) {
	status := fallback
	switch {
	case errors.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		status = http.StatusBadRequest
	case errors.IsConflictError(err):
		status = http.StatusConflict
	}

	wrapped := errors.Wrap(err, context)
	if status >= 500 {
		logger.Errorw(context, "error", err)
	} else {
		logger.Debugw(context, "error", err, "status", status)
	}
	writeError(w, status, wrapped.Error())
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
