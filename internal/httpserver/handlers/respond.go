package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// remoteStatus maps a backend error to the status returned to the browser.
func remoteStatus(err error) int {
	switch {
	case errors.Is(err, remote.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, remote.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// remoteCtx bounds a single remote call by the configured timeout.
func remoteCtx(parent context.Context, d deps.Deps) (context.Context, context.CancelFunc) {
	if d.RemoteTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d.RemoteTimeout)
}
