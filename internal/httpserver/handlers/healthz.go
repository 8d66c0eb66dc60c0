package handlers

import (
	"net/http"
	"runtime"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
)

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version,omitempty"`
	Backend       string  `json:"backend"`
	GoVersion     string  `json:"go_version"`
}

// Healthz reports liveness only; it never touches the backend.
func Healthz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthzResponse{
			Status:        "ok",
			UptimeSeconds: d.Now().Sub(d.StartTime).Seconds(),
			Version:       d.Version,
			Backend:       d.Backend.Name(),
			GoVersion:     runtime.Version(),
		})
	}
}
