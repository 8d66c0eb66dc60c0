package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Name   string `json:"name,omitempty"`
	State  string `json:"state,omitempty"`
	Views  *int   `json:"views,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := d.Hub.Len()
		components := map[string]componentStatus{
			"backend": checkBackend(r.Context(), d),
			"breaker": breakerStatus(d),
			"live":    {OK: true, Views: &views},
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

// determineMode is "offline" when the backend is down, "degraded" while the breaker
// is not closed, "live" otherwise.
func determineMode(components map[string]componentStatus) string {
	if b, ok := components["backend"]; ok && !b.OK {
		return "offline"
	}
	if b, ok := components["breaker"]; ok && !b.OK {
		return "degraded"
	}
	return "live"
}

func checkBackend(parent context.Context, d deps.Deps) componentStatus {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.Backend.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Name:   d.Backend.Name(),
			Impact: "bookmarks-unavailable",
			Error:  err.Error(),
		}
	}
	return componentStatus{OK: true, Name: d.Backend.Name()}
}

func breakerStatus(d deps.Deps) componentStatus {
	if d.BreakerState == nil {
		return componentStatus{OK: true, State: "disabled"}
	}
	state := d.BreakerState()
	s := componentStatus{OK: state == "closed", State: state}
	if !s.OK {
		s.Impact = "remote-calls-short-circuited"
	}
	return s
}
