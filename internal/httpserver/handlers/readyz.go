package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

type readyzResponse struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Readyz reports whether the store answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		resp := readyzResponse{Ready: true, Backend: d.Backend}
		status := http.StatusOK
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				d.Logger.Warn("readiness check failed",
					logger.String("backend", d.Backend),
					logger.Error(err))
				resp.Ready = false
				resp.Error = "store unreachable"
				status = http.StatusServiceUnavailable
			}
		}

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
