package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
)

type healthzResponse struct {
	Status        string  `json:"status"`
	Backend       string  `json:"backend,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version,omitempty"`
	Commit        string  `json:"commit,omitempty"`
	BuildDate     string  `json:"build_date,omitempty"`
	GoVersion     string  `json:"go_version,omitempty"`
}

// Healthz is the liveness probe. It never touches the store, see Readyz for that.
func Healthz(d deps.Deps) http.HandlerFunc {
	build := healthzResponse{
		Status:    "ok",
		Backend:   d.Backend,
		Version:   d.Version,
		Commit:    d.Commit,
		BuildDate: d.BuildDate,
		GoVersion: d.GoVersion,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := build
		resp.UptimeSeconds = time.Since(d.StartTime).Round(time.Millisecond).Seconds()

		w.Header().Set("Cache-Control", "no-store")
		render.Status(r, http.StatusOK)
		render.JSON(w, r, resp)
	}
}
