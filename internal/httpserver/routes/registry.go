package routes

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type group struct {
	register Registrar
	mws      []Middleware
}

var groups []group

// Register adds a route group, optionally wrapped in middlewares that apply to every
// route it defines. Called from init() in each routes file.
func Register(reg Registrar, mws ...Middleware) {
	groups = append(groups, group{register: reg, mws: mws})
}

// RegisterAll mounts every group on r. Called once from httpserver.NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range groups {
		if len(g.mws) == 0 {
			g.register(r, d)
			continue
		}
		g.register(r.With(g.mws...), d)
	}

	if d.Logger != nil {
		logRoutes(r, d.Logger)
	}
}

// logRoutes prints the resolved routing table at debug level.
func logRoutes(r chi.Router, log logger.Logger) {
	var lines []string
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		lines = append(lines, method+" "+route)
		return nil
	})
	sort.Strings(lines)
	log.Debug("routes registered",
		logger.Int("count", len(lines)),
		logger.Strings("routes", lines))
}
