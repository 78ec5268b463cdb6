package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/httpserver/handlers"
)

// Redirect targets can be deleted or expire, so browsers must not cache them.
func init() { Register(registerRedirect, middleware.NoCache) }

func registerRedirect(r chi.Router, d deps.Deps) {
	r.Get("/{shortId}", handlers.Redirect(d))
}
