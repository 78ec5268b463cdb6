package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/snip/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	// Endpoints that write or mint tokens share one limiter.
	limited := chi.Chain()
	if d.RateLimit.Enabled {
		limited = append(limited, mw.RateLimit(mw.RateLimitConfig{
			Burst:        d.RateLimit.Burst,
			RefillPerMin: d.RateLimit.RefillPerMin,
			MaxEntries:   d.RateLimit.MaxEntries,
			TrustProxy:   d.TrustProxy,
		}))
	}

	r.With(append(limited, middleware.NoCache)...).Get("/delete-proxy", handlers.DeleteProxy(d))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limited...)
			r.Post("/shorten", handlers.Shorten(d))
			r.Delete("/shorten", handlers.Unshorten(d))
			r.Get("/token", handlers.Token(d))
		})

		r.Post("/get-url", handlers.GetURL(d))
		r.Post("/get-urls", handlers.GetURLs(d))
	})
}
