package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

// Redirect handles GET /{shortId}. Owned links need ?token= so the target can be decrypted.
func Redirect(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "shortId")
		token := r.URL.Query().Get("token")

		seed, err := ownerSeed(d.Links, token, "")
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		link, err := d.Links.GetLink(r.Context(), id, seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		target, err := reveal(link, token)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		d.Logger.Debug("redirect",
			logger.String("short_id", id),
			logger.Bool("authenticated", link.Authenticated))

		w.Header().Set("Referrer-Policy", "no-referrer")
		http.Redirect(w, r, target, http.StatusFound)
	}
}
