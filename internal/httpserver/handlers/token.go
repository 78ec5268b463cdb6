package handlers

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/idgen"
)

type tokenResponse struct {
	Token string `json:"token"`
	Seed  string `json:"seed"`
}

// Token handles GET /api/token. Tokens are never stored, the response is the only copy.
func Token(d deps.Deps) http.HandlerFunc {
	newToken := d.NewToken
	if newToken == nil {
		newToken = idgen.Token
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token, err := newToken()
		if err != nil {
			writeError(w, r, d.Logger, errx.E("handlers.Token", errx.Internal, err))
			return
		}
		seed, err := d.Links.Seed(token)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		render.Status(r, http.StatusOK)
		render.JSON(w, r, tokenResponse{Token: token, Seed: seed})
	}
}
