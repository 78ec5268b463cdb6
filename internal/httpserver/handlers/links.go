package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/identity"
	"github.com/MrSnakeDoc/snip/internal/links"
)

type shortenRequest struct {
	URL    string `json:"url" validate:"required,max=8192"`
	Token  string `json:"token,omitempty"`
	Seed   string `json:"seed,omitempty"`
	MaxAge int64  `json:"maxAge,omitempty" validate:"gte=0,lte=315360000"` // seconds, at most ten years
}

type unshortenRequest struct {
	ShortIDs []string `json:"shortIds" validate:"required,min=1,max=100,dive,required,max=64"`
	Seed     string   `json:"seed,omitempty"`
	Token    string   `json:"token,omitempty"`
}

type getURLRequest struct {
	ShortID string `json:"shortId" validate:"required,max=64"`
	Seed    string `json:"seed,omitempty"`
	Token   string `json:"token,omitempty"`
}

type getURLsRequest struct {
	Seed  string `json:"seed,omitempty"`
	Token string `json:"token,omitempty"`
}

type linkResponse struct {
	ShortID        string     `json:"shortId"`
	URL            string     `json:"url,omitempty"`
	FullURL        string     `json:"fullUrl"`
	DeleteProxyURL string     `json:"deleteProxyUrl"`
	Authenticated  bool       `json:"authenticated"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Error          string     `json:"error,omitempty"` // set when url could not be revealed
}

// errDecryptItem marks a listed link the presented token cannot decrypt.
const errDecryptItem = "decryption failed"

type listResponse struct {
	URLs []linkResponse `json:"urls"`
}

type deleteItem struct {
	ShortID string `json:"shortId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type deleteResponse struct {
	Results []deleteItem `json:"results"`
}

func toLinkResponse(l *links.Link, url string) linkResponse {
	return linkResponse{
		ShortID:        l.ShortID,
		URL:            url,
		FullURL:        l.FullURL,
		DeleteProxyURL: l.DeleteProxyURL,
		Authenticated:  l.Authenticated,
		ExpiresAt:      l.ExpiresAt,
	}
}

// ownerSeed resolves the seed from a token, a seed, or both. Both must agree.
func ownerSeed(svc deps.LinkService, token, seed string) (string, error) {
	if token == "" {
		return seed, nil
	}
	derived, err := svc.Seed(token)
	if err != nil {
		return "", err
	}
	if seed != "" && seed != derived {
		return "", errx.E("handlers.ownerSeed", errx.Unauthorized, links.ErrInvalidSeed)
	}
	return derived, nil
}

// reveal decrypts an owned target when the caller holds the token, otherwise returns
// it unchanged for client side decryption.
func reveal(l *links.Link, token string) (string, error) {
	if !l.Authenticated || token == "" {
		return l.Target, nil
	}
	plain, err := identity.Decrypt(l.Target, token)
	if err != nil {
		return "", errx.E("handlers.reveal", errx.Invalid, err)
	}
	return plain, nil
}

// Shorten handles POST /api/shorten.
func Shorten(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shortenRequest
		if !decode(w, r, &req) {
			return
		}

		link, err := d.Links.CreateLink(r.Context(), links.CreateRequest{
			Target: req.URL,
			Token:  req.Token,
			Seed:   req.Seed,
			TTL:    time.Duration(req.MaxAge) * time.Second,
		})
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, toLinkResponse(link, ""))
	}
}

// Unshorten handles DELETE /api/shorten. Item failures are reported per id with 200.
func Unshorten(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unshortenRequest
		if !decode(w, r, &req) {
			return
		}

		seed, err := ownerSeed(d.Links, req.Token, req.Seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		results, err := d.Links.DeleteLinks(r.Context(), req.ShortIDs, seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		writeDeleteResults(w, r, results)
	}
}

func writeDeleteResults(w http.ResponseWriter, r *http.Request, results []links.DeleteResult) {
	resp := deleteResponse{Results: make([]deleteItem, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, deleteItem{
			ShortID: res.ShortID,
			Success: res.Success,
			Error:   string(res.Reason),
		})
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// DeleteProxy handles GET /delete-proxy?id=<id>&token=<token>, the link handed out as
// deleteProxyUrl. A seed may stand in for the token. The body matches DELETE /api/shorten.
func DeleteProxy(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := q.Get("id")
		if id == "" || len(id) > 64 {
			writeJSONError(w, r, http.StatusBadRequest, "validation failed", []validationError{
				{Field: "id", Message: messageForTag("required")},
			})
			return
		}

		seed, err := ownerSeed(d.Links, q.Get("token"), q.Get("seed"))
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		results, err := d.Links.DeleteLinks(r.Context(), []string{id}, seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}
		writeDeleteResults(w, r, results)
	}
}

// GetURL handles POST /api/get-url.
func GetURL(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getURLRequest
		if !decode(w, r, &req) {
			return
		}

		seed, err := ownerSeed(d.Links, req.Token, req.Seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		link, err := d.Links.GetLink(r.Context(), req.ShortID, seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		target, err := reveal(link, req.Token)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, toLinkResponse(link, target))
	}
}

// GetURLs handles POST /api/get-urls.
func GetURLs(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getURLsRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Token == "" && req.Seed == "" {
			writeError(w, r, d.Logger, errx.E("handlers.GetURLs", errx.Invalid, links.ErrSeedRequired))
			return
		}

		seed, err := ownerSeed(d.Links, req.Token, req.Seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		list, err := d.Links.ListLinks(r.Context(), seed)
		if err != nil {
			writeError(w, r, d.Logger, err)
			return
		}

		resp := listResponse{URLs: make([]linkResponse, 0, len(list))}
		for _, l := range list {
			target, err := reveal(l, req.Token)
			if errors.Is(err, identity.ErrDecrypt) {
				// Written by a client with a different key, the owner can still delete it.
				d.Logger.Warnf("cannot decrypt link %s with token %s", l.ShortID, identity.Redact(req.Token))
				item := toLinkResponse(l, "")
				item.Error = errDecryptItem
				resp.URLs = append(resp.URLs, item)
				continue
			}
			if err != nil {
				writeError(w, r, d.Logger, err)
				return
			}
			resp.URLs = append(resp.URLs, toLinkResponse(l, target))
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, resp)
	}
}
