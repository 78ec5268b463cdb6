package handlers

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/MrSnakeDoc/snip/internal/errx"
	"github.com/MrSnakeDoc/snip/internal/links"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

const statusError = "error"

// validationError represents an individual validation error.
type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status  string            `json:"status"`
	Error   string            `json:"error"`
	Errors  []validationError `json:"errors,omitempty"`
	Request string            `json:"request_id,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure the response is
// already written and false is returned.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "empty request body"
		}
		writeJSONError(w, r, http.StatusBadRequest, msg, nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation failed", validationErrors(err))
		return false
	}
	return true
}

func messageForTag(tag string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "min", "gt", "gte":
		return "value is too small"
	case "max", "lt", "lte":
		return "value is too large"
	default:
		return "invalid value"
	}
}

func validationErrors(err error) []validationError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}
	out := make([]validationError, 0, len(errs))
	for _, e := range errs {
		out = append(out, validationError{Field: e.Field(), Message: messageForTag(e.Tag())})
	}
	return out
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, msg string, fields []validationError) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{
		Status:  statusError,
		Error:   msg,
		Errors:  fields,
		Request: middleware.GetReqID(r.Context()),
	})
}

// statusFor maps an error from the core to a status code and a public message.
// Ownership failures are indistinguishable from absence.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, links.ErrSeedRequired):
		return http.StatusBadRequest, "seed or token is required"
	case errors.Is(err, links.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, links.ErrInvalidSeed):
		return http.StatusUnauthorized, "invalid seed"
	}

	switch errx.KindOf(err) {
	case errx.Invalid:
		return http.StatusBadRequest, errx.Cause(err).Error()
	case errx.Unauthorized, errx.NotFound:
		return http.StatusNotFound, "url not found"
	case errx.Timeout:
		return http.StatusGatewayTimeout, "request took too long, try again"
	case errx.Unavailable:
		return http.StatusServiceUnavailable, "storage unavailable, try again"
	default:
		return http.StatusInternalServerError, "server error occurred"
	}
}

// writeError renders err and logs anything that is not the caller's fault.
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.String("op", errx.OpOf(err)),
			logger.Strings("trace", errx.Trace(err)),
			logger.Error(err))
	}
	writeJSONError(w, r, status, msg, nil)
}
