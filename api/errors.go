package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/schema"
)

// DefaultMaxBodyBytes caps request bodies before they reach the validator.
const DefaultMaxBodyBytes = 1 << 20

// statusFor maps an error kind to its HTTP status.
func statusFor(kind generic.Kind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	case generic.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case generic.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case generic.KindUnauthenticated:
		return http.StatusUnauthorized
	case generic.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse. Internal errors are logged
// and their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := statusFor(kind)
	resp := ErrorResponse{Error: kind.String()}

	if kind == generic.KindInternal {
		slog.Default().ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		resp.Details = "internal error"
		writeJSON(w, status, resp)
		return
	}

	resp.Details = err.Error()
	var verr *generic.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads the request body, validates it against shape and decodes
// it into T. On failure the error response has already been written.
func decode[T any](w http.ResponseWriter, r *http.Request, shape schema.Shape, limit int64) (T, bool) {
	var zero T
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, &generic.PayloadTooLargeError{Collection: "request", Limit: int(tooLarge.Limit)})
			return zero, false
		}
		writeError(w, r, generic.NewValidationError("", "unreadable body: %v", err))
		return zero, false
	}
	v, err := schema.Decode[T](body, shape)
	if err != nil {
		writeError(w, r, err)
		return zero, false
	}
	return v, true
}
