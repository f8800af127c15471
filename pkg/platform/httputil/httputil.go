// Package httputil maps domain errors onto HTTP responses and keeps JSON
// writing in one place.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "meridian/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status. Encoding
// failures are swallowed; the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the coded-error response body. Internal failures keep
// their detail out of the response; everything else carries the message so
// callers can act on it.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodeTimeout {
		body["error_description"] = err.Error()
	}
	WriteJSON(w, StatusFor(code), body)
}
