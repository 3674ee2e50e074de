package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/n0madic/go-poisson-lognormal/optim"
	"github.com/n0madic/go-poisson-lognormal/pln"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: status})
}

// statusFor maps fit errors to HTTP status codes. Bad input is the
// client's fault; a model that breaks down numerically during the run is
// reported as unprocessable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pln.ErrNotPositiveDefinite), errors.Is(err, optim.ErrObjective):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pln.ErrData),
		errors.Is(err, pln.ErrShape),
		errors.Is(err, pln.ErrVariant),
		errors.Is(err, optim.ErrConfig),
		errors.Is(err, errRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
