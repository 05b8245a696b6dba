package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/femildignizant/tambola/internal/tambola"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string       `json:"error"`
	Code  tambola.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeCodeError(w http.ResponseWriter, status int, code tambola.Code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// statusFor maps a rejection code to its HTTP status. Game-state
// preconditions are 400, lost races are 409.
func statusFor(code tambola.Code) int {
	switch code {
	case tambola.CodeNotFound, tambola.CodeNoTicket:
		return http.StatusNotFound
	case tambola.CodeUnauthorized, tambola.CodePlayerNotFound:
		return http.StatusForbidden
	case tambola.CodeConcurrentUpdate, tambola.CodeContendedRetry, tambola.CodeJustClaimed,
		tambola.CodeEmailTaken:
		return http.StatusConflict
	case tambola.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeServiceError writes a game service error. Anything that is not a
// rejection is logged and hidden behind a generic body.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := tambola.CodeOf(err)
	if code == tambola.CodeInternal {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeCodeError(w, http.StatusInternalServerError, tambola.CodeInternal, "internal error")
		return
	}
	var e *tambola.Error
	errors.As(err, &e)
	writeCodeError(w, statusFor(code), code, e.Message)
}
