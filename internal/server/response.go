package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/wesm/ctxview/internal/cli"
	"github.com/wesm/ctxview/internal/db"
	"github.com/wesm/ctxview/internal/source"
)

// writeJSON writes v as JSON with the given HTTP status code.
// Logs a warning if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encoding response: %v", err)
	}
}

// writeError writes a JSON error response with the given status
// and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonError{Error: msg})
}

// handleContextError detects context.Canceled and
// context.DeadlineExceeded errors, returning true so the
// caller stops processing. It does not write a response:
// the withTimeout middleware answers 503 through
// http.TimeoutHandler, and writing here would race with it.
func handleContextError(_ http.ResponseWriter, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, source.ErrUnknownSource),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, cli.ErrUnknownOp),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cli.ErrNoWorkspace):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with the status statusFor assigns it, unless
// err is a context error.
func writeErr(w http.ResponseWriter, err error) {
	if handleContextError(w, err) {
		return
	}
	writeError(w, statusFor(err), err.Error())
}
