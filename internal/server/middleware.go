package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// jsonError is the body of every error response.
type jsonError struct {
	Error string `json:"error"`
}

// timeoutBody is the JSON written when a handler exceeds the
// configured write timeout.
var timeoutBody = func() string {
	b, _ := json.Marshal(jsonError{Error: "request timed out"})
	return string(b)
}()

// withTimeout bounds a short-lived handler by cfg.WriteTimeout.
// Timed-out requests receive a 503 with a JSON body.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	inner := h
	if s.handlerDelay > 0 {
		delay := s.handlerDelay
		inner = func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			h(w, r)
		}
	}

	handler := http.TimeoutHandler(inner, s.cfg.WriteTimeout, timeoutBody)

	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(&contentTypeWrapper{
				ResponseWriter: w,
				contentType:    "application/json",
				triggerStatus:  http.StatusServiceUnavailable,
			}, r)
		},
	)
}

// contentTypeWrapper sets a Content-Type on responses with
// triggerStatus that do not already carry one.
type contentTypeWrapper struct {
	http.ResponseWriter
	contentType   string
	triggerStatus int
	wroteHeader   bool
}

func (w *contentTypeWrapper) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	h := w.ResponseWriter.Header()
	if code == w.triggerStatus && h.Get("Content-Type") == "" {
		h.Set("Content-Type", w.contentType)
	}
	w.ResponseWriter.WriteHeader(code)
	w.wroteHeader = true
}

func (w *contentTypeWrapper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
