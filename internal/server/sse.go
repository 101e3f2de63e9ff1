package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	sseWriteTimeout = 3 * time.Second
	// sseHeartbeat is how often an idle event stream writes a
	// comment line so proxies keep the connection open.
	sseHeartbeat = 30 * time.Second
)

// SSEStream manages a Server-Sent Events connection. Its methods
// may be called from several goroutines; frames are never interleaved.
type SSEStream struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// NewSSEStream sets the event-stream headers and flushes them.
// It fails if w cannot stream.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSEStream{w: w, f: f}, nil
}

// write sends one frame under a bounded write deadline so a stalled
// client cannot block the handler.
func (s *SSEStream) write(label, frame string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc := http.NewResponseController(s.w)
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()

	if _, err := fmt.Fprint(s.w, frame); err != nil {
		log.Printf("SSE write error for %q: %v", label, err)
		return false
	}
	s.f.Flush()
	return true
}

// Send writes an event with the given name and string data.
// It returns false when the write fails.
func (s *SSEStream) Send(event, data string) bool {
	return s.write(event, fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// SendJSON writes an event with JSON-serialized data.
func (s *SSEStream) SendJSON(event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("SSE marshal error for %q: %v", event, err)
		return false
	}
	return s.Send(event, string(data))
}

// Comment writes an SSE comment line, ignored by clients.
func (s *SSEStream) Comment(text string) bool {
	return s.write("comment", ": "+text+"\n\n")
}

// ForceWriteDeadlineNow expires write deadlines immediately to
// unblock a stalled write during shutdown.
func (s *SSEStream) ForceWriteDeadlineNow() {
	rc := http.NewResponseController(s.w)
	_ = rc.SetWriteDeadline(time.Now())
}

// wantsSSE reports whether the client asked for an event stream.
func wantsSSE(r *http.Request) bool {
	return r.Header.Get("Accept") == "text/event-stream"
}
