package server

import (
	"net/http"
	"time"

	"github.com/wesm/ctxview/internal/metrics"
)

// handleEvents streams source notifications. The first event,
// "ready", carries the current source list and is sent once the
// subscription is in place; refresh and diagnostic events follow
// as sources change.
func (s *Server) handleEvents(
	w http.ResponseWriter, r *http.Request,
) {
	events, cancel := s.sources.Subscribe()
	defer cancel()

	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			"streaming not supported")
		return
	}
	metrics.SSEClientConnected()
	defer metrics.SSEClientDisconnected()

	if !stream.SendJSON("ready", s.sourcesSnapshot()) {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdown:
			stream.ForceWriteDeadlineNow()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !stream.SendJSON(string(ev.Type), ev) {
				return
			}
		case <-heartbeat.C:
			if !stream.Comment("heartbeat") {
				return
			}
		}
	}
}
