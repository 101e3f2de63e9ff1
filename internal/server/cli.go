package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/wesm/ctxview/internal/cli"
	"github.com/wesm/ctxview/internal/db"
	"github.com/wesm/ctxview/internal/source"
)

// runTimeout bounds one CLI operation started through the API.
const runTimeout = 10 * time.Minute

type opResponse struct {
	Op          cli.Op        `json:"op"`
	Description string        `json:"description"`
	Invalidates []source.Kind `json:"invalidates"`
}

func (s *Server) handleListOps(
	w http.ResponseWriter, _ *http.Request,
) {
	ops := make([]opResponse, 0, len(cli.Ops))
	for _, def := range cli.Ops {
		inv := def.Invalidates
		if inv == nil {
			inv = []source.Kind{}
		}
		ops = append(ops, opResponse{
			Op:          def.Op,
			Description: def.Description,
			Invalidates: inv,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ops": ops})
}

type runOpRequest struct {
	Args []string `json:"args"`
}

// runOpResponse is the final payload of a CLI run, sent as the
// "done" event or as the JSON body.
type runOpResponse struct {
	OK          bool          `json:"ok"`
	Run         db.Run        `json:"run"`
	Invalidated []source.Kind `json:"invalidated"`
}

// handleRunOp runs one CLI operation against the current layout.
// Clients sending Accept: text/event-stream receive "log" events
// while the process runs and a final "done" event; others get the
// result as a single JSON body.
func (s *Server) handleRunOp(
	w http.ResponseWriter, r *http.Request,
) {
	def, err := cli.LookupOp(r.PathValue("op"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req runOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil &&
		!errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if s.runFunc == nil {
		writeError(w, http.StatusServiceUnavailable,
			"cli not available")
		return
	}
	layout := s.sources.Layout()
	if !layout.Configured() {
		writeErr(w, cli.ErrNoWorkspace)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	if !wantsSSE(r) {
		resp, err := s.runOp(ctx, layout, def, req.Args, nil)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			"streaming not supported")
		return
	}
	stream.SendJSON("status", map[string]string{
		"phase": "running", "op": string(def.Op),
	})

	resp, err := s.runOp(ctx, layout, def, req.Args,
		func(ev cli.LogEvent) { stream.SendJSON("log", ev) },
	)
	if err != nil {
		stream.SendJSON("error", map[string]string{
			"message": err.Error(),
		})
		return
	}
	stream.SendJSON("done", resp)
}

// runOp runs def, records the run and invalidates the sources a
// successful run makes stale. A CLI failure is reported in the
// response; only a failure to record it is returned as an error.
func (s *Server) runOp(
	ctx context.Context, layout source.Layout, def cli.OpDef,
	extra []string, onLog cli.LogFunc,
) (runOpResponse, error) {
	res, runErr := s.runFunc(ctx, layout, def, extra, onLog)
	if errors.Is(runErr, cli.ErrNoWorkspace) {
		return runOpResponse{}, runErr
	}
	if runErr != nil {
		log.Printf("cli %s: %v", def.Op, runErr)
	}

	resp := runOpResponse{
		OK:          runErr == nil,
		Run:         cli.NewRun(res, runErr),
		Invalidated: []source.Kind{},
	}
	if s.db != nil {
		// The request context may already be cancelled; the
		// history row is still written.
		run, err := cli.Record(
			context.WithoutCancel(ctx), s.db, res, runErr,
			s.cfg.RunHistory,
		)
		if err != nil {
			return runOpResponse{}, err
		}
		resp.Run = run
	}

	if runErr == nil && len(def.Invalidates) > 0 {
		s.sources.Invalidate(def.Invalidates...)
		resp.Invalidated = def.Invalidates
	}
	return resp, nil
}

func (s *Server) handleCLIVersion(
	w http.ResponseWriter, r *http.Request,
) {
	if s.versionFunc == nil {
		writeError(w, http.StatusServiceUnavailable,
			"cli not available")
		return
	}
	s.mu.RLock()
	minimum := s.cfg.MinCLIVersion
	s.mu.RUnlock()

	info, err := s.versionFunc(r.Context(), minimum)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"version":   info,
	})
}
