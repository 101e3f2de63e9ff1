package server

import (
	"net/http"
	"strconv"

	"github.com/wesm/ctxview/internal/cli"
	"github.com/wesm/ctxview/internal/db"
)

func (s *Server) handleListRuns(
	w http.ResponseWriter, r *http.Request,
) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []db.Run{}})
		return
	}
	q := r.URL.Query()

	op := q.Get("op")
	if op != "" {
		if _, err := cli.LookupOp(op); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	limit := db.DefaultRunLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > db.MaxRunLimit {
			writeError(w, http.StatusBadRequest,
				"limit must be 1-"+strconv.Itoa(db.MaxRunLimit))
			return
		}
		limit = n
	}

	runs, err := s.db.ListRuns(r.Context(), op, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(
	w http.ResponseWriter, r *http.Request,
) {
	if s.db == nil {
		writeErr(w, db.ErrNotFound)
		return
	}
	run, err := s.db.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
