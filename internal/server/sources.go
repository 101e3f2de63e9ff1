package server

import (
	"net/http"

	"github.com/wesm/ctxview/internal/source"
	"github.com/wesm/ctxview/internal/tree"
)

type sourcesResponse struct {
	Configured bool            `json:"configured"`
	Layout     source.Layout   `json:"layout"`
	Sources    []source.Status `json:"sources"`
}

func (s *Server) sourcesSnapshot() sourcesResponse {
	layout := s.sources.Layout()
	resp := sourcesResponse{
		Configured: layout.Configured(),
		Layout:     layout,
		Sources:    []source.Status{},
	}
	for _, src := range s.sources.Sources() {
		resp.Sources = append(resp.Sources, src.Status())
	}
	return resp
}

func (s *Server) handleListSources(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.sourcesSnapshot())
}

// pathSource resolves the {source} path value.
func (s *Server) pathSource(r *http.Request) (*source.Source, error) {
	k, err := source.ParseKind(r.PathValue("source"))
	if err != nil {
		return nil, err
	}
	return s.sources.Source(k)
}

// validRefKinds are the node kinds a client may pass back when
// expanding a node.
var validRefKinds = map[tree.NodeKind]bool{
	"":                      true,
	tree.KindDirectory:      true,
	tree.KindFile:           true,
	tree.KindMultiSession:   true,
	tree.KindSessionVariant: true,
}

type childrenResponse struct {
	Source  source.Kind `json:"source"`
	Path    string      `json:"path"`
	Session string      `json:"session,omitempty"`
	Nodes   []tree.Node `json:"nodes"`
}

func (s *Server) handleChildren(
	w http.ResponseWriter, r *http.Request,
) {
	src, err := s.pathSource(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	q := r.URL.Query()
	ref := source.Ref{
		Path:    q.Get("path"),
		Kind:    tree.NodeKind(q.Get("kind")),
		Session: q.Get("session"),
	}
	if !validRefKinds[ref.Kind] {
		writeError(w, http.StatusBadRequest, "invalid kind: "+string(ref.Kind))
		return
	}

	nodes, err := src.Children(r.Context(), ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	if nodes == nil {
		nodes = []tree.Node{}
	}
	writeJSON(w, http.StatusOK, childrenResponse{
		Source:  src.Def().Kind,
		Path:    ref.Path,
		Session: ref.Session,
		Nodes:   nodes,
	})
}

func (s *Server) handleContent(
	w http.ResponseWriter, r *http.Request,
) {
	src, err := s.pathSource(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	p := q.Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}
	entry, err := src.Content(r.Context(), p, q.Get("session"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRefreshSource(
	w http.ResponseWriter, r *http.Request,
) {
	src, err := s.pathSource(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	src.Invalidate()
	writeJSON(w, http.StatusOK, src.Status())
}

func (s *Server) handleRefreshAll(
	w http.ResponseWriter, _ *http.Request,
) {
	s.sources.InvalidateAll()
	writeJSON(w, http.StatusOK, s.sourcesSnapshot())
}
