// Package source owns the cached document snapshots behind each
// tree view: it loads them on first use, answers expansion queries
// against the snapshot, and drops them when the documents change.
package source

import (
	"context"
	"errors"
	"log"
	"strconv"
	gosync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wesm/ctxview/internal/document"
	"github.com/wesm/ctxview/internal/metrics"
	"github.com/wesm/ctxview/internal/tree"
)

// ErrNotFound is returned by Content for a path with no entry.
var ErrNotFound = errors.New("entry not found")

// Loader reads the entries behind a source location. warnings
// describe parts that were skipped; err is a resource-level
// failure that leaves the snapshot empty.
type Loader func(location string) (
	entries []tree.Entry, warnings []error, err error,
)

func loadFile(location string) ([]tree.Entry, []error, error) {
	entries, err := document.ReadFile(location)
	return entries, nil, err
}

// DefaultLoader returns the loader matching def's document layout.
func DefaultLoader(def Def) Loader {
	if def.Sessions {
		return document.ReadSessionDir
	}
	return loadFile
}

// Snapshot is one immutable load result. It is replaced whole on
// reload and never mutated once published.
type Snapshot struct {
	Entries    []tree.Entry
	Sessions   tree.SessionIndex
	Err        error
	Warnings   []error
	Collisions []string
	LoadedAt   time.Time
	Generation uint64
}

// Ref addresses a node to expand. Kind is the kind reported for the
// node by a previous Children call ("" for the root).
type Ref struct {
	Path    string
	Kind    tree.NodeKind
	Session string
}

// Status summarizes a source without forcing a load.
type Status struct {
	Source      Kind     `json:"source"`
	DisplayName string   `json:"display_name"`
	Location    string   `json:"location"`
	Configured  bool     `json:"configured"`
	Loaded      bool     `json:"loaded"`
	Entries     int      `json:"entries"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	LoadedAt    string   `json:"loaded_at,omitempty"`
	Generation  uint64   `json:"generation"`
}

// Source serves one document's tree from a cached snapshot.
type Source struct {
	def      Def
	location string
	load     Loader
	notify   func(Event)

	sf singleflight.Group

	mu   gosync.RWMutex
	snap *Snapshot
	gen  uint64
}

// Option configures a Source.
type Option func(*Source)

// WithLoader replaces the document loader, allowing tests to
// substitute a stub.
func WithLoader(l Loader) Option {
	return func(s *Source) {
		if l != nil {
			s.load = l
		}
	}
}

// WithNotify sets the callback receiving refresh and diagnostic
// events.
func WithNotify(f func(Event)) Option {
	return func(s *Source) { s.notify = f }
}

// New creates an unloaded source for def. An empty location is the
// unconfigured state.
func New(def Def, location string, opts ...Option) *Source {
	s := &Source{
		def:      def,
		location: location,
		load:     DefaultLoader(def),
		notify:   func(Event) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Def returns the source definition.
func (s *Source) Def() Def { return s.def }

// Location returns the document path, or "" when unconfigured.
func (s *Source) Location() string { return s.location }

// Snapshot returns the cached snapshot, loading it first when the
// source is unloaded. Concurrent callers share one in-flight load.
// The only error is ctx's.
func (s *Source) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	snap, gen := s.snap, s.gen
	s.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	ch := s.sf.DoChan(
		strconv.FormatUint(gen, 10),
		func() (any, error) { return s.loadAndStore(gen), nil },
	)
	select {
	case r := <-ch:
		return r.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// loadAndStore reads the document and installs the result as the
// cached snapshot unless an invalidation happened meanwhile.
func (s *Source) loadAndStore(gen uint64) *Snapshot {
	start := time.Now()
	snap := &Snapshot{Generation: gen}
	result := "empty"

	if s.location != "" {
		entries, warnings, err := s.load(s.location)
		switch {
		case err != nil:
			snap.Err = err
			result = "error"
		default:
			snap.Entries = entries
			snap.Warnings = warnings
			if len(entries) > 0 {
				result = "ok"
			}
		}
	}
	if s.def.Sessions {
		snap.Sessions = tree.IndexSessions(snap.Entries)
	}
	snap.Collisions = tree.Collisions(snap.Entries)
	snap.LoadedAt = time.Now()
	metrics.RecordSourceLoad(string(s.def.Kind), result, time.Since(start))

	s.mu.Lock()
	installed := s.gen == gen && s.snap == nil
	if installed {
		s.snap = snap
	}
	s.mu.Unlock()

	if installed {
		metrics.SetSourceEntries(string(s.def.Kind), len(snap.Entries))
		s.report(snap)
	}
	return snap
}

// report logs and publishes the diagnostics of a freshly installed
// snapshot, once per load.
func (s *Source) report(snap *Snapshot) {
	kind := string(s.def.Kind)
	if len(snap.Collisions) > 0 {
		log.Printf(
			"source: %s: %d path(s) are both file and directory,"+
				" showing as directories: %v",
			kind, len(snap.Collisions), snap.Collisions,
		)
	}
	if snap.Err != nil {
		log.Printf("source: %s: load failed: %v", kind, snap.Err)
		s.notify(Event{
			Type:       EventDiagnostic,
			Source:     s.def.Kind,
			Message:    snap.Err.Error(),
			Generation: snap.Generation,
		})
	}
	for _, w := range snap.Warnings {
		log.Printf("source: %s: skipped document: %v", kind, w)
		s.notify(Event{
			Type:       EventDiagnostic,
			Source:     s.def.Kind,
			Message:    w.Error(),
			Generation: snap.Generation,
		})
	}
}

// Invalidate drops the cached snapshot so the next query reloads,
// and publishes a refresh event.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.gen++
	s.snap = nil
	gen := s.gen
	s.mu.Unlock()

	metrics.RecordInvalidation(string(s.def.Kind))
	s.notify(Event{
		Type:       EventRefresh,
		Source:     s.def.Kind,
		Generation: gen,
	})
}

// Children answers one expansion request.
//   - Kind multi_session expands the session variants of Path.
//   - A non-empty Session lists Path within that session only.
//   - Otherwise Path is listed across the whole snapshot, with
//     session grouping applied for the session-aware source.
func (s *Source) Children(
	ctx context.Context, ref Ref,
) ([]tree.Node, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var nodes []tree.Node
	switch {
	case ref.Kind == tree.KindMultiSession:
		nodes = tree.SessionVariants(ref.Path, snap.Sessions)
	case ref.Session != "":
		nodes = tree.Children(
			ref.Path, snap.Entries,
			tree.Options{Session: ref.Session},
		)
		label := snap.Sessions.Label(ref.Session)
		for i := range nodes {
			nodes[i].Label = label
		}
	default:
		nodes = tree.Children(ref.Path, snap.Entries, tree.Options{})
		if s.def.Sessions {
			nodes = tree.Group(nodes, snap.Sessions)
		}
	}

	for i := range nodes {
		nodes[i].Source = string(s.def.Kind)
	}
	return nodes, nil
}

// Content returns the entry at path, scoped to session when set.
func (s *Source) Content(
	ctx context.Context, path, session string,
) (tree.Entry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return tree.Entry{}, err
	}
	e, ok := tree.Lookup(snap.Entries, path, session)
	if !ok {
		return tree.Entry{}, ErrNotFound
	}
	return e, nil
}

// Status reports the source's current state without loading it.
func (s *Source) Status() Status {
	s.mu.RLock()
	snap, gen := s.snap, s.gen
	s.mu.RUnlock()

	st := Status{
		Source:      s.def.Kind,
		DisplayName: s.def.DisplayName,
		Location:    s.location,
		Configured:  s.location != "",
		Generation:  gen,
	}
	if snap == nil {
		return st
	}
	st.Loaded = true
	st.Entries = len(snap.Entries)
	st.LoadedAt = snap.LoadedAt.Format(time.RFC3339)
	if snap.Err != nil {
		st.Error = snap.Err.Error()
	}
	for _, w := range snap.Warnings {
		st.Warnings = append(st.Warnings, w.Error())
	}
	return st
}
