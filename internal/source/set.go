package source

import (
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
)

// EventType names a notification published by a Set.
type EventType string

const (
	// EventRefresh means a source dropped its snapshot and views
	// showing it should re-query.
	EventRefresh EventType = "refresh"
	// EventDiagnostic carries a resource-level load failure or a
	// skipped session document.
	EventDiagnostic EventType = "diagnostic"
)

// Event is delivered to Set subscribers.
type Event struct {
	Type       EventType `json:"type"`
	Source     Kind      `json:"source"`
	Message    string    `json:"message,omitempty"`
	Generation uint64    `json:"generation"`
}

// subscriberBuffer holds events for a slow subscriber. Events past
// the buffer are dropped; a later refresh supersedes them.
const subscriberBuffer = 16

// Set holds one Source per registered kind for the current layout
// and fans their events out to subscribers.
type Set struct {
	mu      gosync.RWMutex
	layout  Layout
	sources map[Kind]*Source
	opts    []Option

	subsMu gosync.Mutex
	subs   map[chan Event]struct{}
}

// NewSet builds sources for layout. opts apply to every source.
func NewSet(layout Layout, opts ...Option) *Set {
	s := &Set{
		opts: opts,
		subs: make(map[chan Event]struct{}),
	}
	s.layout = layout
	s.sources = s.build(layout)
	return s
}

func (s *Set) build(layout Layout) map[Kind]*Source {
	sources := make(map[Kind]*Source, len(Registry))
	for _, def := range Registry {
		opts := append([]Option{WithNotify(s.publish)}, s.opts...)
		sources[def.Kind] = New(def, layout.Location(def.Kind), opts...)
	}
	return sources
}

// Layout returns the current layout.
func (s *Set) Layout() Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// Configure switches to a new layout. All sources are replaced by
// unloaded ones and a refresh is published for each.
func (s *Set) Configure(layout Layout) {
	s.mu.Lock()
	s.layout = layout
	s.sources = s.build(layout)
	s.mu.Unlock()

	for _, def := range Registry {
		s.publish(Event{Type: EventRefresh, Source: def.Kind})
	}
}

// Source returns the source for k.
func (s *Set) Source(k Kind) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[k]
	if !ok {
		return nil, ErrUnknownSource
	}
	return src, nil
}

// Sources returns all sources in registry order.
func (s *Set) Sources() []*Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Source, 0, len(Registry))
	for _, def := range Registry {
		out = append(out, s.sources[def.Kind])
	}
	return out
}

// Invalidate drops the snapshots of the given kinds.
func (s *Set) Invalidate(kinds ...Kind) {
	for _, k := range kinds {
		if src, err := s.Source(k); err == nil {
			src.Invalidate()
		}
	}
}

// InvalidateAll drops every snapshot.
func (s *Set) InvalidateAll() {
	for _, src := range s.Sources() {
		src.Invalidate()
	}
}

// InvalidatePaths routes changed filesystem paths to the sources
// whose documents they touch and invalidates those. Returns the
// invalidated kinds in registry order.
func (s *Set) InvalidatePaths(paths []string) []Kind {
	hit := make(map[Kind]bool)
	for _, src := range s.Sources() {
		loc := src.Location()
		if loc == "" {
			continue
		}
		for _, p := range paths {
			if touches(src.Def(), loc, p) {
				hit[src.Def().Kind] = true
				break
			}
		}
	}

	var kinds []Kind
	for _, def := range Registry {
		if hit[def.Kind] {
			kinds = append(kinds, def.Kind)
		}
	}
	s.Invalidate(kinds...)
	return kinds
}

func touches(def Def, location, path string) bool {
	location = filepath.Clean(location)
	path = filepath.Clean(path)
	if path == location {
		return true
	}
	if !def.Sessions {
		return false
	}
	_, ok := isUnder(location, path)
	return ok
}

// isUnder checks whether path is strictly inside dir after
// cleaning both paths. Returns the relative path on success.
func isUnder(dir, path string) (string, bool) {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	sep := string(filepath.Separator)
	if rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+sep) {
		return "", false
	}
	return rel, true
}

// WatchDirs returns the directories a watcher must observe to see
// every document of the current layout change, including documents
// that do not exist yet. Each entry is the nearest existing
// ancestor of the document's directory.
func (s *Set) WatchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		dir = nearestExisting(dir)
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	for _, src := range s.Sources() {
		loc := src.Location()
		if loc == "" {
			continue
		}
		add(filepath.Dir(loc))
		if src.Def().Sessions {
			add(loc)
		}
	}
	return dirs
}

func nearestExisting(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Subscribe registers for events. The returned cancel func must be
// called to release the subscription.
func (s *Set) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once gosync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Set) publish(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
