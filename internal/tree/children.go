// Package tree reconstructs a lazily expanded directory tree from a
// flat list of relative file paths. Nothing here holds state: every
// function is a pass over the entry snapshot it is given, and node
// identity is the normalized path string.
package tree

import (
	"sort"
	"strings"
)

// NodeKind classifies a node returned by Children.
type NodeKind string

const (
	KindFile           NodeKind = "file"
	KindDirectory      NodeKind = "directory"
	KindMultiSession   NodeKind = "multi_session"
	KindSessionVariant NodeKind = "session_variant"
)

// Node is one immediate child of an expanded node.
type Node struct {
	Name    string   `json:"name" yaml:"name"`
	Path    string   `json:"path" yaml:"path"`
	IsLeaf  bool     `json:"is_leaf" yaml:"is_leaf"`
	Kind    NodeKind `json:"kind" yaml:"kind"`
	Source  string   `json:"source,omitempty" yaml:"source,omitempty"`
	Session string   `json:"session,omitempty" yaml:"session,omitempty"`
	Label   string   `json:"label,omitempty" yaml:"label,omitempty"`

	// HasEntry marks a directory whose own path is also a complete
	// entry. The directory interpretation wins; the entry's content
	// stays reachable through Lookup.
	HasEntry bool `json:"has_entry,omitempty" yaml:"has_entry,omitempty"`
}

// Options narrows a Children call.
type Options struct {
	// Session, when set, drops every entry from another session
	// before the prefix filter runs.
	Session string
}

type childAgg struct {
	leaf bool
	dir  bool
}

// Children returns the immediate children of prefix, sorted by name
// with no duplicates. A child is a leaf when nothing remains after
// its name. When a name is a leaf for one entry and a directory for
// another, it is returned as a directory with HasEntry set.
func Children(
	prefix string, entries []Entry, opts Options,
) []Node {
	prefix, ok := normalizePrefix(prefix)
	if !ok {
		return nil
	}

	agg := make(map[string]*childAgg)
	for _, e := range entries {
		if opts.Session != "" && e.Session != opts.Session {
			continue
		}
		p, ok := Normalize(e.Path)
		if !ok {
			continue
		}
		rest := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rest = p[len(prefix)+1:]
		}
		name, _, more := strings.Cut(rest, "/")
		a, ok := agg[name]
		if !ok {
			a = &childAgg{}
			agg[name] = a
		}
		if more {
			a.dir = true
		} else {
			a.leaf = true
		}
	}

	nodes := make([]Node, 0, len(agg))
	for name, a := range agg {
		n := Node{
			Name:    name,
			Path:    join(prefix, name),
			Session: opts.Session,
		}
		if a.dir {
			n.Kind = KindDirectory
			n.HasEntry = a.leaf
		} else {
			n.Kind = KindFile
			n.IsLeaf = true
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name < nodes[j].Name
	})
	return nodes
}

// Collisions lists every normalized path that is both a complete
// entry and a strict prefix of another entry, sorted.
func Collisions(entries []Entry) []string {
	paths := make(map[string]bool, len(entries))
	for _, e := range entries {
		if p, ok := Normalize(e.Path); ok {
			paths[p] = true
		}
	}
	var out []string
	for p := range paths {
		for dir := parentOf(p); dir != ""; dir = parentOf(dir) {
			if paths[dir] {
				out = append(out, dir)
			}
		}
	}
	sort.Strings(out)
	return dedupSorted(out)
}

func parentOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

func dedupSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// Walk expands every directory from the root and returns the full
// paths of all leaves plus every directory carrying HasEntry,
// sorted. For any entry set it reproduces the set of valid entry
// paths.
func Walk(entries []Entry, opts Options) []string {
	var out []string
	var visit func(prefix string)
	visit = func(prefix string) {
		for _, n := range Children(prefix, entries, opts) {
			if n.IsLeaf {
				out = append(out, n.Path)
				continue
			}
			if n.HasEntry {
				out = append(out, n.Path)
			}
			visit(n.Path)
		}
	}
	visit("")
	sort.Strings(out)
	return out
}
