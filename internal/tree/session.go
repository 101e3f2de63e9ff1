package tree

import (
	"sort"
	"strconv"
)

// SessionIndex maps each logical path to the session tags whose
// document contains it, newest session first.
type SessionIndex struct {
	tags map[string][]string
	seq  map[string]int
}

// IndexSessions builds the path-to-sessions relation for a session
// snapshot. Entries without a session tag are ignored.
func IndexSessions(entries []Entry) SessionIndex {
	idx := SessionIndex{
		tags: make(map[string][]string),
		seq:  make(map[string]int),
	}
	seen := make(map[string]map[string]bool)
	for _, e := range entries {
		if e.Session == "" {
			continue
		}
		p, ok := Normalize(e.Path)
		if !ok {
			continue
		}
		idx.seq[e.Session] = e.Seq
		if seen[p] == nil {
			seen[p] = make(map[string]bool)
		}
		if seen[p][e.Session] {
			continue
		}
		seen[p][e.Session] = true
		idx.tags[p] = append(idx.tags[p], e.Session)
	}
	for p, tags := range idx.tags {
		sort.SliceStable(tags, func(i, j int) bool {
			si, sj := idx.seq[tags[i]], idx.seq[tags[j]]
			if si != sj {
				return si > sj
			}
			return tags[i] > tags[j]
		})
		idx.tags[p] = tags
	}
	return idx
}

// Tags returns the session tags recorded for path, newest first.
func (idx SessionIndex) Tags(path string) []string {
	p, ok := Normalize(path)
	if !ok {
		return nil
	}
	return idx.tags[p]
}

// Label returns the display label of a session tag, derived from the
// sequence number embedded in its document name.
func (idx SessionIndex) Label(tag string) string {
	seq, ok := idx.seq[tag]
	if !ok || seq < 0 {
		return tag
	}
	return "#" + strconv.Itoa(seq)
}

// Group applies session disambiguation to a Children result taken
// without a session filter. A leaf recorded under more than one
// session becomes a multi-session placeholder; a leaf recorded under
// exactly one session is bound to it. Nodes already scoped to a
// session pass through unchanged.
func Group(nodes []Node, idx SessionIndex) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if !n.IsLeaf || n.Session != "" {
			continue
		}
		tags := idx.Tags(n.Path)
		switch {
		case len(tags) > 1:
			out[i].IsLeaf = false
			out[i].Kind = KindMultiSession
		case len(tags) == 1:
			out[i].Session = tags[0]
			out[i].Label = idx.Label(tags[0])
		}
	}
	return out
}

// SessionVariants expands a multi-session placeholder into one leaf
// per session, newest first. Every variant keeps the placeholder's
// path and is bound to its session.
func SessionVariants(path string, idx SessionIndex) []Node {
	p, ok := Normalize(path)
	if !ok {
		return nil
	}
	tags := idx.tags[p]
	nodes := make([]Node, 0, len(tags))
	for _, tag := range tags {
		nodes = append(nodes, Node{
			Name:    tag,
			Path:    p,
			IsLeaf:  true,
			Kind:    KindSessionVariant,
			Session: tag,
			Label:   idx.Label(tag),
		})
	}
	return nodes
}
