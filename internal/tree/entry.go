package tree

import (
	"path"
	"strings"
)

// Entry is one file-path record from a loaded document. Path is
// always in normalized form (see Normalize). Session and Seq are
// only set for entries read from a session directory.
type Entry struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
	Session string `json:"session,omitempty" yaml:"session,omitempty"`
	Seq     int    `json:"seq,omitempty" yaml:"seq,omitempty"`
}

// NewEntry normalizes rawPath and returns the entry, or false when
// the path is not a valid relative path.
func NewEntry(rawPath, content string) (Entry, bool) {
	p, ok := Normalize(rawPath)
	if !ok {
		return Entry{}, false
	}
	return Entry{Path: p, Content: content}, true
}

// Normalize converts a relative path to the canonical form used for
// every comparison: forward slashes, no leading "./" or "/", no
// repeated separators and no "." segments. It reports false for
// empty or whitespace-only paths and for paths that climb above the
// root.
func Normalize(p string) (string, bool) {
	if strings.TrimSpace(p) == "" {
		return "", false
	}
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "" || p == "." {
		return "", false
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// normalizePrefix is Normalize for directory prefixes, where the
// empty string (and "." or "/") means the root.
func normalizePrefix(prefix string) (string, bool) {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" || trimmed == "." || trimmed == "/" ||
		trimmed == `\` {
		return "", true
	}
	return Normalize(prefix)
}

// join builds a child path below prefix.
func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Lookup returns the entry at p. When session is empty and the path
// appears in several sessions, the first entry in snapshot order
// wins, which for session directories is the newest session.
// Entry paths are compared in normalized form, as Children does.
func Lookup(
	entries []Entry, p, session string,
) (Entry, bool) {
	norm, ok := Normalize(p)
	if !ok {
		return Entry{}, false
	}
	for _, e := range entries {
		if session != "" && e.Session != session {
			continue
		}
		if ep, ok := Normalize(e.Path); ok && ep == norm {
			return e, true
		}
	}
	return Entry{}, false
}
