package source

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Kind identifies one of the documents the CLI produces.
type Kind string

const (
	KindContext Kind = "context"
	KindChanges Kind = "changes"
	KindReverts Kind = "reverts"
)

// ErrUnknownSource is returned for a source name not in Registry.
var ErrUnknownSource = errors.New("unknown source")

// Def describes a source and how its documents are laid out.
type Def struct {
	Kind        Kind
	DisplayName string

	// Sessions marks the source that reads a directory of
	// per-session documents instead of a single file.
	Sessions bool
}

// Registry lists all sources. Order is stable and used for
// iteration in status listings and watcher setup.
var Registry = []Def{
	{
		Kind:        KindContext,
		DisplayName: "Aggregated Context",
	},
	{
		Kind:        KindChanges,
		DisplayName: "Proposed Changes",
	},
	{
		Kind:        KindReverts,
		DisplayName: "Revert History",
		Sessions:    true,
	},
}

// DefByKind returns the Def for k.
func DefByKind(k Kind) (Def, bool) {
	for _, def := range Registry {
		if def.Kind == k {
			return def, true
		}
	}
	return Def{}, false
}

// ParseKind validates a source name.
func ParseKind(name string) (Kind, error) {
	if _, ok := DefByKind(Kind(name)); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return Kind(name), nil
}

// Layout locates the documents of one workspace. The zero value is
// the unconfigured layout: every source reports empty data without
// touching the disk. Relative document paths resolve against Root.
type Layout struct {
	Root        string `json:"root"`
	ContextFile string `json:"context_file"`
	ChangesFile string `json:"changes_file"`
	RevertDir   string `json:"revert_dir"`
}

// Configured reports whether a workspace root is set.
func (l Layout) Configured() bool {
	return l.Root != ""
}

// Location returns the absolute path of the document (or session
// directory) backing k, or "" when the layout is unconfigured or k
// has no document configured.
func (l Layout) Location(k Kind) string {
	if !l.Configured() {
		return ""
	}
	var rel string
	switch k {
	case KindContext:
		rel = l.ContextFile
	case KindChanges:
		rel = l.ChangesFile
	case KindReverts:
		rel = l.RevertDir
	}
	if rel == "" {
		return ""
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(l.Root, rel)
}
