// Package cli runs the external context CLI that produces the
// documents shown in the tree views.
package cli

import (
	"errors"
	"fmt"

	"github.com/wesm/ctxview/internal/source"
)

// ErrUnknownOp is returned for an operation name not in Ops.
var ErrUnknownOp = errors.New("unknown cli operation")

// ErrNoWorkspace is returned when an operation that needs document
// paths runs without a configured workspace.
var ErrNoWorkspace = errors.New("no workspace configured")

// Op names a CLI subcommand.
type Op string

const (
	OpAggregate Op = "aggregate"
	OpPrompt    Op = "prompt"
	OpApply     Op = "apply"
	OpRevert    Op = "revert"
)

// OpDef describes one CLI subcommand: how its arguments are built
// from the document layout and which sources its success makes
// stale.
type OpDef struct {
	Op          Op
	Description string
	Invalidates []source.Kind

	// args returns the subcommand arguments for a layout. Paths
	// are passed through pathFn so WSL runs see Linux paths.
	args func(l source.Layout, pathFn func(string) string) []string
}

// Ops lists the supported operations in display order.
var Ops = []OpDef{
	{
		Op:          OpAggregate,
		Description: "Collect workspace files into the aggregated context",
		Invalidates: []source.Kind{source.KindContext},
		args: func(l source.Layout, p func(string) string) []string {
			return []string{
				"aggregate",
				"--root", p(l.Root),
				"--out", p(l.Location(source.KindContext)),
			}
		},
	},
	{
		Op:          OpPrompt,
		Description: "Print the prompt built from the aggregated context",
		args: func(l source.Layout, p func(string) string) []string {
			return []string{
				"prompt",
				"--context", p(l.Location(source.KindContext)),
			}
		},
	},
	{
		Op:          OpApply,
		Description: "Apply the proposed changes, recording a revert session",
		Invalidates: []source.Kind{source.KindChanges, source.KindReverts},
		args: func(l source.Layout, p func(string) string) []string {
			return []string{
				"apply",
				"--root", p(l.Root),
				"--changes", p(l.Location(source.KindChanges)),
				"--reverts", p(l.Location(source.KindReverts)),
			}
		},
	},
	{
		Op:          OpRevert,
		Description: "Restore files from a revert session",
		Invalidates: []source.Kind{source.KindReverts, source.KindChanges},
		args: func(l source.Layout, p func(string) string) []string {
			return []string{
				"revert",
				"--root", p(l.Root),
				"--reverts", p(l.Location(source.KindReverts)),
			}
		},
	},
}

// LookupOp returns the OpDef for name.
func LookupOp(name string) (OpDef, error) {
	for _, def := range Ops {
		if string(def.Op) == name {
			return def, nil
		}
	}
	return OpDef{}, fmt.Errorf("%w: %q", ErrUnknownOp, name)
}

// Args returns the full subcommand argument list for l followed by
// extra.
func (d OpDef) Args(
	l source.Layout, pathFn func(string) string, extra ...string,
) ([]string, error) {
	if !l.Configured() {
		return nil, ErrNoWorkspace
	}
	if pathFn == nil {
		pathFn = func(s string) string { return s }
	}
	args := d.args(l, pathFn)
	return append(args, extra...), nil
}
