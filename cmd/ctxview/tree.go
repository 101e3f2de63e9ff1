package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/ctxview/internal/source"
	"github.com/wesm/ctxview/internal/tree"
)

type treeOptions struct {
	source    string
	path      string
	kind      string
	session   string
	recursive bool
	output    string
}

func newTreeCmd() *cobra.Command {
	var opts treeOptions
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "List the children of a node, or every path with --recursive",
		Long: `List the immediate children of a node in one of the document views.

Examples:
  ctxview tree                                  # root of the aggregated context
  ctxview tree --path src                       # children of src
  ctxview tree --source reverts --path src/a.ts --kind multi_session
  ctxview tree --source reverts --session revert_2 --recursive
  ctxview tree -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTree(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.source, "source", "s", string(source.KindContext),
		"View to read: context, changes or reverts")
	f.StringVar(&opts.path, "path", "", "Node path to expand (empty for the root)")
	f.StringVar(&opts.kind, "kind", "",
		"Kind of the node being expanded, e.g. multi_session")
	f.StringVar(&opts.session, "session", "", "Restrict to one revert session")
	f.BoolVarP(&opts.recursive, "recursive", "r", false,
		"Print every entry path instead of one level")
	f.StringVarP(&opts.output, "output", "o", formatText,
		"Output format: text, json or yaml")
	return cmd
}

// openSource loads the configuration and returns the named source
// for the configured workspace.
func openSource(cmd *cobra.Command, name string) (*source.Source, error) {
	kind, err := source.ParseKind(name)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cfg.Layout().Configured() {
		return nil, fmt.Errorf("no workspace configured: pass --workspace")
	}
	return source.NewSet(cfg.Layout()).Source(kind)
}

func runTree(cmd *cobra.Command, opts treeOptions) error {
	if err := validFormat(opts.output); err != nil {
		return err
	}
	src, err := openSource(cmd, opts.source)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	snap, err := src.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Err != nil {
		return snap.Err
	}
	for _, w := range snap.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}

	if opts.recursive {
		paths := tree.Walk(snap.Entries, tree.Options{Session: opts.session})
		if paths == nil {
			paths = []string{}
		}
		if opts.output != formatText {
			return writeStructured(out, opts.output, paths)
		}
		for _, p := range paths {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	nodes, err := src.Children(ctx, source.Ref{
		Path:    opts.path,
		Kind:    tree.NodeKind(opts.kind),
		Session: opts.session,
	})
	if err != nil {
		return err
	}
	if nodes == nil {
		nodes = []tree.Node{}
	}
	if opts.output != formatText {
		return writeStructured(out, opts.output, nodes)
	}
	printNodes(out, nodes)
	return nil
}

// printNodes writes one line per node. Directories end in "/",
// multi-session files in "/*".
func printNodes(w io.Writer, nodes []tree.Node) {
	for _, n := range nodes {
		name := n.Name
		switch n.Kind {
		case tree.KindDirectory:
			name += "/"
		case tree.KindMultiSession:
			name += "/*"
		}
		if n.Label != "" {
			fmt.Fprintf(w, "%-40s %s\n", name, n.Label)
			continue
		}
		fmt.Fprintln(w, name)
	}
}

type catOptions struct {
	source  string
	session string
	output  string
}

func newCatCmd() *cobra.Command {
	var opts catOptions
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the content of one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(opts.output); err != nil {
				return err
			}
			src, err := openSource(cmd, opts.source)
			if err != nil {
				return err
			}
			entry, err := src.Content(cmd.Context(), args[0], opts.session)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if opts.output != formatText {
				return writeStructured(cmd.OutOrStdout(), opts.output, entry)
			}
			fmt.Fprint(cmd.OutOrStdout(), entry.Content)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.source, "source", "s", string(source.KindContext),
		"View to read: context, changes or reverts")
	f.StringVar(&opts.session, "session", "", "Revert session to read from")
	f.StringVarP(&opts.output, "output", "o", formatText,
		"Output format: text, json or yaml")
	return cmd
}
