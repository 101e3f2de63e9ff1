package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wesm/ctxview/internal/cli"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <op> [-- extra args]",
		Short: "Run a CLI operation against the workspace and record it",
		Long: `Run one CLI operation against the configured workspace. Output is
streamed as it arrives and the run is added to the history.

Operations:
` + opsHelp(),
		Args: cobra.MinimumNArgs(1),
		ValidArgsFunction: func(
			*cobra.Command, []string, string,
		) ([]string, cobra.ShellCompDirective) {
			names := make([]string, 0, len(cli.Ops))
			for _, def := range cli.Ops {
				names = append(names, string(def.Op))
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, args[0], args[1:])
		},
	}
	return cmd
}

func opsHelp() string {
	var s string
	for _, def := range cli.Ops {
		s += fmt.Sprintf("  %-10s %s\n", def.Op, def.Description)
	}
	return s
}

func runOp(cmd *cobra.Command, name string, extra []string) error {
	def, err := cli.LookupOp(name)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	runner := newRunner(cfg)
	if runner == nil {
		return fmt.Errorf("cli command %q is not usable", cfg.CLICommand)
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	res, runErr := runner.Run(
		cmd.Context(), cfg.Layout(), def, extra,
		logPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()),
	)
	if runErr != nil && res.StartedAt.IsZero() {
		// Nothing ran: no workspace is configured.
		return runErr
	}

	run, err := cli.Record(
		context.WithoutCancel(cmd.Context()), database, res, runErr,
		cfg.RunHistory,
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s exited %d in %dms\n",
		run.ID, def.Op, run.ExitCode, run.DurationMs)
	return runErr
}

// logPrinter copies CLI output lines to the matching writer.
func logPrinter(stdout, stderr io.Writer) cli.LogFunc {
	var mu sync.Mutex
	return func(ev cli.LogEvent) {
		mu.Lock()
		defer mu.Unlock()
		w := stdout
		if ev.Stream == "stderr" {
			w = stderr
		}
		fmt.Fprintln(w, ev.Line)
	}
}
