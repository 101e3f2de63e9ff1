package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/ctxview/internal/db"
)

func newRunsCmd() *cobra.Command {
	var (
		op     string
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recorded CLI runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(output); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := database.GetRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if output != formatText {
					return writeStructured(out, output, run)
				}
				printRun(cmd, run)
				return nil
			}

			runs, err := database.ListRuns(cmd.Context(), op, limit)
			if err != nil {
				return err
			}
			if output != formatText {
				return writeStructured(out, output, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOP\tEXIT\tSTARTED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.Op, r.ExitCode,
					r.StartedAt.Local().Format(time.DateTime),
					time.Duration(r.DurationMs)*time.Millisecond,
				)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&op, "op", "", "Only show runs of this operation")
	f.IntVarP(&limit, "limit", "n", db.DefaultRunLimit, "Maximum runs to list")
	f.StringVarP(&output, "output", "o", formatText,
		"Output format: text, json or yaml")
	return cmd
}

func printRun(cmd *cobra.Command, r db.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", r.ID)
	fmt.Fprintf(out, "Op:       %s %s\n", r.Op, strings.Join(r.Args, " "))
	fmt.Fprintf(out, "Workdir:  %s\n", r.Workdir)
	fmt.Fprintf(out, "Started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Duration: %s\n", time.Duration(r.DurationMs)*time.Millisecond)
	fmt.Fprintf(out, "Exit:     %d\n", r.ExitCode)
	if r.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", r.Error)
	}
	if r.Stdout != "" {
		fmt.Fprintf(out, "\n--- stdout ---\n%s", r.Stdout)
	}
	if r.Stderr != "" {
		fmt.Fprintf(out, "\n--- stderr ---\n%s", r.Stderr)
	}
}
