package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/ctxview/internal/cli"
	"github.com/wesm/ctxview/internal/config"
	"github.com/wesm/ctxview/internal/db"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ctxview",
		Short: "Browse the documents of a context aggregation CLI",
		Long: `ctxview reads the JSON documents a context aggregation CLI writes
into a workspace (the aggregated context, the proposed changes and the
revert history) and shows them as browsable file trees.

Without a subcommand it starts the web server.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	config.RegisterServeFlags(root.Flags())

	root.AddCommand(
		newServeCmd(),
		newTreeCmd(),
		newCatCmd(),
		newRunCmd(),
		newRunsCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig layers the config file, environment and the parsed
// flags of cmd, and makes sure the data directory exists.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("creating data dir: %w", err)
	}
	return cfg, nil
}

func openDB(cfg config.Config) (*db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return database, nil
}

// newRunner builds the CLI runner. A bad command line is logged and
// yields nil so read-only features keep working.
func newRunner(cfg config.Config) *cli.Runner {
	runner, err := cli.NewRunner(cfg.CLICommand, cli.Mode(cfg.WSLMode))
	if err != nil {
		log.Printf("warning: cli unavailable: %v", err)
		return nil
	}
	return runner
}

func newVersionCmd() *cobra.Command {
	var checkCLI bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ctxview %s (commit %s, built %s)\n",
				version, commit, buildDate)
			if !checkCLI {
				return nil
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runner := newRunner(cfg)
			if runner == nil {
				return fmt.Errorf("cli command %q is not usable", cfg.CLICommand)
			}
			info, err := runner.Version(cmd.Context(), cfg.MinCLIVersion)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "cli %s (%s)", info.Version, cfg.CLICommand)
			if info.WSL {
				fmt.Fprint(out, " via WSL")
			}
			fmt.Fprintln(out)
			if !info.Compatible {
				return fmt.Errorf("cli %s is older than the required %s",
					info.Version, info.Minimum)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkCLI, "cli-version", false,
		"Also report the installed CLI version")
	return cmd
}
