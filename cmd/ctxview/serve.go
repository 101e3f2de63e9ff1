package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/ctxview/internal/cli"
	"github.com/wesm/ctxview/internal/config"
	"github.com/wesm/ctxview/internal/server"
	"github.com/wesm/ctxview/internal/source"
)

const (
	shutdownTimeout   = 5 * time.Second
	versionCheckLimit = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	sources := source.NewSet(cfg.Layout())
	if !cfg.Layout().Configured() {
		fmt.Println("No workspace configured; set one with --workspace or in the UI.")
	}

	watcher, stopWatcher := startWatcher(cfg, sources)
	defer stopWatcher()

	runner := newRunner(cfg)
	if runner != nil {
		go checkCLIVersion(runner, cfg.MinCLIVersion)
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, sources, database, runner,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
		server.WithWorkspaceHook(func(source.Layout) {
			if watcher != nil {
				watcher.Reset(sources.WatchDirs()...)
			}
		}),
	)

	ctx, stop := signal.NotifyContext(
		cmd.Context(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Printf("ctxview %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// startWatcher watches the document locations of sources and
// invalidates the views whose documents change. It returns a nil
// watcher when file notifications are unavailable.
func startWatcher(
	cfg config.Config, sources *source.Set,
) (*source.Watcher, func()) {
	onChange := func(paths []string) {
		if kinds := sources.InvalidatePaths(paths); len(kinds) > 0 {
			log.Printf("watcher: refreshed %v", kinds)
		}
	}
	watcher, err := source.NewWatcher(cfg.WatchDebounce, onChange)
	if err != nil {
		log.Printf("warning: file watcher unavailable: %v", err)
		return nil, func() {}
	}
	watched, unwatched := watcher.Watch(sources.WatchDirs()...)
	if unwatched > 0 {
		log.Printf("watcher: %d of %d directories not watched",
			unwatched, watched+unwatched)
	}
	watcher.Start()
	return watcher, watcher.Stop
}

func checkCLIVersion(runner *cli.Runner, minimum string) {
	ctx, cancel := context.WithTimeout(
		context.Background(), versionCheckLimit,
	)
	defer cancel()
	info, err := runner.Version(ctx, minimum)
	if err != nil {
		log.Printf("warning: %v", err)
		return
	}
	if !info.Compatible {
		log.Printf("warning: cli %s is older than the required %s",
			info.Version, info.Minimum)
		return
	}
	if info.Distro != "" {
		log.Printf("cli %s ready in WSL %s", info.Version, info.Distro)
		return
	}
	log.Printf("cli %s ready", info.Version)
}
