package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/wesm/ctxview/internal/cli"
	"github.com/wesm/ctxview/internal/config"
	"github.com/wesm/ctxview/internal/db"
	"github.com/wesm/ctxview/internal/metrics"
	"github.com/wesm/ctxview/internal/source"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// RunFunc is the signature for running a CLI operation, allowing
// tests to substitute a stub.
type RunFunc func(
	ctx context.Context, layout source.Layout, def cli.OpDef,
	extra []string, onLog cli.LogFunc,
) (cli.Result, error)

// VersionFunc reports the installed CLI version against minimum.
type VersionFunc func(
	ctx context.Context, minimum string,
) (cli.VersionInfo, error)

// Server is the HTTP server exposing the tree views, CLI
// operations and run history as a REST API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	sources *source.Set
	db      *db.DB
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo

	runFunc     RunFunc
	versionFunc VersionFunc

	// onWorkspace is called after the workspace settings change,
	// with the new layout already applied to sources.
	onWorkspace func(source.Layout)

	// shutdown is closed by Shutdown to end event streams.
	shutdown     chan struct{}
	shutdownOnce gosync.Once

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server. runner may be nil when the CLI is not
// usable; CLI routes then report 503 unless a RunFunc is supplied.
func New(
	cfg config.Config, sources *source.Set, database *db.DB,
	runner *cli.Runner, opts ...Option,
) *Server {
	s := &Server{
		cfg:         cfg,
		sources:     sources,
		db:          database,
		mux:         http.NewServeMux(),
		onWorkspace: func(source.Layout) {},
		shutdown:    make(chan struct{}),
	}
	if runner != nil {
		s.runFunc = runner.Run
		s.versionFunc = runner.Version
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithRunFunc overrides the CLI run function, allowing tests to
// substitute a stub. Nil is ignored.
func WithRunFunc(f RunFunc) Option {
	return func(s *Server) {
		if f != nil {
			s.runFunc = f
		}
	}
}

// WithVersionFunc overrides the CLI version check. Nil is ignored.
func WithVersionFunc(f VersionFunc) Option {
	return func(s *Server) {
		if f != nil {
			s.versionFunc = f
		}
	}
}

// WithWorkspaceHook registers a callback run after the workspace
// is reconfigured through the API. Nil is ignored.
func WithWorkspaceHook(f func(source.Layout)) Option {
	return func(s *Server) {
		if f != nil {
			s.onWorkspace = f
		}
	}
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/v1/sources", s.withTimeout(s.handleListSources))
	s.mux.Handle(
		"GET /api/v1/sources/{source}/children",
		s.withTimeout(s.handleChildren),
	)
	s.mux.Handle(
		"GET /api/v1/sources/{source}/content",
		s.withTimeout(s.handleContent),
	)
	s.mux.Handle(
		"POST /api/v1/sources/{source}/refresh",
		s.withTimeout(s.handleRefreshSource),
	)
	s.mux.Handle("POST /api/v1/refresh", s.withTimeout(s.handleRefreshAll))

	// SSE: Do not use timeout, as these are long-lived connections.
	s.mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/v1/cli/{op}", s.handleRunOp)

	s.mux.Handle("GET /api/v1/cli/ops", s.withTimeout(s.handleListOps))
	s.mux.Handle("GET /api/v1/cli/version", s.withTimeout(s.handleCLIVersion))
	s.mux.Handle("GET /api/v1/runs", s.withTimeout(s.handleListRuns))
	s.mux.Handle("GET /api/v1/runs/{id}", s.withTimeout(s.handleGetRun))
	s.mux.Handle(
		"GET /api/v1/config/workspace",
		s.withTimeout(s.handleGetWorkspace),
	)
	s.mux.Handle(
		"POST /api/v1/config/workspace",
		s.withTimeout(s.handleSetWorkspace),
	)
	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(metrics.Middleware(s.mux)))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.RLock()
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.mu.RUnlock()
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown ends event streams and gracefully shuts down the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
