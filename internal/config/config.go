package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/wesm/ctxview/internal/source"
)

const configFileName = "config.json"

// WSL modes accepted by the wsl setting.
const (
	WSLAuto = "auto"
	WSLOn   = "on"
	WSLOff  = "off"
)

// Config holds all application configuration.
type Config struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	DataDir       string        `json:"data_dir"`
	DBPath        string        `json:"-"`
	Workspace     string        `json:"workspace"`
	ContextFile   string        `json:"context_file"`
	ChangesFile   string        `json:"changes_file"`
	RevertDir     string        `json:"revert_dir"`
	CLICommand    string        `json:"cli_command"`
	MinCLIVersion string        `json:"min_cli_version,omitempty"`
	WSLMode       string        `json:"wsl_mode"`
	WatchDebounce time.Duration `json:"-"`
	WriteTimeout  time.Duration `json:"-"`
	RunHistory    int           `json:"run_history"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".ctxview")
	return Config{
		Host:          "127.0.0.1",
		Port:          8090,
		DataDir:       dataDir,
		DBPath:        filepath.Join(dataDir, "runs.db"),
		ContextFile:   filepath.Join(".ctx", "context.json"),
		ChangesFile:   filepath.Join(".ctx", "changes.json"),
		RevertDir:     filepath.Join(".ctx", "reverts"),
		CLICommand:    "ctx",
		WSLMode:       WSLAuto,
		WatchDebounce: 500 * time.Millisecond,
		WriteTimeout:  30 * time.Second,
		RunHistory:    200,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("CTXVIEW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	applyFlags(&cfg, fs)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.Workspace = absPath(cfg.Workspace)
	cfg.DBPath = filepath.Join(cfg.DataDir, "runs.db")
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, configFileName)
}

// fileConfig is the on-disk shape. Empty values leave the lower
// layer in place.
type fileConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Workspace     string `json:"workspace"`
	ContextFile   string `json:"context_file"`
	ChangesFile   string `json:"changes_file"`
	RevertDir     string `json:"revert_dir"`
	CLICommand    string `json:"cli_command"`
	MinCLIVersion string `json:"min_cli_version"`
	WSLMode       string `json:"wsl_mode"`
	WatchDebounce string `json:"watch_debounce"`
	RunHistory    int    `json:"run_history"`
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	setString(&c.Host, file.Host)
	setString(&c.Workspace, file.Workspace)
	setString(&c.ContextFile, file.ContextFile)
	setString(&c.ChangesFile, file.ChangesFile)
	setString(&c.RevertDir, file.RevertDir)
	setString(&c.CLICommand, file.CLICommand)
	setString(&c.MinCLIVersion, file.MinCLIVersion)
	setString(&c.WSLMode, file.WSLMode)
	if file.Port > 0 {
		c.Port = file.Port
	}
	if file.RunHistory > 0 {
		c.RunHistory = file.RunHistory
	}
	if file.WatchDebounce != "" {
		d, err := time.ParseDuration(file.WatchDebounce)
		if err != nil {
			return fmt.Errorf("parsing watch_debounce: %w", err)
		}
		c.WatchDebounce = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv("CTXVIEW_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("CTXVIEW_CLI"); v != "" {
		c.CLICommand = v
	}
	if v := os.Getenv("CTXVIEW_WSL"); v != "" {
		c.WSLMode = v
	}
	if v := os.Getenv("CTXVIEW_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	switch c.WSLMode {
	case WSLAuto, WSLOn, WSLOff:
	default:
		return fmt.Errorf(
			"invalid wsl mode %q (want auto, on or off)", c.WSLMode,
		)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WatchDebounce <= 0 {
		return fmt.Errorf(
			"watch debounce must be positive, got %s", c.WatchDebounce,
		)
	}
	return nil
}

// Layout returns the document layout of the configured workspace.
// Without a workspace the zero Layout is returned, which every
// source treats as unconfigured.
func (c *Config) Layout() source.Layout {
	if c.Workspace == "" {
		return source.Layout{}
	}
	return source.Layout{
		Root:        c.Workspace,
		ContextFile: c.ContextFile,
		ChangesFile: c.ChangesFile,
		RevertDir:   c.RevertDir,
	}
}

func absPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// RegisterFlags registers the workspace and CLI flags shared by
// every command. The caller must parse fs before passing it to Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("workspace", "w", "", "Workspace directory holding the CLI documents")
	fs.String("cli", "ctx", "CLI command line (split like a shell)")
	fs.String("wsl", WSLAuto, "Run the CLI through WSL: auto, on or off")
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.IntP("port", "p", 8090, "Port to listen on")
	fs.Duration(
		"debounce", 500*time.Millisecond,
		"Quiet period before a document change invalidates its view",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// pflag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "workspace":
			cfg.Workspace = f.Value.String()
		case "cli":
			cfg.CLICommand = f.Value.String()
		case "wsl":
			cfg.WSLMode = f.Value.String()
		case "debounce":
			cfg.WatchDebounce, _ = time.ParseDuration(f.Value.String())
		}
	})
}

// WorkspaceSettings is the part of the configuration that can be
// changed while the server runs.
type WorkspaceSettings struct {
	Workspace   string `json:"workspace"`
	ContextFile string `json:"context_file"`
	ChangesFile string `json:"changes_file"`
	RevertDir   string `json:"revert_dir"`
}

// Settings returns the current workspace settings.
func (c *Config) Settings() WorkspaceSettings {
	return WorkspaceSettings{
		Workspace:   c.Workspace,
		ContextFile: c.ContextFile,
		ChangesFile: c.ChangesFile,
		RevertDir:   c.RevertDir,
	}
}

// SaveWorkspace persists the workspace settings to the config file
// and applies them to c. Empty document names keep their current
// value. Unknown keys already in the file are preserved.
func (c *Config) SaveWorkspace(ws WorkspaceSettings) error {
	ws.Workspace = absPath(ws.Workspace)
	if ws.Workspace != "" {
		info, err := os.Stat(ws.Workspace)
		if err != nil {
			return fmt.Errorf("workspace: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("workspace %s is not a directory", ws.Workspace)
		}
	}
	if ws.ContextFile == "" {
		ws.ContextFile = c.ContextFile
	}
	if ws.ChangesFile == "" {
		ws.ChangesFile = c.ChangesFile
	}
	if ws.RevertDir == "" {
		ws.RevertDir = c.RevertDir
	}

	err := c.updateFile(map[string]any{
		"workspace":    ws.Workspace,
		"context_file": ws.ContextFile,
		"changes_file": ws.ChangesFile,
		"revert_dir":   ws.RevertDir,
	})
	if err != nil {
		return err
	}
	c.Workspace = ws.Workspace
	c.ContextFile = ws.ContextFile
	c.ChangesFile = ws.ChangesFile
	c.RevertDir = ws.RevertDir
	return nil
}

// updateFile merges values into the config file.
func (c *Config) updateFile(values map[string]any) error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	existing := make(map[string]any)
	data, err := os.ReadFile(c.configPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf(
				"existing config is invalid, cannot update: %w",
				err,
			)
		}
	}

	for k, v := range values {
		existing[k] = v
	}
	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(c.configPath(), out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
