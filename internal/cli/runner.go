package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/shlex"

	"github.com/wesm/ctxview/internal/metrics"
	"github.com/wesm/ctxview/internal/source"
)

// maxCapture bounds how much of each stream a Result keeps.
const maxCapture = 64 << 10

// LogEvent represents one output line of a CLI process.
type LogEvent struct {
	Stream string `json:"stream"` // stdout|stderr
	Line   string `json:"line"`
}

// LogFunc receives output lines while the process runs.
type LogFunc func(LogEvent)

// Result describes one finished CLI invocation.
type Result struct {
	Op        Op            `json:"op"`
	Args      []string      `json:"args"`
	Dir       string        `json:"dir"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Runner spawns the CLI. The zero value is not usable; call
// NewRunner.
type Runner struct {
	argv   []string
	wsl    bool
	inWSL  bool
	distro string
}

// insideWSL is swapped out by tests.
var insideWSL = InsideWSL

// NewRunner parses command with shell word splitting and resolves
// the WSL mode against its executable.
func NewRunner(command string, mode Mode) (*Runner, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse cli command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("cli command is empty")
	}
	r := &Runner{argv: argv, wsl: UseWSL(mode, argv[0])}
	r.inWSL, r.distro = insideWSL()
	switch {
	case r.wsl && r.inWSL:
		// Already in a distribution: the CLI is reachable without
		// going back out through wsl.exe.
		log.Printf("cli: inside WSL %s, running %s directly",
			distroName(r.distro), argv[0])
		r.wsl = false
	case r.wsl:
		log.Printf("cli: running %s through %s", argv[0], wslExe)
	case r.inWSL:
		log.Printf("cli: inside WSL %s", distroName(r.distro))
	}
	return r, nil
}

// Command returns the configured command words.
func (r *Runner) Command() []string {
	return append([]string(nil), r.argv...)
}

// WSL reports whether invocations go through wsl.exe.
func (r *Runner) WSL() bool { return r.wsl }

// InsideWSL reports whether ctxview itself runs in a WSL
// distribution, and its name when known.
func (r *Runner) InsideWSL() (bool, string) { return r.inWSL, r.distro }

func distroName(d string) string {
	if d == "" {
		return "(unknown distribution)"
	}
	return d
}

func (r *Runner) pathFn() func(string) string {
	if r.wsl {
		return ToWSLPath
	}
	return nil
}

// Run executes op against layout with extra arguments appended,
// inside the workspace root.
func (r *Runner) Run(
	ctx context.Context, layout source.Layout, def OpDef,
	extra []string, onLog LogFunc,
) (Result, error) {
	args, err := def.Args(layout, r.pathFn(), extra...)
	if err != nil {
		return Result{Op: def.Op}, err
	}
	res, err := r.Exec(ctx, layout.Root, args, onLog)
	res.Op = def.Op

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordCLIRun(string(def.Op), status, res.Duration)
	if err != nil {
		return res, fmt.Errorf("cli %s: %w", def.Op, err)
	}
	return res, nil
}

// Exec runs the CLI with args in dir. A non-zero exit is returned
// as an error alongside a Result carrying the exit code and
// captured output.
func (r *Runner) Exec(
	ctx context.Context, dir string, args []string, onLog LogFunc,
) (Result, error) {
	argv := append(r.Command(), args...)
	name, cmdArgs := argv[0], argv[1:]
	if r.wsl {
		name, cmdArgs = wslCommand(argv)
	}
	res := Result{Args: args, Dir: dir, StartedAt: time.Now()}

	path, err := exec.LookPath(name)
	if err != nil {
		return res, fmt.Errorf("%s not found: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, cmdArgs...)
	cmd.Dir = dir
	cmd.Env = cleanEnv()

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return res, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("start %s: %w", name, err)
	}

	stdoutDone := collectStreamLines(stdoutPipe, "stdout", onLog)
	stderrDone := collectStreamLines(stderrPipe, "stderr", onLog)
	res.Stdout = <-stdoutDone
	res.Stderr = <-stderrDone
	runErr := cmd.Wait()
	res.Duration = time.Since(res.StartedAt)

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}

	if runErr != nil && ctx.Err() != nil {
		return res, fmt.Errorf("cancelled: %w", ctx.Err())
	}
	if runErr != nil {
		return res, fmt.Errorf(
			"failed: %w\nstderr: %s", runErr, res.Stderr,
		)
	}
	return res, nil
}

// allowedKeyPrefixes lists uppercase key prefixes that are
// safe to pass to the CLI. Matched case-insensitively so
// Windows-style casing (Path, ComSpec) is handled correctly.
var allowedKeyPrefixes = []string{
	"PATH",
	"HOME", "USERPROFILE",
	"USER", "USERNAME", "LOGNAME",
	"LANG", "LC_",
	"TERM", "COLORTERM",
	"TMPDIR", "TEMP", "TMP",
	"XDG_",
	"SHELL",
	"SSL_CERT_", "CURL_CA_BUNDLE",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
	"SYSTEMROOT", "COMSPEC", "PATHEXT", "WINDIR",
	"HOMEDRIVE", "HOMEPATH",
	"APPDATA", "LOCALAPPDATA", "PROGRAMDATA",
	"WSLENV", "WSL_DISTRO_NAME", "WSL_INTEROP",
	"CTX_",
}

// envKeyAllowed reports whether key (case-insensitive) is
// on the allowlist. Prefix entries ending with _ (LC_,
// XDG_, CTX_) match any key starting with that prefix;
// all others require an exact match.
func envKeyAllowed(key string) bool {
	upper := strings.ToUpper(key)
	for _, p := range allowedKeyPrefixes {
		if strings.HasSuffix(p, "_") {
			if strings.HasPrefix(upper, p) {
				return true
			}
		} else if upper == p {
			return true
		}
	}
	return false
}

// cleanEnv returns the allowlisted subset of the current
// environment.
func cleanEnv() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		k, _, _ := strings.Cut(e, "=")
		if envKeyAllowed(k) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func emitLog(onLog LogFunc, stream, line string) {
	if onLog == nil {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	onLog(LogEvent{Stream: stream, Line: line})
}

// collectStreamLines forwards each line of r to onLog and delivers
// the captured text, truncated to its last maxCapture bytes, once r
// is drained. The capture never holds more than twice maxCapture.
func collectStreamLines(
	r io.Reader, stream string, onLog LogFunc,
) <-chan string {
	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		br := bufio.NewReader(r)
		var buf []byte
		for {
			line, err := br.ReadString('\n')
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed != "" {
				if len(buf) > 0 {
					buf = append(buf, '\n')
				}
				buf = append(buf, trimmed...)
				if len(buf) > 2*maxCapture {
					buf = keepTail(buf, maxCapture)
				}
				emitLog(onLog, stream, trimmed)
			}
			if err == nil {
				continue
			}
			if err != io.EOF {
				emitLog(
					onLog, "stderr",
					fmt.Sprintf("read %s: %v", stream, err),
				)
				_, _ = io.Copy(io.Discard, br)
			}
			break
		}
		ch <- tail(string(buf), maxCapture)
	}()
	return ch
}

// tailStart is the offset of the last n bytes of b, moved forward
// to a rune boundary.
func tailStart[T string | []byte](b T, n int) int {
	if len(b) <= n {
		return 0
	}
	i := len(b) - n
	for i < len(b) && !utf8.RuneStart(b[i]) {
		i++
	}
	return i
}

// tail returns at most the last n bytes of s without splitting a
// rune.
func tail(s string, n int) string {
	return s[tailStart(s, n):]
}

// keepTail shifts the last n bytes of b to its front, reusing the
// backing array.
func keepTail(b []byte, n int) []byte {
	return append(b[:0], b[tailStart(b, n):]...)
}
