package cli

import (
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// Mode selects whether the CLI runs through WSL.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
)

const wslExe = "wsl.exe"

var drivePattern = regexp.MustCompile(`^([A-Za-z]):(?:[\\/]|$)`)

// ToWSLPath translates a Windows drive path to its /mnt mount point
// inside WSL. Other paths only have their separators normalized.
func ToWSLPath(p string) string {
	m := drivePattern.FindStringSubmatch(p)
	if m == nil {
		return strings.ReplaceAll(p, `\`, "/")
	}
	rest := strings.ReplaceAll(p[len(m[0]):], `\`, "/")
	rest = strings.TrimRight(rest, "/")
	out := "/mnt/" + strings.ToLower(m[1])
	if rest != "" {
		out += "/" + rest
	}
	return out
}

// shellSafe matches words that need no quoting in a POSIX shell.
var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote quotes s for a POSIX shell. Single quotes inside s are
// closed, escaped and reopened.
func ShellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellJoin quotes and joins args into one shell command line.
func ShellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// wslCommand wraps argv for execution by a login shell inside WSL.
func wslCommand(argv []string) (string, []string) {
	return wslExe, []string{"bash", "-lc", ShellJoin(argv)}
}

// UseWSL resolves mode for a CLI executable. Auto selects WSL only
// on a Windows host where the executable is not on PATH but
// wsl.exe is.
func UseWSL(mode Mode, executable string) bool {
	switch mode {
	case ModeOn:
		return true
	case ModeOff:
		return false
	}
	if runtime.GOOS != "windows" {
		return false
	}
	if _, err := exec.LookPath(executable); err == nil {
		return false
	}
	_, err := exec.LookPath(wslExe)
	return err == nil
}

// Files that identify a WSL kernel and its Windows interop.
var (
	procVersionFile = "/proc/version"
	wslInteropFile  = "/proc/sys/fs/binfmt_misc/WSLInterop"
)

// InsideWSL reports whether this process runs inside a WSL
// distribution, and the distribution name when known.
func InsideWSL() (bool, string) {
	return detectWSL(runtime.GOOS, procVersionFile, wslInteropFile)
}

func detectWSL(goos, procVersion, interop string) (bool, string) {
	if goos != "linux" {
		return false, ""
	}
	distro := os.Getenv("WSL_DISTRO_NAME")
	if data, err := os.ReadFile(procVersion); err == nil {
		v := strings.ToLower(string(data))
		if strings.Contains(v, "microsoft") || strings.Contains(v, "wsl") {
			return true, distro
		}
	}
	if _, err := os.Stat(interop); err == nil {
		return true, distro
	}
	return false, ""
}
