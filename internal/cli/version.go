package cli

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(
	`v?(\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.-]+)?)`,
)

// VersionInfo is the outcome of a CLI version check.
type VersionInfo struct {
	Raw        string `json:"raw"`
	Version    string `json:"version"`
	Minimum    string `json:"minimum,omitempty"`
	Compatible bool   `json:"compatible"`
	WSL        bool   `json:"wsl"`
	// Distro names the WSL distribution ctxview runs in, if any.
	Distro string `json:"distro,omitempty"`
}

// Version runs the CLI with --version and checks the reported
// version against minimum. An empty minimum accepts any version
// that can be parsed.
func (r *Runner) Version(
	ctx context.Context, minimum string,
) (VersionInfo, error) {
	res, err := r.Exec(ctx, "", []string{"--version"}, nil)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("cli version: %w", err)
	}
	raw := strings.TrimSpace(res.Stdout)
	if raw == "" {
		raw = strings.TrimSpace(res.Stderr)
	}
	info, err := CheckVersion(raw, minimum)
	info.WSL = r.wsl
	if r.inWSL {
		info.Distro = distroName(r.distro)
	}
	return info, err
}

// ExtractVersion finds the first semantic version in s and returns
// it in canonical "vX.Y.Z" form, or "" when none is present.
func ExtractVersion(s string) string {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	v := normalizeSemver(m[1])
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// CheckVersion parses the version in raw and compares it against
// minimum.
func CheckVersion(raw, minimum string) (VersionInfo, error) {
	info := VersionInfo{Raw: raw, Version: ExtractVersion(raw)}
	if info.Version == "" {
		return info, fmt.Errorf("no version in cli output %q", raw)
	}
	if minimum == "" {
		info.Compatible = true
		return info, nil
	}
	floor := normalizeSemver(minimum)
	if !semver.IsValid(floor) {
		return info, fmt.Errorf("invalid minimum version %q", minimum)
	}
	info.Minimum = semver.Canonical(floor)
	info.Compatible = semver.Compare(info.Version, info.Minimum) >= 0
	return info, nil
}

// normalizeSemver adds the "v" prefix semver requires and pads a
// two-part version.
func normalizeSemver(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	base, pre, hasPre := strings.Cut(v, "-")
	if strings.Count(base, ".") == 1 {
		base += ".0"
	}
	if hasPre {
		return "v" + base + "-" + pre
	}
	return "v" + base
}
