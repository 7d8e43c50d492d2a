// Package gitenv discovers the git executable that tests of the project under
// build drive through TEST_GIT and TEST_GIT_EXEC_PATH.
package gitenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"workflowci/internal/core"
	"workflowci/internal/logger"
)

const (
	EnvGit         = "TEST_GIT"
	EnvGitExecPath = "TEST_GIT_EXEC_PATH"
)

// MinUndoVersion is the oldest git whose reference-transaction hook lets
// branch updates be undone.
var MinUndoVersion = Version{2, 29, 0}

var ErrGitNotFound = errors.New("git executable not found")

// Version is a parsed "git version" triple.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// ParseVersion parses output such as "git version 2.39.3 (Apple Git-145)" or
// "git version 2.30.0.windows.1".
func ParseVersion(out string) (Version, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 3 || fields[0] != "git" || fields[1] != "version" {
		return Version{}, fmt.Errorf("could not parse git version output: %q", out)
	}
	parts := strings.Split(fields[2], ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("could not parse git version: %q", fields[2])
	}
	var nums [3]int
	for i := 0; i < 3 && i < len(parts); i++ {
		digits := parts[i]
		if j := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); j >= 0 {
			digits = digits[:j]
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return Version{}, fmt.Errorf("could not parse git version component %q: %w", parts[i], err)
		}
		nums[i] = n
	}
	return Version{nums[0], nums[1], nums[2]}, nil
}

// Git describes the discovered executable.
type Git struct {
	Executable string
	ExecPath   string
	Version    Version
}

// Env renders the variables the test step exports.
func (g *Git) Env() map[string]string {
	return map[string]string{
		EnvGit:         g.Executable,
		EnvGitExecPath: g.ExecPath,
	}
}

// Validate checks that the executable is a file and the exec-path a directory.
func (g *Git) Validate() error {
	if g.Executable == "" {
		return fmt.Errorf("%s is empty", EnvGit)
	}
	if g.ExecPath == "" {
		return fmt.Errorf("%s is empty", EnvGitExecPath)
	}
	info, err := os.Stat(g.Executable)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvGit, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s: %s is not an executable file", EnvGit, g.Executable)
	}
	info, err = os.Stat(g.ExecPath)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvGitExecPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", EnvGitExecPath, g.ExecPath)
	}
	return nil
}

// Prober shells out to git. LookPath and Exec are replaceable for tests.
type Prober struct {
	LookPath func(file string) (string, error)
	Exec     core.CommandRunner
}

func NewProber() *Prober {
	return &Prober{LookPath: exec.LookPath, Exec: core.NewExecutor()}
}

// Probe finds git on PATH and asks it for its exec-path and version.
func (p *Prober) Probe(ctx context.Context) (*Git, error) {
	path, err := p.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGitNotFound, err)
	}
	execPath, err := p.output(ctx, path, "--exec-path")
	if err != nil {
		return nil, fmt.Errorf("determining git exec-path: %w", err)
	}
	versionOut, err := p.output(ctx, path, "version")
	if err != nil {
		return nil, fmt.Errorf("determining git version: %w", err)
	}
	version, err := ParseVersion(versionOut)
	if err != nil {
		return nil, err
	}

	g := &Git{Executable: path, ExecPath: execPath, Version: version}
	if version.Less(MinUndoVersion) {
		logger.LogWarn("git is older than the version needed for undoable branch updates", map[string]interface{}{
			"version":  version.String(),
			"required": MinUndoVersion.String(),
		})
	}
	return g, nil
}

// JobEnv probes and validates git and returns the TEST_GIT variables. It has
// the shape of the runner's preflight hook.
func (p *Prober) JobEnv(ctx context.Context) (map[string]string, error) {
	g, err := p.Probe(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g.Env(), nil
}

func (p *Prober) output(ctx context.Context, name string, args ...string) (string, error) {
	var out bytes.Buffer
	err := p.Exec.RunCommand(ctx, core.Command{Name: name, Args: args, Stdout: &out})
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}
