package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Command is one process invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string  // full environment, nil inherits the runner's
	Stdout io.Writer // receives stdout and stderr
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandRunner starts processes. Actions and probes take one so tests can
// replace the real executor.
type CommandRunner interface {
	RunCommand(ctx context.Context, cmd Command) error
}

// Executor runs steps as local processes.
type Executor struct {
	// Shell overrides the default shell for run steps ("bash", "sh" or a
	// template containing {0}).
	Shell string
	// KillGrace is how long a cancelled process group gets before its pipes are closed.
	KillGrace time.Duration
}

func NewExecutor() *Executor {
	return &Executor{KillGrace: 5 * time.Second}
}

// RunCommand runs cmd until it exits or ctx is done, in which case the whole
// process group is killed.
func (e *Executor) RunCommand(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	out := c.Stdout
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = e.KillGrace
	configureProcessGroup(cmd)

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", c.Name, ctxErr)
	}
	return err
}

// ExitCode extracts a process exit status, -1 when unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ScriptCommand builds the command for an inline run step. The returned
// cleanup removes any temporary script file.
func (e *Executor) ScriptCommand(shell, script string) (Command, func(), error) {
	if shell == "" {
		shell = e.Shell
	}
	noop := func() {}
	switch shell {
	case "":
		if _, err := exec.LookPath("bash"); err == nil {
			return bashCommand(script), noop, nil
		}
		return Command{Name: "sh", Args: []string{"-e", "-c", script}}, noop, nil
	case "bash":
		return bashCommand(script), noop, nil
	case "sh":
		return Command{Name: "sh", Args: []string{"-e", "-c", script}}, noop, nil
	}

	if !strings.Contains(shell, "{0}") {
		return Command{}, noop, fmt.Errorf("unsupported shell %q: custom shells need a {0} placeholder", shell)
	}
	f, err := os.CreateTemp("", "workflowci-step-*")
	if err != nil {
		return Command{}, noop, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		cleanup()
		return Command{}, noop, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return Command{}, noop, err
	}
	fields := strings.Fields(strings.ReplaceAll(shell, "{0}", filepath.ToSlash(f.Name())))
	return Command{Name: fields[0], Args: fields[1:]}, cleanup, nil
}

func bashCommand(script string) Command {
	return Command{Name: "bash", Args: []string{"--noprofile", "--norc", "-eo", "pipefail", "-c", script}}
}
