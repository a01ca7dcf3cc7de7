// Package execx runs external commands and turns failures into
// opserr.ExternalProcessError values carrying the captured stderr.
package execx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"

	"nlo/internal/opserr"
)

type Cmd struct {
	Name  string
	Args  []string
	Env   []string
	Dir   string
	Stdin io.Reader
}

// Runner executes a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) ([]byte, error)
}

type OS struct{}

func (OS) Run(ctx context.Context, c Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = c.Stdin
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}

	slog.Debug("Running command", "command", c.Name, "args", c.Args)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &opserr.ExternalProcessError{
			Command:  c.Name,
			Args:     c.Args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.Bytes(), nil
}

// LookPath fails with a PreconditionError when a required binary is absent.
func LookPath(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return opserr.Precondition("required command %q not found on PATH", name)
		}
	}
	return nil
}
