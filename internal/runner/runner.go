package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Runner abstracts shell execution so jobs can be tested without the
// external tools installed.
type Runner interface {
	// Run executes script through the shell with dir as the working
	// directory, blocking until the child exits.
	Run(ctx context.Context, dir, script string) error
}

// ExitError reports a non-zero exit status from the command chain. It is
// fatal for the whole job; nothing is retried.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed with return code %d", e.Code)
}

// ShellRunner runs scripts with "bash -c". The child inherits the parent's
// stdout and stderr so tool progress reaches the terminal directly; there is
// no timeout beyond the passed context.
type ShellRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ShellRunner) Run(ctx context.Context, dir, script string) error {
	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("run command: %w", err)
}
