package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// LocalRunner executes commands on the node the orchestrator itself runs on.
// It is used for source-side operations in direct deployment mode. The host
// argument is ignored.
type LocalRunner struct{}

// NewLocalRunner returns a LocalRunner.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes command through /bin/sh -c. As with SSHRunner, a non-zero
// exit status is reported in the Result with a nil error.
func (r *LocalRunner) Run(ctx context.Context, _ string, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitStatus = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("local: run: %w", runErr)
	}
	return res, nil
}
