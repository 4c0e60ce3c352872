// Package remote provides synchronous command execution on compute nodes,
// either over SSH or on the local node.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Result captures the outcome of one executed command. A non-zero ExitStatus
// with captured output is data, not a transport failure: callers decide
// whether a non-zero exit is an error for their operation.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitStatus == 0
}

// Runner executes a single shell command on the named host and blocks until
// it completes. Implementations perform no retries and enforce no timeout;
// ctx cancellation is the only abort mechanism.
type Runner interface {
	Run(ctx context.Context, host, command string) (Result, error)
}

// ExitError is returned by callers that treat a non-zero exit status as a
// failure. It carries the command, the remote exit status, and the captured
// stderr so the operator sees exactly what the node reported.
type ExitError struct {
	Command string
	Result  Result
}

// Error summarises the failed command, its exit status, and the first line
// of stderr.
func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg == "" {
		return fmt.Sprintf("command %q exited %d", e.Command, e.Result.ExitStatus)
	}
	return fmt.Sprintf("command %q exited %d: %s", e.Command, e.Result.ExitStatus, msg)
}

