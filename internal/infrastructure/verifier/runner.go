// Package verifier wraps external trust-decision tools (malware scanner,
// Authenticode verifier) behind bounded-time subprocess calls. Each wrapper
// declares its failure policy; callers never see raw process errors.
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FilePlaceholder in an argument list is replaced with the artifact path.
const FilePlaceholder = "{file}"

// ErrToolNotFound is reported when the tool binary is not on PATH.
var ErrToolNotFound = errors.New("tool not found")

// Result captures one tool invocation.
type Result struct {
	ExitCode int
	Output   string
	TimedOut bool
	Err      error
}

// CommandRunner runs a tool and reports its exit status and combined output.
type CommandRunner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

var _ CommandRunner = ExecRunner{}

// Run executes name with args, killing it after timeout.
func (ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	bin, err := exec.LookPath(name)
	if err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("%w: %s", ErrToolNotFound, name)}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	//nolint:gosec // G204: tool and arguments come from operator configuration
	cmd := exec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	res := Result{Output: out.String()}
	if err == nil {
		return res
	}

	res.Err = err
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.TimedOut = true
		res.Err = fmt.Errorf("%s timed out after %v", name, timeout)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}
	return res
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func expandArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, path)
	}
	return out
}
