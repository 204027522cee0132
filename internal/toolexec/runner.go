package toolexec

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
)

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env, when non-nil, is the complete environment of the process.
	// When nil the process inherits the orchestrator's environment.
	Env []string
	// Stdout, when set, receives the tool's standard output instead of it
	// being captured into Result.
	Stdout io.Writer
	// Stderr, when set, receives the tool's standard error. It is still
	// captured for error reporting.
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a successful invocation.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes external tools.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ToolError reports a non-zero exit from an external tool.
type ToolError struct {
	Tool   string
	Args   []string
	Code   int
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLines(s, 5)
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExitCode returns the tool's exit status.
func (e *ToolError) ExitCode() int { return e.Code }

// Classified wraps the error into the tool category.
func (e *ToolError) Classified() *ferrors.ClassifiedError {
	return ferrors.WrapError(e, ferrors.CategoryTool, "external tool failed").
		WithContext("tool", e.Tool).
		Build()
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	// Recorder, when set, is told about each invocation.
	Recorder InvocationRecorder
}

// InvocationRecorder observes tool invocations for metrics.
type InvocationRecorder interface {
	ObserveToolInvocation(tool string, d time.Duration, exitCode int)
}

// Run executes cmd and waits for it. Stdout is logged at debug level and
// stderr at warn level, matching how the build log is read in CI.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	// #nosec G204 -- tool names come from configuration by design
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	if cmd.Stderr != nil {
		c.Stderr = io.MultiWriter(cmd.Stderr, &stderr)
	} else {
		c.Stderr = &stderr
	}

	slog.Debug("Running tool", logfields.Tool(cmd.Name), slog.String("command", cmd.String()), logfields.Path(cmd.Dir))
	start := time.Now()
	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	if res.Stdout != "" {
		slog.Debug("tool stdout", logfields.Tool(cmd.Name), slog.String("output", res.Stdout))
	}
	if res.Stderr != "" && cmd.Stderr == nil {
		slog.Warn("tool stderr", logfields.Tool(cmd.Name), slog.String("error_output", res.Stderr))
	}

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if stdErrors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	if r.Recorder != nil {
		r.Recorder.ObserveToolInvocation(cmd.Name, res.Duration, code)
	}
	if err != nil {
		if code < 0 {
			return res, ferrors.WrapError(err, ferrors.CategoryTool, "failed to start tool").
				WithContext("tool", cmd.Name).
				Build()
		}
		slog.Debug("Tool failed", logfields.Tool(cmd.Name), logfields.ExitCode(code), logfields.DurationMS(float64(res.Duration.Milliseconds())))
		return res, &ToolError{Tool: cmd.Name, Args: cmd.Args, Code: code, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
