package mixed

import (
	"context"
	"io"
	"os"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

// ExecLauncher re-executes the orchestrator binary as the child build.
type ExecLauncher struct {
	Runner toolexec.Runner
	// Executable is the orchestrator binary. Defaults to os.Executable.
	Executable string
	// Dir is the child's working directory, normally the parent's root.
	Dir string
	// BuildID correlates child logs and events with the parent.
	BuildID string
	// Output receives the child's stderr log stream.
	Output io.Writer
}

// Command returns the child invocation. Its environment is the derived entries plus
// PATH, so tools resolve the same way as in the parent.
func (l *ExecLauncher) Command(spec ChildInvocationSpec) (toolexec.Command, error) {
	exe := l.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return toolexec.Command{}, ferrors.WrapError(err, ferrors.CategoryInternal, "locate orchestrator binary").Build()
		}
	}
	args := []string{"build"}
	if l.BuildID != "" {
		args = append(args, "--parent-build-id", l.BuildID)
	}
	env := append(spec.Environ(), "PATH="+os.Getenv("PATH"))
	return toolexec.Command{Name: exe, Args: args, Dir: l.Dir, Env: env, Stdout: l.Output, Stderr: l.Output}, nil
}

// Launch runs the child and waits. A failing child surfaces as a
// *toolexec.ToolError carrying its exit status.
func (l *ExecLauncher) Launch(ctx context.Context, spec ChildInvocationSpec) error {
	cmd, err := l.Command(spec)
	if err != nil {
		return err
	}
	_, err = l.Runner.Run(ctx, cmd)
	return err
}
