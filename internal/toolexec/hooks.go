package toolexec

import (
	"context"
	"log/slog"

	"github.com/kballard/go-shellquote"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
)

// HookPoint names one of the fixed pipeline points where a configured
// command may run.
type HookPoint string

const (
	HookPreDefconfig  HookPoint = "pre_defconfig"
	HookPostDefconfig HookPoint = "post_defconfig"
	HookPostCompile   HookPoint = "post_compile"
	HookPostInstall   HookPoint = "post_install"
	HookPostDist      HookPoint = "post_dist"
)

// Hooks resolves the command configured for a hook point. Hook text is split
// into argv with shell quoting rules and executed directly, never through a
// shell.
type Hooks struct {
	texts map[HookPoint]string
	dir   string
	env   []string
}

// NewHooks builds a Hooks from the raw command text per point. dir is the
// working directory and env the complete environment for every hook.
func NewHooks(texts map[HookPoint]string, dir string, env []string) *Hooks {
	return &Hooks{texts: texts, dir: dir, env: env}
}

// Hook returns the command for point, or false when none is configured.
func (h *Hooks) Hook(point HookPoint) (Command, bool, error) {
	if h == nil {
		return Command{}, false, nil
	}
	text := h.texts[point]
	if text == "" {
		return Command{}, false, nil
	}
	argv, err := shellquote.Split(text)
	if err != nil {
		return Command{}, false, ferrors.WrapError(err, ferrors.CategoryConfig, "unparseable hook command").
			WithContext("hook", string(point)).
			Build()
	}
	if len(argv) == 0 {
		return Command{}, false, nil
	}
	env := append(append([]string(nil), h.env...), "KBUILD_STAGE="+string(point))
	return Command{Name: argv[0], Args: argv[1:], Dir: h.dir, Env: env}, true, nil
}

// Run executes the hook for point, if any.
func (h *Hooks) Run(ctx context.Context, r Runner, point HookPoint) error {
	cmd, ok, err := h.Hook(point)
	if err != nil || !ok {
		return err
	}
	slog.Info("Running hook", logfields.Stage(string(point)), slog.String("command", shellquote.Join(append([]string{cmd.Name}, cmd.Args...)...)))
	_, err = r.Run(ctx, cmd)
	return err
}
