package stages

import (
	"context"

	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

// Hook returns a stage running the command configured for point.
func (t *Toolkit) Hook(point toolexec.HookPoint) models.Stage {
	return func(ctx context.Context, _ *models.BuildState) error {
		return t.Hooks.Run(ctx, t.Runner, point)
	}
}
