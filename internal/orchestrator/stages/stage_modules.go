package stages

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/staging"
)

func stagingError(err error, dir string) error {
	return ferrors.WrapError(err, ferrors.CategoryFileSystem, "reset staging root").WithContext("path", dir).Build()
}

// ensureModuleStaging wipes the module staging root the first time a stage
// installs into it during this build.
func ensureModuleStaging(bs *models.BuildState) error {
	if bs.Modules.Installed {
		return nil
	}
	if err := staging.Reset(bs.Roots.Modules); err != nil {
		return stagingError(err, bs.Roots.Modules)
	}
	return nil
}

// ModulesInstall installs in-tree modules into the staging root.
func (t *Toolkit) ModulesInstall(ctx context.Context, bs *models.BuildState) error {
	if err := ensureModuleStaging(bs); err != nil {
		return err
	}
	strip := !bs.Config.Bool(config.KeyDoNotStripModules)
	if err := t.Make.ModulesInstall(ctx, bs.Roots.Modules, strip); err != nil {
		return err
	}
	bs.Modules.Installed = true
	return nil
}

// ExtModules builds and installs each external module directory.
func (t *Toolkit) ExtModules(ctx context.Context, bs *models.BuildState) error {
	if err := ensureModuleStaging(bs); err != nil {
		return err
	}
	strip := !bs.Config.Bool(config.KeyDoNotStripModules)
	for _, dir := range bs.Config.List(config.KeyExtModules) {
		slog.Info("Building external module", logfields.Module(dir))
		if err := t.Make.ExtModule(ctx, dir, bs.Roots.Modules, strip); err != nil {
			return err
		}
	}
	bs.Modules.Installed = true
	return nil
}
