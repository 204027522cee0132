package stages

import (
	"context"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// Prepare creates the output and distribution directories.
func (t *Toolkit) Prepare(_ context.Context, bs *models.BuildState) error {
	cfg := bs.Config
	for _, dir := range []string{cfg.CommonOutDir(), cfg.KernelOutDir(), cfg.DistDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create output directory").
				WithContext("path", dir).
				Build()
		}
	}
	hash := manifest.ConfigHash(cfg.Values())
	bs.Manifest.ConfigHash = hash
	bs.Report.ConfigHash = hash
	slog.Info("Prepared output directories",
		logfields.BuildID(bs.BuildID),
		slog.String("out_dir", cfg.CommonOutDir()),
		slog.String("dist_dir", cfg.DistDir()),
		slog.String("kernel_dir", cfg.String(config.KeyKernelDir)))
	return nil
}
