package stages

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/kversion"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// Early exit reasons recorded in the build report.
const (
	ReasonVersionMatches = "version_matches"
	ReasonTagsGenerated  = "tags_generated"
)

// VersionShortcut ends the build when the distributed kernel already
// carries the release the configured source tree reports.
func (t *Toolkit) VersionShortcut(ctx context.Context, bs *models.BuildState) error {
	cfg := bs.Config
	release, err := t.Make.KernelRelease(ctx)
	if err != nil {
		return err
	}
	if release == "" {
		slog.Warn("Kernel release is empty; building")
		return nil
	}
	bs.KernelRelease = release
	if base, err := kversion.ReadBase(cfg.KernelDir()); err == nil && !kversion.FromBase(base, release) {
		slog.Warn("Kernel release does not start with the Makefile version; building",
			slog.String("release", release), slog.String("makefile", base.String()))
		return nil
	}

	vmlinux := filepath.Join(cfg.DistDir(), "vmlinux")
	embedded, err := kversion.EmbeddedVersion(vmlinux)
	if err != nil {
		if errors.Is(err, kversion.ErrNoEmbedded) {
			slog.Warn("Distributed kernel has no version string", slog.String("vmlinux", vmlinux))
		} else {
			slog.Info("No distributed kernel to compare", slog.String("vmlinux", vmlinux))
		}
		return nil
	}
	if !kversion.Matches(release, embedded) {
		slog.Info("Kernel version differs; building", slog.String("release", release), slog.String("embedded", embedded))
		return nil
	}
	dirty, err := kversion.Dirty(cfg.KernelDir())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPrecondition, "inspect kernel source repository").
			WithContext("path", cfg.KernelDir()).
			Build()
	}
	if dirty {
		slog.Info("Kernel source has local modifications; building", slog.String("release", release))
		return nil
	}
	slog.Info("Distributed kernel matches source version", slog.String("version", release))
	return models.EarlyExit(ReasonVersionMatches)
}

// Tags generates source tags and ends the build.
func (t *Toolkit) Tags(ctx context.Context, bs *models.BuildState) error {
	if err := t.Make.Tags(ctx, bs.Config.String(config.KeyTagsConfig)); err != nil {
		return err
	}
	return models.EarlyExit(ReasonTagsGenerated)
}
