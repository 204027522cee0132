package mixed

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// ErrImageInMixedBuild rejects kernel image targets in a mixed build, where
// the image is produced by the GKI sub-build.
var ErrImageInMixedBuild = errors.New("image compilation not supported in mixed build")

// imageTargetMarkers match make goals that would build the kernel image.
var imageTargetMarkers = []string{"image", "Image", "vmlinux"}

// PrebuiltFiles must all be present in GKI_PREBUILTS_DIR.
var PrebuiltFiles = []string{
	"vmlinux",
	"System.map",
	"vmlinux.symvers",
	"modules.builtin",
	"modules.builtin.modinfo",
	"Image.lz4",
}

// MixedTreeFiles are taken from the mixed tree into the kernel object
// directory so modules link against the GKI exports.
var MixedTreeFiles = []string{
	"vmlinux.symvers",
	"modules.builtin",
	"modules.builtin.modinfo",
}

// Launcher starts a child build with exactly the given configuration and
// waits for it.
type Launcher interface {
	Launch(ctx context.Context, spec ChildInvocationSpec) error
}

// Result describes what the coordinator did.
type Result struct {
	Mode Mode
	// MixedTree is passed to module compilation as KBUILD_MIXED_TREE.
	MixedTree string
	// Spec is the child configuration in source mode.
	Spec *ChildInvocationSpec
	// Distributed lists files copied into DIST_DIR, relative to it.
	Distributed []string
}

// Coordinator runs the mixed build branch selected by the configuration.
type Coordinator struct {
	cfg      *config.BuildConfig
	launcher Launcher
}

// NewCoordinator returns a coordinator launching children through l.
func NewCoordinator(cfg *config.BuildConfig, l Launcher) *Coordinator {
	return &Coordinator{cfg: cfg, launcher: l}
}

// Run executes the mixed build for the requested make targets. In ModeNone it
// does nothing.
func (c *Coordinator) Run(ctx context.Context, targets []string) (Result, error) {
	mode, err := DetectMode(c.cfg)
	if err != nil {
		return Result{}, err
	}
	res := Result{Mode: mode}
	switch mode {
	case ModeSource:
		if err := c.buildFromSource(ctx, targets, &res); err != nil {
			return res, err
		}
	case ModePrebuilt:
		if err := c.usePrebuilts(&res); err != nil {
			return res, err
		}
	default:
		return res, nil
	}
	if err := c.mergeMixedTree(res.MixedTree); err != nil {
		return res, err
	}
	slog.Info("Mixed build ready", logfields.Mode(mode.String()), logfields.Path(res.MixedTree))
	return res, nil
}

// RejectImageTargets fails when any target would build the kernel image.
func RejectImageTargets(targets []string) error {
	for _, t := range targets {
		for _, m := range imageTargetMarkers {
			if strings.Contains(t, m) {
				return ferrors.WrapError(ErrImageInMixedBuild, ferrors.CategoryConfig, "invalid make goals for mixed build").
					WithContext("target", t).
					WithHint("drop kernel image targets from MAKE_GOALS; the GKI build provides them").
					Build()
			}
		}
	}
	return nil
}

func (c *Coordinator) buildFromSource(ctx context.Context, targets []string, res *Result) error {
	if err := RejectImageTargets(targets); err != nil {
		return err
	}
	spec := DeriveChildConfig(c.cfg)
	res.Spec = &spec
	slog.Info("Launching GKI sub-build", logfields.Path(c.cfg.GKIOutDir()))
	if err := c.launcher.Launch(ctx, spec); err != nil {
		return err
	}
	res.MixedTree = c.cfg.GKIDistDir()
	return nil
}

func (c *Coordinator) usePrebuilts(res *Result) error {
	src := c.cfg.Path(config.KeyGKIPrebuiltsDir)
	if err := requireFiles(src, PrebuiltFiles, "GKI prebuilt artifacts missing"); err != nil {
		return err
	}
	dist := c.cfg.DistDir()
	for _, name := range PrebuiltFiles {
		copied, err := fsutil.CopyIfChanged(filepath.Join(src, name), filepath.Join(dist, name))
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "copy GKI prebuilt").
				WithContext("path", name).
				Build()
		}
		if !copied {
			slog.Debug("Prebuilt already up to date", logfields.Path(name))
		}
		res.Distributed = append(res.Distributed, name)
	}
	res.MixedTree = src
	return nil
}

func (c *Coordinator) mergeMixedTree(tree string) error {
	if err := requireFiles(tree, MixedTreeFiles, "GKI build did not produce required files"); err != nil {
		return err
	}
	outDir := c.cfg.KernelOutDir()
	for _, name := range MixedTreeFiles {
		if _, err := fsutil.CopyIfChanged(filepath.Join(tree, name), filepath.Join(outDir, name)); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "merge mixed tree file").
				WithContext("path", name).
				Build()
		}
	}
	return nil
}

// requireFiles reports every name absent from dir in one error.
func requireFiles(dir string, names []string, msg string) error {
	var missing []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, filepath.Join(dir, name))
		} else if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "stat required file").
				WithContext("path", filepath.Join(dir, name)).
				Build()
		}
	}
	if len(missing) > 0 {
		return ferrors.PreconditionError(msg).
			WithContext("missing", strings.Join(missing, ",")).
			Build()
	}
	return nil
}
