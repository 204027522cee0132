package stages

import (
	"context"
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/kconfig"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// Mrproper cleans the kernel object directory.
func (t *Toolkit) Mrproper(ctx context.Context, _ *models.BuildState) error {
	return t.Make.Mrproper(ctx)
}

// Defconfig generates the kernel configuration.
func (t *Toolkit) Defconfig(ctx context.Context, bs *models.BuildState) error {
	defconfig := bs.Config.String(config.KeyDefconfig)
	if defconfig == "" {
		return ferrors.ConfigError("DEFCONFIG is not set").
			WithContext("keys", config.KeyDefconfig).
			WithHint("set DEFCONFIG or SKIP_DEFCONFIG=1").
			Build()
	}
	return t.Make.Defconfig(ctx, defconfig)
}

// ltoSymbols lists the Kconfig symbols to enable and disable per mode.
var ltoSymbols = map[config.LTOMode]struct{ enable, disable []string }{
	config.LTONone: {
		enable:  []string{"LTO_NONE"},
		disable: []string{"LTO_CLANG", "LTO_CLANG_THIN", "LTO_CLANG_FULL", "THINLTO"},
	},
	config.LTOThin: {
		enable:  []string{"LTO_CLANG", "LTO_CLANG_THIN", "THINLTO"},
		disable: []string{"LTO_NONE", "LTO_CLANG_FULL"},
	},
	config.LTOFull: {
		enable:  []string{"LTO_CLANG", "LTO_CLANG_FULL"},
		disable: []string{"LTO_NONE", "LTO_CLANG_THIN", "THINLTO"},
	},
}

// LTOConfig applies the requested link-time optimization mode to .config
// and re-resolves dependent options.
func (t *Toolkit) LTOConfig(ctx context.Context, bs *models.BuildState) error {
	mode := bs.Config.LTO()
	syms, ok := ltoSymbols[mode]
	if !ok {
		return ferrors.ConfigError("invalid LTO mode").WithContext("keys", config.KeyLTO).WithContext("value", string(mode)).Build()
	}
	path := filepath.Join(bs.Config.KernelOutDir(), ".config")
	kc, err := kconfig.Load(path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPrecondition, "kernel configuration missing").
			WithContext("path", path).
			Build()
	}
	for _, s := range syms.enable {
		kc.Enable(s)
	}
	for _, s := range syms.disable {
		kc.Disable(s)
	}
	if err := kc.Save(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write kernel configuration").WithContext("path", path).Build()
	}
	slog.Info("Applied LTO mode", logfields.Mode(string(mode)))
	return t.Make.Olddefconfig(ctx)
}

// Compile runs the main kernel build and records the resulting release.
func (t *Toolkit) Compile(ctx context.Context, bs *models.BuildState) error {
	if err := t.Make.Build(ctx, bs.Config.List(config.KeyMakeGoals)); err != nil {
		return err
	}
	release, err := t.Make.KernelRelease(ctx)
	if err != nil {
		slog.Warn("Could not query kernel release", logfields.Error(err))
		return nil
	}
	if release != "" {
		bs.KernelRelease = release
	}
	return nil
}
