// Package kbuild drives the kernel's make-based build system.
package kbuild

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

// toolchainKeys are forwarded to make as VAR=value when configured.
var toolchainKeys = []string{
	config.KeyArch,
	config.KeyCrossCompile,
	config.KeyCrossCompileCompat,
	config.KeyCC,
	config.KeyLD,
	config.KeyLLVM,
	config.KeyLLVMIAS,
	config.KeyHostCC,
	config.KeyHostLD,
	config.KeyDepmod,
	config.KeyDTC,
}

// Make invokes make against the kernel tree with a fixed set of toolchain
// arguments. Parallelism is delegated entirely to make.
type Make struct {
	runner    toolexec.Runner
	kernelDir string
	outDir    string
	toolArgs  []string
	jobs      int
	// MixedTree, when set, is passed as KBUILD_MIXED_TREE.
	MixedTree string
}

// New builds a Make from the configuration.
func New(cfg *config.BuildConfig, runner toolexec.Runner) *Make {
	var args []string
	for _, k := range toolchainKeys {
		if cfg.Has(k) {
			args = append(args, k+"="+cfg.String(k))
		}
	}
	return &Make{
		runner:    runner,
		kernelDir: cfg.KernelDir(),
		outDir:    cfg.KernelOutDir(),
		toolArgs:  args,
		jobs:      JobCount(cfg.String(config.KeyMakeJobs)),
	}
}

// JobCount returns the explicit job count, or the host's logical CPU count.
func JobCount(explicit string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(explicit)); err == nil && n > 0 {
		return n
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	slog.Debug("Falling back to runtime CPU count for make jobs")
	return runtime.NumCPU()
}

// Jobs returns the parallel job count passed to make.
func (m *Make) Jobs() int { return m.jobs }

// OutDir returns the kernel object directory.
func (m *Make) OutDir() string { return m.outDir }

// Command builds the make invocation for targets without running it.
func (m *Make) Command(extra []string, targets ...string) toolexec.Command {
	args := []string{"-C", m.kernelDir, "O=" + m.outDir}
	args = append(args, m.toolArgs...)
	if m.MixedTree != "" {
		args = append(args, "KBUILD_MIXED_TREE="+m.MixedTree)
	}
	args = append(args, extra...)
	args = append(args, "-j"+strconv.Itoa(m.jobs))
	args = append(args, targets...)
	return toolexec.Command{Name: "make", Args: args}
}

func (m *Make) run(ctx context.Context, extra []string, targets ...string) (toolexec.Result, error) {
	return m.runner.Run(ctx, m.Command(extra, targets...))
}

// Mrproper cleans the output directory.
func (m *Make) Mrproper(ctx context.Context) error {
	_, err := m.run(ctx, nil, "mrproper")
	return err
}

// Defconfig generates .config from the named defconfig.
func (m *Make) Defconfig(ctx context.Context, defconfig string) error {
	if defconfig == "" {
		return ferrors.ConfigError("DEFCONFIG is not set").
			WithContext("keys", config.KeyDefconfig).
			Build()
	}
	_, err := m.run(ctx, nil, defconfig)
	return err
}

// Olddefconfig re-resolves configuration dependencies after .config edits.
func (m *Make) Olddefconfig(ctx context.Context) error {
	_, err := m.run(ctx, nil, "olddefconfig")
	return err
}

// Build runs the main compilation for goals.
func (m *Make) Build(ctx context.Context, goals []string) error {
	_, err := m.run(ctx, nil, goals...)
	return err
}

// ModulesInstall installs in-tree modules under staging.
func (m *Make) ModulesInstall(ctx context.Context, staging string, strip bool) error {
	extra := []string{"INSTALL_MOD_PATH=" + staging}
	if strip {
		extra = append(extra, "INSTALL_MOD_STRIP=1")
	}
	_, err := m.run(ctx, extra, "modules_install")
	return err
}

// ExtModule builds and installs an external module directory. Its objects
// go to a sibling of the kernel out dir named after the module path.
func (m *Make) ExtModule(ctx context.Context, modDir, staging string, strip bool) error {
	modOut := filepath.Join(filepath.Dir(m.outDir), modDir)
	base := []string{"M=" + modDir, "KERNEL_SRC=" + m.kernelDir, "MO=" + modOut}
	if _, err := m.run(ctx, base); err != nil {
		return err
	}
	install := append(append([]string(nil), base...), "INSTALL_MOD_PATH="+staging)
	if strip {
		install = append(install, "INSTALL_MOD_STRIP=1")
	}
	_, err := m.run(ctx, install, "modules_install")
	return err
}

// HeadersInstall installs UAPI headers into dir.
func (m *Make) HeadersInstall(ctx context.Context, dir string) error {
	_, err := m.run(ctx, []string{"INSTALL_HDR_PATH=" + dir}, "headers_install")
	return err
}

// Tags generates source tags for the given config.
func (m *Make) Tags(ctx context.Context, tagsConfig string) error {
	_, err := m.run(ctx, []string{"TAGS_CONFIG=" + tagsConfig}, "tags")
	return err
}

// KernelRelease asks the build system for the release string of the
// configured tree.
func (m *Make) KernelRelease(ctx context.Context) (string, error) {
	cmd := m.Command(nil, "kernelrelease")
	cmd.Args = append([]string{"-s"}, cmd.Args...)
	res, err := m.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}
