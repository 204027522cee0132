package kbuild

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

func newConfig(t *testing.T, values map[string]string) *config.BuildConfig {
	t.Helper()
	cfg, err := config.FromValues(t.TempDir(), values)
	require.NoError(t, err)
	return cfg
}

func TestCommandLayout(t *testing.T) {
	cfg := newConfig(t, map[string]string{
		config.KeyArch:     "arm64",
		config.KeyLLVM:     "1",
		config.KeyOutDir:   "out/android",
		config.KeyMakeJobs: "7",
	})
	m := New(cfg, &toolexec.FakeRunner{})
	cmd := m.Command([]string{"INSTALL_MOD_STRIP=1"}, "modules_install")

	assert.Equal(t, "make", cmd.Name)
	assert.Equal(t, []string{
		"-C", cfg.KernelDir(),
		"O=" + filepath.Join(cfg.Root(), "out", "android", "common"),
		"ARCH=arm64", "LLVM=1",
		"INSTALL_MOD_STRIP=1",
		"-j7",
		"modules_install",
	}, cmd.Args)
	assert.Equal(t, 7, m.Jobs())
}

func TestMixedTreeIsForwarded(t *testing.T) {
	fake := &toolexec.FakeRunner{}
	m := New(newConfig(t, map[string]string{config.KeyMakeJobs: "1"}), fake)
	m.MixedTree = "/gki/dist"
	require.NoError(t, m.Build(context.Background(), []string{"modules"}))
	assert.True(t, fake.Called("KBUILD_MIXED_TREE=/gki/dist -j1 modules"))
}

func TestJobCountFallsBackToHost(t *testing.T) {
	assert.Equal(t, 3, JobCount("3"))
	assert.Positive(t, JobCount(""))
	assert.Positive(t, JobCount("nope"))
}

func TestDefconfigRequiresName(t *testing.T) {
	fake := &toolexec.FakeRunner{}
	m := New(newConfig(t, nil), fake)
	err := m.Defconfig(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, ferrors.CategoryConfig, ferrors.GetCategory(err))
	assert.Equal(t, ferrors.ExitConfig, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
	assert.Empty(t, fake.Calls)
}

func TestKernelRelease(t *testing.T) {
	fake := (&toolexec.FakeRunner{}).On("kernelrelease", func(toolexec.Command) (toolexec.Result, error) {
		return toolexec.Result{Stdout: "6.1.25-android14\n"}, nil
	})
	m := New(newConfig(t, nil), fake)
	rel, err := m.KernelRelease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6.1.25-android14", rel)
	assert.Equal(t, "-s", fake.Calls[0].Args[0])
}

func TestExtModule(t *testing.T) {
	fake := &toolexec.FakeRunner{}
	m := New(newConfig(t, map[string]string{config.KeyMakeJobs: "2"}), fake)
	require.NoError(t, m.ExtModule(context.Background(), "drivers/vendor", "/staging", true))
	lines := fake.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "M=drivers/vendor")
	assert.Contains(t, lines[1], "INSTALL_MOD_PATH=/staging INSTALL_MOD_STRIP=1 -j2 modules_install")
}
