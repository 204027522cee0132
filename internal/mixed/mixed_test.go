package mixed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

func load(t *testing.T, root string, values map[string]string) *config.BuildConfig {
	t.Helper()
	cfg, err := config.FromValues(root, values)
	require.NoError(t, err)
	return cfg
}

func TestChildKeyTable(t *testing.T) {
	table := ChildKeyTable()
	require.Len(t, table, len(config.Options))
	assert.True(t, slices.IsSortedFunc(table, func(a, b KeyPair) int { return strings.Compare(a.Parent, b.Parent) }))
	assert.Contains(t, table, KeyPair{Parent: "GKI_BUILD_CONFIG", Child: "BUILD_CONFIG"})
	assert.Contains(t, table, KeyPair{Parent: "GKI_DEFCONFIG", Child: "DEFCONFIG"})

	table[0].Child = "mutated"
	assert.NotEqual(t, "mutated", ChildKeyTable()[0].Child)
}

func TestDeriveChildConfig(t *testing.T) {
	root := t.TempDir()
	parent := load(t, root, map[string]string{
		config.KeyGKIBuildConfig:   "common/build.config.gki.aarch64",
		config.KeySkipMrproper:     "1",
		config.KeyExtModules:       "vendor/modules",
		config.KeyKconfigExtPrefix: "vendor/",
		config.KeyDefconfig:        "vendor_defconfig",
		"GKI_DEFCONFIG":            "gki_defconfig",
		"GKI_LTO":                  "thin",
		config.KeyOutDir:           "out",
	})

	spec := DeriveChildConfig(parent)

	get := func(k string) string {
		v, ok := spec.Get(k)
		require.True(t, ok, k)
		return v
	}
	assert.Equal(t, "common/build.config.gki.aarch64", get(config.KeyBuildConfig))
	assert.Equal(t, "1", get(config.KeySkipMrproper))
	assert.Equal(t, "", get(config.KeySkipDefconfig))
	assert.Equal(t, "thin", get(config.KeyLTO), "prefixed value overrides inherited")
	assert.Equal(t, "gki_defconfig", get(config.KeyDefconfig))
	assert.Equal(t, "", get(config.KeyExtModules))
	assert.Equal(t, "", get(config.KeyKconfigExtPrefix))
	assert.Equal(t, "", get(config.KeyGKIBuildConfig))
	assert.Equal(t, filepath.Join(root, "out", "gki_kernel"), get(config.KeyOutDir))
	assert.Equal(t, filepath.Join(root, "out", "gki_kernel", "dist"), get(config.KeyDistDir))

	_, leaked := spec.Get(config.KeyArch)
	assert.False(t, leaked, "unprefixed parent keys must not reach the child")

	for _, e := range spec.Entries {
		if e.Key == config.KeyDefconfig {
			assert.Equal(t, OriginPrefixed, e.Origin)
			assert.Equal(t, "GKI_DEFCONFIG", e.From)
		}
	}
}

func TestDeriveChildConfigIsDeterministic(t *testing.T) {
	values := map[string]string{
		config.KeyGKIBuildConfig: "gki.config",
		"GKI_ARCH":               "arm64",
		"GKI_CC":                 "clang",
		"GKI_MAKE_GOALS":         "Image modules",
		config.KeyLTO:            "full",
	}
	parent := load(t, t.TempDir(), values)
	first := DeriveChildConfig(parent).String()
	for range 20 {
		assert.Equal(t, first, DeriveChildConfig(parent).String())
	}
	assert.True(t, slices.IsSorted(DeriveChildConfig(parent).Environ()))
}

func TestForceClearBeatsPrefix(t *testing.T) {
	parent := load(t, t.TempDir(), map[string]string{
		config.KeyGKIBuildConfig: "gki.config",
		"GKI_EXT_MODULES":        "should/not/leak",
		"GKI_GKI_BUILD_CONFIG":   "recursive.config",
		"GKI_KCONFIG_EXT_PREFIX": "x/",
	})
	spec := DeriveChildConfig(parent)
	for _, k := range ClearedKeys {
		v, ok := spec.Get(k)
		require.True(t, ok)
		assert.Empty(t, v, k)
	}
}

func TestDetectMode(t *testing.T) {
	m, err := DetectMode(load(t, t.TempDir(), nil))
	require.NoError(t, err)
	assert.Equal(t, ModeNone, m)

	m, err = DetectMode(load(t, t.TempDir(), map[string]string{config.KeyGKIPrebuiltsDir: "prebuilts"}))
	require.NoError(t, err)
	assert.Equal(t, ModePrebuilt, m)

	_, err = config.FromValues(t.TempDir(), map[string]string{
		config.KeyGKIBuildConfig:  "gki.config",
		config.KeyGKIPrebuiltsDir: "prebuilts",
	})
	require.Error(t, err)
}

type recordingLauncher struct {
	specs []ChildInvocationSpec
	do    func(spec ChildInvocationSpec) error
}

func (r *recordingLauncher) Launch(_ context.Context, spec ChildInvocationSpec) error {
	r.specs = append(r.specs, spec)
	if r.do != nil {
		return r.do(spec)
	}
	return nil
}

func writeFiles(t *testing.T, dir string, names []string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(content+n), 0o600))
	}
}

func TestSourceRejectsImageTargetsBeforeLaunch(t *testing.T) {
	cfg := load(t, t.TempDir(), map[string]string{config.KeyGKIBuildConfig: "gki.config"})
	l := &recordingLauncher{}
	_, err := NewCoordinator(cfg, l).Run(context.Background(), []string{"modules", "Image.lz4"})
	require.ErrorIs(t, err, ErrImageInMixedBuild)
	assert.Empty(t, l.specs)
}

func TestSourceMergesChildOutputs(t *testing.T) {
	cfg := load(t, t.TempDir(), map[string]string{config.KeyGKIBuildConfig: "gki.config"})
	l := &recordingLauncher{do: func(ChildInvocationSpec) error {
		writeFiles(t, cfg.GKIDistDir(), MixedTreeFiles, "child:")
		return nil
	}}
	res, err := NewCoordinator(cfg, l).Run(context.Background(), []string{"modules"})
	require.NoError(t, err)
	require.Len(t, l.specs, 1)
	assert.Equal(t, ModeSource, res.Mode)
	assert.Equal(t, cfg.GKIDistDir(), res.MixedTree)
	for _, n := range MixedTreeFiles {
		data, err := os.ReadFile(filepath.Join(cfg.KernelOutDir(), n))
		require.NoError(t, err)
		assert.Equal(t, "child:"+n, string(data))
	}
}

func TestSourceChildFailurePropagatesStatus(t *testing.T) {
	cfg := load(t, t.TempDir(), map[string]string{config.KeyGKIBuildConfig: "gki.config"})
	l := &recordingLauncher{do: func(ChildInvocationSpec) error {
		return &toolexec.ToolError{Tool: "kbuild", Code: 42}
	}}
	_, err := NewCoordinator(cfg, l).Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 42, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
	assert.NoFileExists(t, filepath.Join(cfg.KernelOutDir(), "vmlinux.symvers"))
}

func TestSourceMissingChildOutputs(t *testing.T) {
	cfg := load(t, t.TempDir(), map[string]string{config.KeyGKIBuildConfig: "gki.config"})
	_, err := NewCoordinator(cfg, &recordingLauncher{}).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPrecondition))
}

func TestPrebuiltReportsEveryMissingFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, "prebuilts"), []string{"vmlinux", "System.map"}, "")
	cfg := load(t, root, map[string]string{config.KeyGKIPrebuiltsDir: "prebuilts"})

	_, err := NewCoordinator(cfg, &recordingLauncher{}).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPrecondition))
	for _, n := range []string{"vmlinux.symvers", "modules.builtin", "modules.builtin.modinfo", "Image.lz4"} {
		assert.Contains(t, err.Error(), n)
	}
	assert.NoDirExists(t, cfg.DistDir(), "nothing is copied when the set is incomplete")
}

func TestPrebuiltCopiesIntoDist(t *testing.T) {
	root := t.TempDir()
	prebuilts := filepath.Join(root, "prebuilts")
	writeFiles(t, prebuilts, PrebuiltFiles, "gki:")
	cfg := load(t, root, map[string]string{config.KeyGKIPrebuiltsDir: "prebuilts"})

	res, err := NewCoordinator(cfg, &recordingLauncher{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ModePrebuilt, res.Mode)
	assert.Equal(t, prebuilts, res.MixedTree)
	assert.Equal(t, PrebuiltFiles, res.Distributed)
	for _, n := range PrebuiltFiles {
		assert.FileExists(t, filepath.Join(cfg.DistDir(), n))
	}
	assert.FileExists(t, filepath.Join(cfg.KernelOutDir(), "modules.builtin"))

	// A second run finds identical files and still succeeds.
	_, err = NewCoordinator(cfg, &recordingLauncher{}).Run(context.Background(), nil)
	require.NoError(t, err)
}

func TestExecLauncherIsolatesEnvironment(t *testing.T) {
	t.Setenv("ARCH", "should-not-leak")
	cfg := load(t, t.TempDir(), map[string]string{config.KeyGKIBuildConfig: "gki.config"})
	spec := DeriveChildConfig(cfg)

	fake := &toolexec.FakeRunner{}
	l := &ExecLauncher{Runner: fake, Executable: "/usr/bin/kbuild", Dir: cfg.Root(), BuildID: "abc"}
	require.NoError(t, l.Launch(context.Background(), spec))

	require.Len(t, fake.Calls, 1)
	call := fake.Calls[0]
	assert.Equal(t, "/usr/bin/kbuild", call.Name)
	assert.Equal(t, []string{"build", "--parent-build-id", "abc"}, call.Args)
	assert.Equal(t, append(spec.Environ(), "PATH="+os.Getenv("PATH")), call.Env)
	for _, kv := range call.Env {
		assert.False(t, strings.HasPrefix(kv, "ARCH="), kv)
	}
}

func TestExecLauncherFailure(t *testing.T) {
	fake := (&toolexec.FakeRunner{}).Fail("kbuild", 2)
	l := &ExecLauncher{Runner: fake, Executable: "kbuild"}
	err := l.Launch(context.Background(), ChildInvocationSpec{})
	var te *toolexec.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Code)
}
