package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/mixed"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

type fakeLauncher struct {
	specs  []mixed.ChildInvocationSpec
	launch func(spec mixed.ChildInvocationSpec) error
}

func (f *fakeLauncher) Launch(_ context.Context, spec mixed.ChildInvocationSpec) error {
	f.specs = append(f.specs, spec)
	if f.launch != nil {
		return f.launch(spec)
	}
	return nil
}

type env struct {
	root      string
	kernelDir string
	outDir    string
	kernelOut string
	distDir   string
	fake      *toolexec.FakeRunner
	launcher  *fakeLauncher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:      root,
		kernelDir: filepath.Join(root, "common"),
		outDir:    filepath.Join(root, "out"),
		distDir:   filepath.Join(root, "dist"),
		fake:      &toolexec.FakeRunner{},
		launcher:  &fakeLauncher{},
	}
	e.kernelOut = filepath.Join(e.outDir, "common")
	require.NoError(t, os.MkdirAll(e.kernelDir, 0o750))
	return e
}

func (e *env) values(extra map[string]string) map[string]string {
	v := map[string]string{
		config.KeyKernelDir:       e.kernelDir,
		config.KeyOutDir:          e.outDir,
		config.KeyDistDir:         e.distDir,
		config.KeySkipCpKernelHdr: "1",
	}
	for k, val := range extra {
		v[k] = val
	}
	return v
}

func (e *env) run(t *testing.T, extra map[string]string) (*models.BuildReport, error) {
	t.Helper()
	cfg, err := config.FromValues(e.root, e.values(extra))
	require.NoError(t, err)
	o := New(cfg, WithRunner(e.fake), WithLauncher(e.launcher), WithBuildID("test-build"))
	return o.Run(context.Background())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func exitCode(err error) int {
	return ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err)
}

func TestMixedSourceBuildRejectsImageTargetsBeforeLaunch(t *testing.T) {
	e := newEnv(t)
	report, err := e.run(t, map[string]string{
		config.KeyGKIBuildConfig: "build.config.gki",
		config.KeyMakeGoals:      "Image modules",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, mixed.ErrImageInMixedBuild)
	assert.Contains(t, err.Error(), "image compilation not supported in mixed build")
	assert.Equal(t, ferrors.ExitConfig, exitCode(err))
	assert.Empty(t, e.launcher.specs)
	assert.Empty(t, e.fake.Calls)
	assert.Empty(t, report.StagesRun)
	assert.Equal(t, models.OutcomeFailed, report.Outcome)
}

func TestStrictModeWithoutListFailsBeforeCompile(t *testing.T) {
	for name, extra := range map[string]map[string]string{
		"no list": {config.KeyKMIStrictMode: "1", config.KeyTrimNonlistedKMI: "1"},
		"no trim": {config.KeyKMIStrictMode: "1", config.KeyKMISymbolList: "android/abi_gki"},
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.run(t, extra)
			require.Error(t, err)
			assert.Equal(t, ferrors.ExitConfig, exitCode(err))
			assert.False(t, e.fake.Called("make"))
		})
	}
}

// kmiEnv scripts a build whose compile exports sym_a, sym_b and sym_c from
// vmlinux while the symbol list names sym_a and sym_b.
func kmiEnv(t *testing.T) *env {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.kernelDir, "android", "abi_gki"), "[abi_symbol_list]\n  sym_a\n  sym_b\n")
	e.fake.
		On("gki_defconfig", func(toolexec.Command) (toolexec.Result, error) {
			writeFile(t, filepath.Join(e.kernelOut, ".config"), "CONFIG_UNUSED_SYMBOLS=y\n")
			return toolexec.Result{}, nil
		}).
		On(" vmlinux modules", func(toolexec.Command) (toolexec.Result, error) {
			writeFile(t, filepath.Join(e.kernelOut, "vmlinux"), "ELF-ish\x00Linux version 5.10.43 \x00")
			writeFile(t, filepath.Join(e.kernelOut, symbols.SymversFile),
				"0x1\tsym_a\tvmlinux\tEXPORT_SYMBOL_GPL\t\n"+
					"0x2\tsym_b\tvmlinux\tEXPORT_SYMBOL_GPL\t\n"+
					"0x3\tsym_c\tvmlinux\tEXPORT_SYMBOL\t\n"+
					"0x4\tsym_d\tdrivers/foo.ko\tEXPORT_SYMBOL\t\n")
			return toolexec.Result{}, nil
		}).
		On("kernelrelease", func(toolexec.Command) (toolexec.Result, error) {
			return toolexec.Result{Stdout: "5.10.43-android\n"}, nil
		})
	return e
}

func kmiValues(strict bool) map[string]string {
	v := map[string]string{
		config.KeyDefconfig:        "gki_defconfig",
		config.KeySkipMrproper:     "1",
		config.KeyKMISymbolList:    "android/abi_gki",
		config.KeyTrimNonlistedKMI: "1",
	}
	if strict {
		v[config.KeyKMIStrictMode] = "1"
	}
	return v
}

func TestStrictModeReportsUnexpectedExport(t *testing.T) {
	e := kmiEnv(t)
	report, err := e.run(t, kmiValues(true))
	require.Error(t, err)

	var mm *symbols.MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, []string{"sym_c"}, mm.Extra)
	assert.Empty(t, mm.Missing)
	assert.Equal(t, ferrors.ExitConsistency, exitCode(err))

	assert.Contains(t, report.StagesRun, models.StageCompile)
	assert.Equal(t, models.StageSymbolListVerify, report.StagesRun[len(report.StagesRun)-1])
	assert.NotContains(t, report.StagesRun, models.StageDistFiles)

	// Trimming was injected before compilation.
	dotConfig, rerr := os.ReadFile(filepath.Join(e.kernelOut, ".config"))
	require.NoError(t, rerr)
	assert.Contains(t, string(dotConfig), "CONFIG_TRIM_UNUSED_KSYMS=y")
	assert.Contains(t, string(dotConfig), "# CONFIG_UNUSED_SYMBOLS is not set")
	assert.Contains(t, string(dotConfig), "CONFIG_UNUSED_KSYMS_WHITELIST=")

	_, statErr := os.Stat(filepath.Join(e.distDir, models.ReportJSONFile))
	assert.NoError(t, statErr, "report is persisted on failure")
}

func TestTrimWithoutStrictSucceeds(t *testing.T) {
	e := kmiEnv(t)
	report, err := e.run(t, kmiValues(false))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, report.Outcome)
	assert.Contains(t, report.StagesSkipped, models.StageSymbolListVerify)
	assert.Equal(t, "5.10.43-android", report.KernelRelease)

	raw, rerr := os.ReadFile(filepath.Join(e.kernelOut, symbols.RawFile))
	require.NoError(t, rerr)
	assert.Equal(t, []string{"sym_a", "sym_b"}, strings.Fields(string(raw)))

	prop, rerr := os.ReadFile(filepath.Join(e.distDir, manifest.ABIPropFile))
	require.NoError(t, rerr)
	assert.Equal(t, "KMI_SYMBOL_LIST=abi_symbollist\nKERNEL_BINARY=vmlinux\n", string(prop))

	doc, rerr := manifest.ReadYAML(filepath.Join(e.distDir, manifest.ArtifactsFile))
	require.NoError(t, rerr)
	assert.Equal(t, "test-build", doc.BuildID)
	assert.Equal(t, "5.10.43-android", doc.KernelRelease)
}

func TestVersionShortcutExitsEarly(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.kernelDir, "Makefile"), "VERSION = 5\nPATCHLEVEL = 10\nSUBLEVEL = 43\nEXTRAVERSION =\n")
	writeFile(t, filepath.Join(e.distDir, "vmlinux"), "\x7fELF junk Linux version 5.10.43 (builder@host) #1 SMP\x00")
	e.fake.On("kernelrelease", func(toolexec.Command) (toolexec.Result, error) {
		return toolexec.Result{Stdout: "5.10.43\n"}, nil
	})

	report, err := e.run(t, map[string]string{
		config.KeySkipIfVersionMatch: "1",
		config.KeySkipMrproper:       "1",
		config.KeySkipDefconfig:      "1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode(err))
	assert.Equal(t, models.OutcomeEarlyExit, report.Outcome)
	assert.Equal(t, "version_matches", report.SkipReason)
	assert.Equal(t, []models.StageName{models.StagePrepare, models.StageVersionShortcut}, report.StagesRun)
	require.Len(t, e.fake.Calls, 1)
	assert.True(t, e.fake.Called("-s -C "+e.kernelDir))
	assert.True(t, e.fake.Called("kernelrelease"))
}

func TestVersionShortcutBuildsOnMismatch(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.kernelDir, "Makefile"), "VERSION = 5\nPATCHLEVEL = 10\nSUBLEVEL = 44\n")
	writeFile(t, filepath.Join(e.distDir, "vmlinux"), "Linux version 5.10.43 \x00")
	e.fake.On("kernelrelease", func(toolexec.Command) (toolexec.Result, error) {
		return toolexec.Result{Stdout: "5.10.44\n"}, nil
	})

	report, err := e.run(t, map[string]string{
		config.KeySkipIfVersionMatch: "1",
		config.KeySkipMrproper:       "1",
		config.KeySkipDefconfig:      "1",
	})
	require.NoError(t, err)
	assert.Empty(t, report.SkipReason)
	assert.Contains(t, report.StagesRun, models.StageCompile)
}

func TestMixedSourceBuildUsesChildTree(t *testing.T) {
	e := newEnv(t)
	gkiDist := filepath.Join(e.outDir, "gki_kernel", "dist")
	e.launcher.launch = func(mixed.ChildInvocationSpec) error {
		for _, name := range mixed.MixedTreeFiles {
			writeFile(t, filepath.Join(gkiDist, name), name)
		}
		return nil
	}
	report, err := e.run(t, map[string]string{
		config.KeyGKIBuildConfig: "build.config.gki",
		config.KeyMakeGoals:      "modules",
		config.KeySkipMrproper:   "1",
		config.KeySkipDefconfig:  "1",
		config.KeyExtModules:     "GKI_SHOULD_NOT_LEAK",
		config.KeySkipExtModules: "1",
	})
	require.NoError(t, err)
	require.Len(t, e.launcher.specs, 1)
	v, ok := e.launcher.specs[0].Get(config.KeyExtModules)
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, mixed.ModeSource.String(), report.MixedMode)

	assert.True(t, e.fake.Called("KBUILD_MIXED_TREE="+gkiDist))
	for _, name := range mixed.MixedTreeFiles {
		assert.FileExists(t, filepath.Join(e.kernelOut, name))
	}
}

func TestMixedChildFailurePropagatesStatus(t *testing.T) {
	e := newEnv(t)
	e.launcher.launch = func(mixed.ChildInvocationSpec) error {
		return &toolexec.ToolError{Tool: "kbuild", Code: 42}
	}
	_, err := e.run(t, map[string]string{
		config.KeyGKIBuildConfig: "build.config.gki",
		config.KeyMakeGoals:      "modules",
	})
	require.Error(t, err)
	assert.Equal(t, 42, exitCode(err))
	assert.False(t, e.fake.Called("make"))
}

func TestToolFailureAbortsWithToolStatus(t *testing.T) {
	e := newEnv(t)
	e.fake.Fail("vmlinux modules", 2)
	report, err := e.run(t, map[string]string{config.KeySkipMrproper: "1", config.KeySkipDefconfig: "1"})
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.NotContains(t, report.StagesRun, models.StageDistFiles)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, models.IssueToolFailure, report.Issues[0].Code)
}

func TestHooksRunAtTheirPoints(t *testing.T) {
	e := newEnv(t)
	e.fake.On("gki_defconfig", func(toolexec.Command) (toolexec.Result, error) {
		writeFile(t, filepath.Join(e.kernelOut, ".config"), "CONFIG_MODULES=y\n")
		return toolexec.Result{}, nil
	})
	_, err := e.run(t, map[string]string{
		config.KeySkipMrproper:      "1",
		config.KeyDefconfig:         "gki_defconfig",
		config.KeyPreDefconfigCmds:  "echo pre",
		config.KeyPostDefconfigCmds: "echo 'post defconfig'",
		config.KeyDistCmds:          "./dist.sh --final",
	})
	require.NoError(t, err)

	lines := e.fake.Lines()
	idx := func(s string) int {
		for i, l := range lines {
			if l == s || strings.Contains(l, s) {
				return i
			}
		}
		return -1
	}
	pre, def, post, dist := idx("echo pre"), idx("gki_defconfig"), idx("echo post defconfig"), idx("./dist.sh --final")
	require.True(t, pre >= 0 && def >= 0 && post >= 0 && dist >= 0, "lines: %v", lines)
	assert.Less(t, pre, def)
	assert.Less(t, def, post)
	assert.Equal(t, len(lines)-1, dist)

	for _, c := range e.fake.Calls {
		if c.Name == "echo" {
			assert.Contains(t, c.Env, "DIST_DIR="+e.distDir)
			assert.Contains(t, c.Env, "OUT_DIR="+e.kernelOut)
			assert.Equal(t, e.root, c.Dir)
		}
	}
}

func TestHookOutDirHoldsKernelConfig(t *testing.T) {
	e := newEnv(t)
	e.fake.On("gki_defconfig", func(toolexec.Command) (toolexec.Result, error) {
		writeFile(t, filepath.Join(e.kernelOut, ".config"), "CONFIG_MODULES=y\n")
		return toolexec.Result{}, nil
	})
	var outDir string
	e.fake.On("check-config", func(c toolexec.Command) (toolexec.Result, error) {
		for _, kv := range c.Env {
			if v, ok := strings.CutPrefix(kv, config.KeyOutDir+"="); ok {
				outDir = v
			}
		}
		return toolexec.Result{}, nil
	})
	_, err := e.run(t, map[string]string{
		config.KeySkipMrproper:      "1",
		config.KeyDefconfig:         "gki_defconfig",
		config.KeyPostDefconfigCmds: "./check-config",
	})
	require.NoError(t, err)
	require.NotEmpty(t, outDir)
	assert.FileExists(t, filepath.Join(outDir, ".config"))
}

func TestPostDefconfigHookNeedsDefconfig(t *testing.T) {
	e := newEnv(t)
	report, err := e.run(t, map[string]string{
		config.KeySkipMrproper:      "1",
		config.KeySkipDefconfig:     "1",
		config.KeyPreDefconfigCmds:  "echo pre",
		config.KeyPostDefconfigCmds: "echo post",
	})
	require.NoError(t, err)
	assert.True(t, e.fake.Called("echo pre"))
	assert.False(t, e.fake.Called("echo post"))
	assert.Contains(t, report.StagesSkipped, models.StageDefconfig)
	assert.Contains(t, report.StagesSkipped, models.StageHookPostDefconfig)
}

func TestPipelineOrder(t *testing.T) {
	e := newEnv(t)
	cfg, err := config.FromValues(e.root, e.values(nil))
	require.NoError(t, err)
	tk, err := New(cfg, WithRunner(e.fake)).toolkit()
	require.NoError(t, err)

	var names []models.StageName
	for _, d := range Pipeline(cfg, tk) {
		names = append(names, d.Name)
	}
	assert.Equal(t, []models.StageName{
		models.StagePrepare, models.StageMixedBuild, models.StageMrproper,
		models.StageHookPreDefconfig, models.StageDefconfig, models.StageHookPostDefconfig,
		models.StageLTOConfig, models.StageVersionShortcut, models.StageTags,
		models.StageSymbolListPrepare, models.StageCompile, models.StageHookPostCompile,
		models.StageSymbolListVerify, models.StageTracePrintkCheck, models.StageModulesInstall,
		models.StageExtModules, models.StageHookPostInstall, models.StageDistFiles,
		models.StageUAPIHeaders, models.StageUnstrippedModules, models.StageInitramfs,
		models.StageSystemDLKM, models.StageVendorDLKM, models.StageBootImages,
		models.StageABIManifest, models.StageHookPostDist,
	}, names)
}
