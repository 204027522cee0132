package commands

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
)

func newParser(t *testing.T, cli *CLI) *kong.Kong {
	t.Helper()
	p, err := kong.New(cli, kong.Bind(&Global{}), kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
	require.NoError(t, err)
	return p
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for env, want := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(LogLevelEnv, env)
			assert.Equal(t, want, parseLogLevel(false))
		})
	}
	t.Setenv(LogLevelEnv, "error")
	assert.Equal(t, slog.LevelDebug, parseLogLevel(true))
}

func TestParseBuildFlags(t *testing.T) {
	cli := &CLI{}
	ctx, err := newParser(t, cli).Parse([]string{
		"build", "--strict-config", "--metrics-file", "/tmp/kbuild.prom",
		"--parent-build-id", "parent-1", "--events-url", "nats://localhost:4222",
	})
	require.NoError(t, err)
	assert.Equal(t, "build", ctx.Command())
	assert.True(t, cli.StrictConfig)
	assert.Equal(t, "/tmp/kbuild.prom", cli.Build.MetricsFile)
	assert.Equal(t, "parent-1", cli.Build.ParentBuildID)
	assert.Equal(t, "nats://localhost:4222", cli.Build.EventsURL)
	assert.Equal(t, "kbuild.events", cli.Build.EventsSubject)
}

func TestParseSymbolsCompareDefaults(t *testing.T) {
	cli := &CLI{}
	ctx, err := newParser(t, cli).Parse([]string{"symbols", "compare", "--symvers", "/k/Module.symvers", "--list", "/k/abi"})
	require.NoError(t, err)
	assert.Equal(t, "symbols compare", ctx.Command())
	assert.Equal(t, []string{"vmlinux"}, cli.Symbols.Compare.Objects)
}

func TestParseConfigShowRejectsUnknownFormat(t *testing.T) {
	_, err := newParser(t, &CLI{}).Parse([]string{"config", "show", "--format", "json"})
	assert.Error(t, err)
}

func TestConfigShowRendersEnvAndYAML(t *testing.T) {
	cfg, err := config.FromValues(t.TempDir(), map[string]string{
		config.KeyArch:      "arm64",
		config.KeyDefconfig: "gki_defconfig",
	})
	require.NoError(t, err)

	var env bytes.Buffer
	require.NoError(t, (&ConfigShowCmd{Format: "env", out: &env}).render(cfg))
	assert.Equal(t, "ARCH=arm64\nDEFCONFIG=gki_defconfig\n", env.String())

	var y bytes.Buffer
	require.NoError(t, (&ConfigShowCmd{Format: "yaml", out: &y}).render(cfg))
	var doc map[string]map[string]string
	require.NoError(t, yaml.Unmarshal(y.Bytes(), &doc))
	assert.Equal(t, "arm64", doc["ARCH"]["value"])
	assert.Equal(t, "env", doc["ARCH"]["origin"])
}

func TestConfigChildEnv(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.FromValues(root, map[string]string{
		config.KeyGKIBuildConfig:                 "common/build.config.gki.aarch64",
		config.ChildPrefix + config.KeyDefconfig: "gki_defconfig",
		config.KeyDefconfig:                      "vendor_defconfig",
		config.KeyExtModules:                     "vendor/mods",
		config.KeyOutDir:                         "out",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, (&ConfigChildEnvCmd{out: &out}).render(cfg))
	s := out.String()
	assert.Contains(t, s, "DEFCONFIG=gki_defconfig\n")
	assert.Contains(t, s, "EXT_MODULES=\n")
	assert.Contains(t, s, "GKI_BUILD_CONFIG=\n")
	assert.Contains(t, s, "OUT_DIR="+filepath.Join(root, "out", "gki_kernel")+"\n")
	assert.NotContains(t, s, "vendor_defconfig")
}

func TestConfigChildEnvWithoutMixedBuild(t *testing.T) {
	cfg, err := config.FromValues(t.TempDir(), nil)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, (&ConfigChildEnvCmd{out: &out}).render(cfg))
	assert.Contains(t, out.String(), "DIST_DIR=")
}

func TestSymbolsMerge(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "abi_gki_aarch64")
	b := filepath.Join(dir, "abi_gki_aarch64_vendor")
	require.NoError(t, os.WriteFile(a, []byte("[abi_symbol_list]\n  sym_b\n  sym_a\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("# vendor\nsym_a\nsym_c\n"), 0o600))
	out := filepath.Join(dir, "out")

	var stdout bytes.Buffer
	cmd := &SymbolsMergeCmd{Out: out, Lists: []string{a, b}, out: &stdout}
	require.NoError(t, cmd.Run())

	merged, err := os.ReadFile(filepath.Join(out, symbols.ListFile))
	require.NoError(t, err)
	assert.Equal(t, "[abi_symbol_list]\n  sym_a\n  sym_b\n  sym_c\n", string(merged))
	raw, err := os.ReadFile(filepath.Join(out, symbols.RawFile))
	require.NoError(t, err)
	assert.Equal(t, "sym_a\nsym_b\nsym_c\n", string(raw))
	assert.FileExists(t, filepath.Join(out, symbols.ReportFile))
	assert.Contains(t, stdout.String(), "merged 3 symbols from 2 lists")
}

func TestSymbolsMergeMissingList(t *testing.T) {
	dir := t.TempDir()
	cmd := &SymbolsMergeCmd{Out: dir, Lists: []string{filepath.Join(dir, "missing")}, out: &bytes.Buffer{}}
	err := cmd.Run()
	require.Error(t, err)
	assert.Equal(t, ferrors.CategoryPrecondition, ferrors.GetCategory(err))
}

func TestSymbolsCompare(t *testing.T) {
	dir := t.TempDir()
	symvers := filepath.Join(dir, "Module.symvers")
	require.NoError(t, os.WriteFile(symvers, []byte(
		"0x1\tsym_a\tvmlinux\tEXPORT_SYMBOL_GPL\n"+
			"0x2\tsym_b\tvmlinux\tEXPORT_SYMBOL\n"+
			"0x3\tsym_mod\tdrivers/foo\tEXPORT_SYMBOL\n"), 0o600))
	list := filepath.Join(dir, "abi")

	require.NoError(t, os.WriteFile(list, []byte("sym_a\nsym_b\n"), 0o600))
	cmd := &SymbolsCompareCmd{Symvers: symvers, List: list, Objects: []string{"vmlinux"}}
	require.NoError(t, cmd.Run())

	require.NoError(t, os.WriteFile(list, []byte("sym_a\n"), 0o600))
	err := cmd.Run()
	require.Error(t, err)
	var mismatch *symbols.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"sym_b"}, mismatch.Extra)
	assert.Equal(t, ferrors.ExitConsistency, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}
