package stages

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/staging"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// Distribution file names produced by the dist stages.
const (
	UAPIHeadersArchive = "kernel-uapi-headers.tar.gz"
	UnstrippedDir      = "unstripped"
	ABIDefinitionFile  = "abi.xml"
)

// DistFiles copies the configured kernel out files and every staged module
// into the distribution directory.
func (t *Toolkit) DistFiles(_ context.Context, bs *models.BuildState) error {
	d := dist(bs)
	out := bs.Config.KernelOutDir()
	for _, name := range bs.Config.List(config.KeyFiles) {
		src := filepath.Join(out, name)
		if _, err := os.Stat(src); err != nil {
			slog.Warn("Configured file was not generated", logfields.Path(name))
			continue
		}
		if err := d.Copy(src, filepath.Base(name), artifactKey(filepath.Base(name))); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "distribute kernel file").WithContext("path", name).Build()
		}
	}
	if !bs.Modules.Installed {
		return nil
	}
	n := 0
	err := filepath.WalkDir(bs.Roots.Modules, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			// Filtered image trees live inside the staging root.
			if p != bs.Roots.Modules && strings.HasSuffix(e.Name(), "_staging") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".ko") {
			return nil
		}
		n++
		return d.Copy(p, e.Name(), manifest.KeyFile)
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "distribute modules").WithContext("path", bs.Roots.Modules).Build()
	}
	slog.Info("Distributed modules", logfields.Count(n))
	return nil
}

// UAPIHeaders installs the UAPI headers and archives them into the
// distribution.
func (t *Toolkit) UAPIHeaders(ctx context.Context, bs *models.BuildState) error {
	root := bs.Roots.UAPIHeaders
	if err := staging.Reset(root); err != nil {
		return stagingError(err, root)
	}
	if err := t.Make.HeadersInstall(ctx, filepath.Join(root, "usr")); err != nil {
		return err
	}
	if err := t.Packager.Archive(ctx, root, filepath.Join(bs.Config.DistDir(), UAPIHeadersArchive)); err != nil {
		return err
	}
	return dist(bs).Record(UAPIHeadersArchive, manifest.KeyFile)
}

// UnstrippedModules collects the named modules with debug info from the
// kernel object directory and distributes them, optionally as an archive.
func (t *Toolkit) UnstrippedModules(ctx context.Context, bs *models.BuildState) error {
	cfg := bs.Config
	dir := filepath.Join(bs.Roots.Private, UnstrippedDir)
	if err := staging.Reset(dir); err != nil {
		return stagingError(err, dir)
	}
	wanted := cfg.List(config.KeyUnstrippedModules)
	found, err := findByBase(filepath.Dir(cfg.KernelOutDir()), wanted)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "search unstripped modules").Build()
	}
	var missing []string
	for _, name := range wanted {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return ferrors.ConsistencyError("unstripped modules not found in the build output").
			WithContext("missing", strings.Join(missing, " ")).
			WithHint("update UNSTRIPPED_MODULES to match the built modules").
			Build()
	}

	for _, name := range wanted {
		if err := fsutil.CopyFile(found[name], filepath.Join(dir, name)); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "collect unstripped module").WithContext("path", found[name]).Build()
		}
	}

	d := dist(bs)
	if !cfg.Bool(config.KeyCompressUnstrippedModules) {
		for _, name := range wanted {
			if err := d.Copy(filepath.Join(dir, name), filepath.Join(UnstrippedDir, name), manifest.KeyFile); err != nil {
				return err
			}
		}
		return nil
	}
	archive := cfg.String(config.KeyUnstrippedModulesArchive)
	if err := t.Packager.Archive(ctx, dir, filepath.Join(cfg.DistDir(), archive)); err != nil {
		return err
	}
	return d.Record(archive, manifest.KeyModulesArchive)
}

// findByBase maps each wanted base name to the first matching file under
// root, skipping the staging trees.
func findByBase(root string, wanted []string) (map[string]string, error) {
	want := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		want[w] = true
	}
	found := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if e.Name() == "staging" || e.Name() == "dist" || e.Name() == "private" {
				return filepath.SkipDir
			}
			return nil
		}
		if want[e.Name()] {
			if _, seen := found[e.Name()]; !seen {
				found[e.Name()] = p
			}
		}
		return nil
	})
	return found, err
}

// ABIManifest records the ABI metadata and writes abi.prop and
// artifacts.yaml.
func (t *Toolkit) ABIManifest(_ context.Context, bs *models.BuildState) error {
	cfg := bs.Config
	d := dist(bs)
	if cfg.Has(config.KeyABIDefinition) {
		flags := []manifest.Flag{manifest.FlagMonitored}
		if cfg.Bool(config.KeyKMIEnforced) {
			flags = append(flags, manifest.FlagEnforced)
		}
		src := cfg.KernelPath(config.KeyABIDefinition)
		if err := d.Copy(src, ABIDefinitionFile, manifest.KeyKMIDefinition, flags...); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryPrecondition, "ABI definition missing").
				WithContext("path", src).
				Build()
		}
	}
	if bs.Symbols != nil {
		if err := d.Record(symbols.ListFile, manifest.KeyKMISymbolList); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "symbol list missing from distribution").Build()
		}
	}
	if _, ok := bs.Manifest.Get(manifest.KeyKernelBinary); !ok {
		if err := d.Record("vmlinux", manifest.KeyKernelBinary); err != nil {
			slog.Debug("No kernel binary in distribution", logfields.Error(err))
		}
	}
	bs.Manifest.KernelRelease = bs.KernelRelease
	bs.Report.KernelRelease = bs.KernelRelease

	distDir := cfg.DistDir()
	if err := bs.Manifest.WriteABIProp(distDir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write abi.prop").WithContext("path", distDir).Build()
	}
	if err := bs.Manifest.WriteYAML(distDir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write artifact manifest").WithContext("path", distDir).Build()
	}
	slog.Info("Wrote distribution manifest", logfields.Count(len(bs.Manifest.Entries())), logfields.Path(distDir))
	return nil
}
