package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
)

// Roots are the well-known staging directories of one build.
type Roots struct {
	Modules     string
	Private     string
	UAPIHeaders string
	Initramfs   string
	SystemDLKM  string
	VendorDLKM  string
	Mkbootimg   string
}

// RootsFor derives the staging layout from the configuration.
func RootsFor(cfg *config.BuildConfig) Roots {
	modules := cfg.ModulesStagingDir()
	common := cfg.CommonOutDir()
	return Roots{
		Modules:     modules,
		Private:     filepath.Join(common, "private"),
		UAPIHeaders: filepath.Join(common, "kernel_uapi_headers"),
		Initramfs:   filepath.Join(modules, "initramfs_staging"),
		SystemDLKM:  filepath.Join(modules, "system_dlkm_staging"),
		VendorDLKM:  filepath.Join(modules, "vendor_dlkm_staging"),
		Mkbootimg:   filepath.Join(modules, "mkbootimg_staging"),
	}
}

// All returns every root, general module staging first.
func (r Roots) All() []string {
	return []string{r.Modules, r.Private, r.UAPIHeaders, r.Initramfs, r.SystemDLKM, r.VendorDLKM, r.Mkbootimg}
}

// Reset removes dir and everything in it, then recreates it empty.
func Reset(dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("refusing to reset staging root %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clean staging root: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create staging root: %w", err)
	}
	slog.Debug("Reset staging root", logfields.Path(dir))
	return nil
}
