package stages

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/staging"
	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// Image file names in the distribution directory.
const (
	InitramfsImage  = "initramfs.img"
	SystemDLKMImage = "system_dlkm.img"
	VendorDLKMImage = "vendor_dlkm.img"
	BootImage       = "boot.img"
	VendorBootImage = "vendor_boot.img"
)

// mkbootimgRamdisk is the ramdisk name inside the mkbootimg staging root.
const mkbootimgRamdisk = "ramdisk.img"

// ErrNoModulesStaged is returned when an image needs modules but no module
// installation stage ran.
var ErrNoModulesStaged = errors.New("no modules were installed into staging")

// kernelImages are candidate kernel images for boot.img, in preference order.
var kernelImages = []string{"Image.lz4", "Image.gz", "Image"}

// moduleImage describes one filtered module image.
type moduleImage struct {
	stage     models.StageName
	root      func(staging.Roots) string
	allowKey  string
	blockKey  string
	partition string
}

var (
	initramfsImage = moduleImage{
		stage:    models.StageInitramfs,
		root:     func(r staging.Roots) string { return r.Initramfs },
		allowKey: config.KeyModulesList,
		blockKey: config.KeyModulesBlocklist,
	}
	systemDLKMImage = moduleImage{
		stage:     models.StageSystemDLKM,
		root:      func(r staging.Roots) string { return r.SystemDLKM },
		allowKey:  config.KeySystemDLKMModulesList,
		blockKey:  config.KeySystemDLKMModulesBlocklist,
		partition: "system_dlkm",
	}
	vendorDLKMImage = moduleImage{
		stage:     models.StageVendorDLKM,
		root:      func(r staging.Roots) string { return r.VendorDLKM },
		allowKey:  config.KeyVendorDLKMModulesList,
		blockKey:  config.KeyVendorDLKMModulesBlocklist,
		partition: "vendor_dlkm",
	}
)

// readFilter loads the allow- and block-lists of an image. An unset
// allow-list keeps every module.
func readFilter(cfg *config.BuildConfig, img moduleImage) (staging.Filter, error) {
	var f staging.Filter
	if cfg.Has(img.allowKey) {
		allow, err := staging.ReadModuleList(cfg.Path(img.allowKey))
		if err != nil {
			return f, listError(err, img.allowKey, cfg.Path(img.allowKey))
		}
		f.Allow = allow
	}
	if cfg.Has(img.blockKey) {
		block, err := staging.ReadModuleList(cfg.Path(img.blockKey))
		if err != nil {
			return f, listError(err, img.blockKey, cfg.Path(img.blockKey))
		}
		f.Block = block
	}
	return f, nil
}

func listError(err error, key, path string) error {
	return ferrors.WrapError(err, ferrors.CategoryPrecondition, "module list unreadable").
		WithContext("keys", key).
		WithContext("path", path).
		Build()
}

// filterImage builds the filtered module tree of img and runs depmod on it.
// Allow-listed modules that were not built are a consistency error.
func (t *Toolkit) filterImage(ctx context.Context, bs *models.BuildState, img moduleImage) (string, staging.Selection, error) {
	if !bs.Modules.Installed {
		return "", staging.Selection{}, ferrors.WrapError(ErrNoModulesStaged, ferrors.CategoryPrecondition, "cannot build module image").
			WithContext("stage", string(img.stage)).
			WithHint("set IN_KERNEL_MODULES=1 or EXT_MODULES").
			Build()
	}
	f, err := readFilter(bs.Config, img)
	if err != nil {
		return "", staging.Selection{}, err
	}
	if f.Allow != nil {
		missing, err := staging.MissingFromTree(bs.Roots.Modules, f.Allow)
		if err != nil {
			return "", staging.Selection{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "scan module staging").Build()
		}
		if len(missing) > 0 {
			return "", staging.Selection{}, ferrors.ConsistencyError("module list names modules that were not built").
				WithContext("keys", img.allowKey).
				WithContext("missing", strings.Join(missing, " ")).
				WithHint("update " + img.allowKey + " to match the built modules").
				Build()
		}
	}
	root := img.root(bs.Roots)
	if err := staging.Reset(root); err != nil {
		return "", staging.Selection{}, stagingError(err, root)
	}
	sel, err := staging.FilterModules(bs.Roots.Modules, root, f)
	if err != nil {
		return "", staging.Selection{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "filter modules").WithContext("path", root).Build()
	}
	bs.Modules.Selections[img.stage] = sel
	slog.Info("Filtered modules", logfields.Stage(string(img.stage)), logfields.Count(len(sel.Modules)))
	if err := t.Packager.Depmod(ctx, root, sel.Release); err != nil {
		return "", staging.Selection{}, err
	}
	return root, sel, nil
}

// Initramfs packs the filtered modules into an lz4 compressed ramdisk.
func (t *Toolkit) Initramfs(ctx context.Context, bs *models.BuildState) error {
	root, sel, err := t.filterImage(ctx, bs, initramfsImage)
	if err != nil {
		return err
	}
	d := dist(bs)
	load := filepath.Join(root, "lib", "modules", sel.Release, staging.ModulesLoadFile)
	if err := d.Copy(load, staging.ModulesLoadFile, manifest.KeyFile); err != nil {
		return err
	}
	if err := t.Packager.Cpio(ctx, root, filepath.Join(d.Dir(), InitramfsImage)); err != nil {
		return err
	}
	return d.Record(InitramfsImage, manifest.KeyFile)
}

// SystemDLKM builds and signs the system_dlkm partition image.
func (t *Toolkit) SystemDLKM(ctx context.Context, bs *models.BuildState) error {
	return t.dlkm(ctx, bs, systemDLKMImage, SystemDLKMImage, true)
}

// VendorDLKM builds the vendor_dlkm partition image.
func (t *Toolkit) VendorDLKM(ctx context.Context, bs *models.BuildState) error {
	return t.dlkm(ctx, bs, vendorDLKMImage, VendorDLKMImage, false)
}

func (t *Toolkit) dlkm(ctx context.Context, bs *models.BuildState, img moduleImage, name string, sign bool) error {
	root, _, err := t.filterImage(ctx, bs, img)
	if err != nil {
		return err
	}
	d := dist(bs)
	out := filepath.Join(d.Dir(), name)
	if err := t.Packager.FilesystemImage(ctx, root, out, img.partition); err != nil {
		return err
	}
	if sign {
		if err := t.Packager.SignImage(ctx, out, img.partition); err != nil {
			return err
		}
	}
	return d.Record(name, manifest.KeyFile)
}

// BootImages assembles boot.img and vendor_boot.img from the distributed
// kernel image and initramfs. The initramfs is staged into the mkbootimg
// root and goes into boot.img for header versions below 3, into
// vendor_boot.img otherwise.
func (t *Toolkit) BootImages(ctx context.Context, bs *models.BuildState) error {
	cfg := bs.Config
	d := dist(bs)
	headerVersion, err := strconv.Atoi(cfg.String(config.KeyBootImageHeaderVersion))
	if err != nil || headerVersion < 0 {
		return ferrors.ConfigError("boot image header version must be a non-negative number").
			WithContext("keys", config.KeyBootImageHeaderVersion).
			Build()
	}
	if headerVersion < 3 && cfg.Bool(config.KeyBuildVendorBootImg) {
		return ferrors.ConfigError("vendor_boot.img needs boot image header version 3 or later").
			WithContext("keys", config.KeyBuildVendorBootImg+","+config.KeyBootImageHeaderVersion).
			Build()
	}
	if err := staging.Reset(bs.Roots.Mkbootimg); err != nil {
		return stagingError(err, bs.Roots.Mkbootimg)
	}
	args := staging.BootImageArgs{HeaderVersion: strconv.Itoa(headerVersion)}
	if cfg.Bool(config.KeyBuildBootImg) {
		kernel, err := findKernelImage(d.Dir())
		if err != nil {
			return err
		}
		args.Kernel = kernel
		args.Output = filepath.Join(d.Dir(), BootImage)
	}

	initramfs := filepath.Join(d.Dir(), InitramfsImage)
	_, rerr := os.Stat(initramfs)
	hasRamdisk := rerr == nil
	ramdisk := filepath.Join(bs.Roots.Mkbootimg, mkbootimgRamdisk)
	if hasRamdisk {
		if err := fsutil.CopyFile(initramfs, ramdisk); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "stage boot ramdisk").
				WithContext("path", ramdisk).
				Build()
		}
	}

	if headerVersion < 3 {
		if args.Output != "" && hasRamdisk {
			args.Ramdisk = ramdisk
		}
	} else {
		vendor := cfg.Bool(config.KeyBuildVendorBootImg) ||
			(cfg.Bool(config.KeyBuildBootImg) && !cfg.Bool(config.KeySkipVendorBoot) && hasRamdisk)
		if vendor {
			if !hasRamdisk {
				return ferrors.PreconditionError("vendor_boot.img needs an initramfs").
					WithContext("path", initramfs).
					WithHint("set BUILD_INITRAMFS=1").
					Build()
			}
			args.VendorRamdisk = ramdisk
			args.VendorOutput = filepath.Join(d.Dir(), VendorBootImage)
		}
	}
	if args.Output == "" && args.VendorOutput == "" {
		return nil
	}
	if err := t.Packager.BootImage(ctx, args); err != nil {
		return err
	}
	if args.Output != "" {
		if err := d.Record(BootImage, manifest.KeyFile); err != nil {
			return err
		}
	}
	if args.VendorOutput != "" {
		return d.Record(VendorBootImage, manifest.KeyFile)
	}
	return nil
}

func findKernelImage(distDir string) (string, error) {
	for _, name := range kernelImages {
		p := filepath.Join(distDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ferrors.PreconditionError("no kernel image in the distribution").
		WithContext("path", distDir).
		WithContext("candidates", strings.Join(kernelImages, " ")).
		WithHint("add the kernel image to FILES").
		Build()
}
