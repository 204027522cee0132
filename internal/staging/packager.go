package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

// Packager invokes the external packaging tools. Their output formats are
// opaque to the build; only the produced file paths matter.
type Packager struct {
	runner toolexec.Runner
	depmod string
	fsType string
}

// NewPackager returns a packager using the configured depmod binary and DLKM
// filesystem type.
func NewPackager(cfg *config.BuildConfig, runner toolexec.Runner) *Packager {
	return &Packager{
		runner: runner,
		depmod: cfg.String(config.KeyDepmod),
		fsType: cfg.String(config.KeyDLKMFsType),
	}
}

// Depmod regenerates module dependency metadata for release under root.
func (p *Packager) Depmod(ctx context.Context, root, release string) error {
	_, err := p.runner.Run(ctx, toolexec.Command{Name: p.depmod, Args: []string{"-b", root, release}})
	return err
}

// Cpio archives root as an lz4 compressed initramfs at out.
func (p *Packager) Cpio(ctx context.Context, root, out string) error {
	raw := out + ".cpio"
	f, err := os.Create(raw)
	if err != nil {
		return fmt.Errorf("create cpio archive: %w", err)
	}
	defer func() { _ = os.Remove(raw) }()
	_, err = p.runner.Run(ctx, toolexec.Command{Name: "mkbootfs", Args: []string{root}, Stdout: f})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	_, err = p.runner.Run(ctx, toolexec.Command{Name: "lz4", Args: []string{"-f", "-l", "-12", "--favor-decSpeed", raw, out}})
	return err
}

// FilesystemImage builds a read-only partition image of root at out.
func (p *Packager) FilesystemImage(ctx context.Context, root, out, mountPoint string) error {
	var cmd toolexec.Command
	switch p.fsType {
	case "ext4":
		cmd = toolexec.Command{Name: "mkuserimg_mke2fs", Args: []string{root, out, "ext4", "/" + mountPoint}}
	default:
		cmd = toolexec.Command{Name: "mkfs.erofs", Args: []string{"-zlz4hc", out, root}}
	}
	_, err := p.runner.Run(ctx, cmd)
	return err
}

// SignImage appends a verified-boot hashtree footer to image.
func (p *Packager) SignImage(ctx context.Context, image, partition string) error {
	_, err := p.runner.Run(ctx, toolexec.Command{Name: "avbtool", Args: []string{
		"add_hashtree_footer",
		"--partition_name", partition,
		"--hash_algorithm", "sha256",
		"--image", image,
	}})
	return err
}

// BootImageArgs names the inputs of a boot image.
type BootImageArgs struct {
	Kernel        string
	Ramdisk       string
	VendorRamdisk string
	Output        string
	VendorOutput  string
	HeaderVersion string
}

// BootImage assembles boot.img and, when requested, vendor_boot.img.
func (p *Packager) BootImage(ctx context.Context, a BootImageArgs) error {
	args := []string{}
	if a.HeaderVersion != "" {
		args = append(args, "--header_version", a.HeaderVersion)
	}
	if a.Kernel != "" {
		args = append(args, "--kernel", a.Kernel)
	}
	if a.Ramdisk != "" {
		args = append(args, "--ramdisk", a.Ramdisk)
	}
	if a.VendorRamdisk != "" {
		args = append(args, "--vendor_ramdisk", a.VendorRamdisk, "--vendor_boot", a.VendorOutput)
	}
	if a.Output != "" {
		args = append(args, "--output", a.Output)
	}
	_, err := p.runner.Run(ctx, toolexec.Command{Name: "mkbootimg", Args: args})
	return err
}

// Archive writes a gzip compressed tarball of dir's contents to out.
func (p *Packager) Archive(ctx context.Context, dir, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return err
	}
	_, err := p.runner.Run(ctx, toolexec.Command{Name: "tar", Args: []string{"-czf", out, "-C", dir, "."}})
	return err
}
