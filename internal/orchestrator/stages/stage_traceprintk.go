package stages

import (
	"bytes"
	"context"
	"debug/elf"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

const tracePrintkSection = "__trace_printk_fmt"

// ErrTracePrintk reports debug tracing left in a kernel image.
var ErrTracePrintk = errors.New("trace_printk found in vmlinux")

// TracePrintkCheck warns when the built kernel contains trace_printk
// format strings. STOP_SHIP_TRACEPRINTK makes the pipeline treat it as
// fatal.
func (t *Toolkit) TracePrintkCheck(_ context.Context, bs *models.BuildState) error {
	vmlinux := filepath.Join(bs.Config.KernelOutDir(), "vmlinux")
	found, err := HasTracePrintk(vmlinux)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No vmlinux to check for trace_printk", slog.String("vmlinux", vmlinux))
		return nil
	}
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "inspect vmlinux").WithContext("path", vmlinux).Build()
	}
	if !found {
		return nil
	}
	b := ferrors.WrapError(ErrTracePrintk, ferrors.CategoryAdvisory, "debug tracing present in kernel image").
		WithContext("path", vmlinux).
		WithHint("remove trace_printk() calls before shipping")
	if bs.Config.Bool(config.KeyStopShipTracePrintk) {
		b = b.Fatal()
	} else {
		b = b.Warning()
	}
	return b.Build()
}

// HasTracePrintk reports whether vmlinux has a non-empty trace_printk
// format section. Files that are not ELF are searched for the section name.
func HasTracePrintk(vmlinux string) (bool, error) {
	f, err := elf.Open(vmlinux)
	if err == nil {
		defer func() { _ = f.Close() }()
		s := f.Section(tracePrintkSection)
		return s != nil && s.Size > 0, nil
	}
	data, rerr := os.ReadFile(vmlinux)
	if rerr != nil {
		return false, rerr
	}
	return bytes.Contains(data, []byte(tracePrintkSection)), nil
}
