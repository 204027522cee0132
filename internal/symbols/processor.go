package symbols

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/kconfig"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// Output file names.
const (
	ListFile    = "abi_symbollist"
	ReportFile  = "abi_symbollist.report"
	RawFile     = "abi_symbollist.raw"
	SymversFile = "Module.symvers"
)

// InternalLists are always merged after the configured lists when present
// in the kernel tree.
var InternalLists = []string{
	"android/abi_symbollist.core",
	"android/abi_symbollist.debug",
}

// ErrTrimUnsupported is returned when the kernel configuration dropped the
// symbol allow-list option after it was injected.
var ErrTrimUnsupported = errors.New("kernel does not support TRIM_UNUSED_KSYMS with an allow-list")

// Reconfigurer re-resolves kernel configuration dependencies.
type Reconfigurer interface {
	Olddefconfig(ctx context.Context) error
}

// Processor runs the symbol list stages of a build.
type Processor struct {
	cfg  *config.BuildConfig
	kcfg Reconfigurer
	mode Mode
}

// NewProcessor validates the symbol list flags and returns a processor.
func NewProcessor(cfg *config.BuildConfig, r Reconfigurer) (*Processor, error) {
	mode, err := ModeFor(cfg)
	if err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg, kcfg: r, mode: mode}, nil
}

// Mode returns the enforcement mode.
func (p *Processor) Mode() Mode { return p.mode }

// Enabled reports whether a symbol list is configured.
func (p *Processor) Enabled() bool { return p.cfg.Has(config.KeyKMISymbolList) }

// RawPath is where the flattened list is written for the kernel build.
func (p *Processor) RawPath() string { return filepath.Join(p.cfg.KernelOutDir(), RawFile) }

// Sources loads the configured lists followed by the internal ones.
func (p *Processor) Sources() ([]Source, error) {
	declared := append([]string{p.cfg.String(config.KeyKMISymbolList)}, p.cfg.List(config.KeyAdditionalKMISymbolList)...)
	kernelDir := p.cfg.KernelDir()
	var out []Source
	for _, rel := range declared {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(kernelDir, rel)
		}
		src, err := ParseFile(path, rel)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryPrecondition, "symbol list not found").
				WithContext("path", path).
				Build()
		}
		out = append(out, src)
	}
	for _, rel := range InternalLists {
		src, err := ParseFile(filepath.Join(kernelDir, rel), rel)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryPrecondition, "unreadable internal symbol list").
				WithContext("path", rel).
				Build()
		}
		out = append(out, src)
	}
	return out, nil
}

// Prepare merges the symbol lists and writes them into the distribution.
// With trimming enabled it also injects the allow-list into the kernel
// configuration. It must run after defconfig and before compilation.
func (p *Processor) Prepare(ctx context.Context) (*List, error) {
	if !p.Enabled() {
		return nil, nil
	}
	sources, err := p.Sources()
	if err != nil {
		return nil, err
	}
	list := Merge(sources...)
	dist := p.cfg.DistDir()
	if err := fsutil.WriteFileAtomic(filepath.Join(dist, ListFile), []byte(list.Normalized()), 0o644); err != nil {
		return nil, fsError(err, dist)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dist, ReportFile), []byte(list.Report()), 0o644); err != nil {
		return nil, fsError(err, dist)
	}
	slog.Info("Merged KMI symbol list", logfields.Count(list.Len()), logfields.Mode(p.mode.String()))

	if p.mode == ModeDisabled {
		return list, nil
	}
	if list.Len() == 0 {
		slog.Warn("KMI symbol list is empty; trimming will unexport every symbol not otherwise required")
	}
	if err := fsutil.WriteFileAtomic(p.RawPath(), []byte(list.Raw()), 0o644); err != nil {
		return nil, fsError(err, p.RawPath())
	}
	if err := p.applyTrim(ctx); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Processor) applyTrim(ctx context.Context) error {
	dotConfig := filepath.Join(p.cfg.KernelOutDir(), ".config")
	kc, err := kconfig.Load(dotConfig)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPrecondition, "kernel configuration missing; defconfig must run first").
			WithContext("path", dotConfig).
			Build()
	}
	kc.Disable("UNUSED_SYMBOLS")
	kc.Enable("TRIM_UNUSED_KSYMS")
	kc.SetString("UNUSED_KSYMS_WHITELIST", p.RawPath())
	if err := kc.Save(); err != nil {
		return fsError(err, dotConfig)
	}
	if err := p.kcfg.Olddefconfig(ctx); err != nil {
		return err
	}
	kc, err = kconfig.Load(dotConfig)
	if err != nil {
		return fsError(err, dotConfig)
	}
	if !kc.Has("UNUSED_KSYMS_WHITELIST") {
		return ferrors.WrapError(ErrTrimUnsupported, ferrors.CategoryConsistency, "symbol trimming not applied").
			WithHint("disable TRIM_NONLISTED_KMI or use a kernel that supports CONFIG_UNUSED_KSYMS_WHITELIST").
			Build()
	}
	return nil
}

// Verify compares the exported symbols of the configured objects with the
// flattened list. It is a no-op outside strict mode.
func (p *Processor) Verify(_ context.Context) error {
	if p.mode != ModeTrimStrict {
		return nil
	}
	data, err := os.ReadFile(p.RawPath())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPrecondition, "flattened symbol list missing").
			WithContext("path", p.RawPath()).
			Build()
	}
	expected := strings.Fields(string(data))
	symvers := filepath.Join(p.cfg.KernelOutDir(), SymversFile)
	err = CompareSymvers(symvers, p.cfg.List(config.KeyKMIStrictModeObjects), expected)
	var mm *MismatchError
	if errors.As(err, &mm) {
		for _, s := range mm.Missing {
			slog.Error("Listed symbol is not exported", logfields.Symbol(s))
		}
		for _, s := range mm.Extra {
			slog.Error("Exported symbol is not listed", logfields.Symbol(s))
		}
	}
	return err
}

func fsError(err error, path string) error {
	return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write symbol list output").
		WithContext("path", path).
		Build()
}
