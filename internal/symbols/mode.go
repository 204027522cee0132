package symbols

import (
	"errors"

	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
)

// Mode is the symbol list enforcement state.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeTrim
	ModeTrimStrict
)

func (m Mode) String() string {
	switch m {
	case ModeTrim:
		return "trim"
	case ModeTrimStrict:
		return "trim+strict"
	default:
		return "disabled"
	}
}

var (
	ErrStrictRequiresList = errors.New("KMI_SYMBOL_LIST_STRICT_MODE requires KMI_SYMBOL_LIST")
	ErrStrictRequiresTrim = errors.New("KMI_SYMBOL_LIST_STRICT_MODE requires TRIM_NONLISTED_KMI")
	ErrTrimRequiresList   = errors.New("TRIM_NONLISTED_KMI requires KMI_SYMBOL_LIST")
)

// ModeFor selects the enforcement mode, rejecting flag combinations that
// cannot be honored.
func ModeFor(cfg *config.BuildConfig) (Mode, error) {
	hasList := cfg.Has(config.KeyKMISymbolList)
	trim := cfg.Bool(config.KeyTrimNonlistedKMI)
	strict := cfg.Bool(config.KeyKMIStrictMode)

	guard := func(err error, keys string) (Mode, error) {
		return ModeDisabled, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid symbol list configuration").
			WithContext("keys", keys).
			Build()
	}
	switch {
	case strict && !hasList:
		return guard(ErrStrictRequiresList, config.KeyKMIStrictMode+","+config.KeyKMISymbolList)
	case strict && !trim:
		return guard(ErrStrictRequiresTrim, config.KeyKMIStrictMode+","+config.KeyTrimNonlistedKMI)
	case trim && !hasList:
		return guard(ErrTrimRequiresList, config.KeyTrimNonlistedKMI+","+config.KeyKMISymbolList)
	case strict:
		return ModeTrimStrict, nil
	case trim:
		return ModeTrim, nil
	default:
		return ModeDisabled, nil
	}
}
