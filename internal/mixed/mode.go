package mixed

import (
	"git.home.luguber.info/inful/kbuild/internal/config"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
)

// Mode is the mixed build state.
type Mode int

const (
	ModeNone Mode = iota
	ModeSource
	ModePrebuilt
)

func (m Mode) String() string {
	switch m {
	case ModeSource:
		return "gki-from-source"
	case ModePrebuilt:
		return "gki-prebuilt"
	default:
		return "none"
	}
}

// DetectMode selects the mixed build mode. Exclusivity is checked again here
// because fragments may have been assembled after validation in callers that
// build configs by hand.
func DetectMode(cfg *config.BuildConfig) (Mode, error) {
	source := cfg.Has(config.KeyGKIBuildConfig)
	prebuilt := cfg.Has(config.KeyGKIPrebuiltsDir)
	switch {
	case source && prebuilt:
		return ModeNone, ferrors.ConfigError("mutually exclusive options set together").
			WithContext("keys", config.KeyGKIBuildConfig+","+config.KeyGKIPrebuiltsDir).
			Build()
	case source:
		return ModeSource, nil
	case prebuilt:
		return ModePrebuilt, nil
	default:
		return ModeNone, nil
	}
}
