package config

import (
	"slices"
	"strings"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
)

// exclusivePairs lists options that must never be active together.
var exclusivePairs = [][2]string{
	{KeySkipVendorBoot, KeyBuildVendorBootImg},
	{KeyGKIBuildConfig, KeyGKIPrebuiltsDir},
}

// Validate checks value types, enums and mutually exclusive options. It is
// the single point where malformed input is rejected.
func Validate(cfg *BuildConfig) error {
	for _, k := range cfg.Keys() {
		o, ok := Lookup(k)
		if !ok {
			continue
		}
		v := cfg.values[k]
		switch o.Kind {
		case KindBool:
			if _, err := parseBool(v); err != nil {
				return ferrors.ConfigError("invalid boolean value").
					WithContext("key", k).
					WithContext("value", v).
					Build()
			}
		case KindEnum:
			if v != "" && !slices.Contains(o.Allowed, v) {
				return ferrors.ConfigError("invalid value").
					WithContext("key", k).
					WithContext("value", v).
					WithHint(k + " must be one of " + strings.Join(o.Allowed, ", ")).
					Build()
			}
		}
	}

	for _, pair := range exclusivePairs {
		if Active(cfg, pair[0]) && Active(cfg, pair[1]) {
			return ferrors.ConfigError("mutually exclusive options set together").
				WithContext("keys", pair[0]+","+pair[1]).
				Build()
		}
	}
	return nil
}

// Active reports whether an option is switched on: true for booleans,
// non-empty for everything else.
func Active(cfg *BuildConfig, key string) bool {
	if o, ok := Lookup(key); ok && o.Kind == KindBool {
		return cfg.Bool(key)
	}
	return cfg.Has(key)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "n", "off":
		return false, nil
	case "1", "true", "yes", "y", "on":
		return true, nil
	default:
		return false, errInvalidBool
	}
}

func sortStrings(s []string) { slices.Sort(s) }
