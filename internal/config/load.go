package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
)

// LoadOptions controls how the configuration namespace is assembled.
type LoadOptions struct {
	// Root is the directory relative paths resolve against. Defaults to the
	// working directory.
	Root string
	// StrictKeys rejects unrecognized keys found in configuration files.
	StrictKeys bool
}

const originEnv = "env"

// Load assembles and validates a BuildConfig from the caller's environment
// and the configuration files it names. It performs no side effects beyond
// reading those files.
func Load(env map[string]string, opts LoadOptions) (*BuildConfig, error) {
	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "resolve working directory").Build()
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "resolve root directory").Build()
	}

	cfg := &BuildConfig{
		root:    root,
		values:  make(map[string]string),
		origins: make(map[string]string),
	}

	var unknown []string
	apply := func(values map[string]string, origin string) {
		for k, v := range values {
			if !Recognized(k) {
				if origin != originEnv {
					unknown = append(unknown, k)
				}
				continue
			}
			cfg.values[k] = v
			cfg.origins[k] = origin
		}
	}

	base, explicit := env[KeyBuildConfig]
	if base == "" {
		base = "build.config"
		explicit = false
	}
	basePath := resolveFrom(root, base)
	baseValues := map[string]string{}
	if _, statErr := os.Stat(basePath); statErr == nil || explicit {
		baseValues, err = readConfigFile(root, basePath)
		if err != nil {
			return nil, err
		}
		apply(baseValues, basePath)
	} else {
		slog.Debug("No base configuration file; using environment only", logfields.Path(basePath))
	}

	fragments := env[KeyBuildConfigFragments]
	if fragments == "" {
		fragments = baseValues[KeyBuildConfigFragments]
	}
	for _, frag := range strings.Fields(fragments) {
		fragPath := resolveFrom(root, frag)
		values, err := readConfigFile(root, fragPath)
		if err != nil {
			return nil, err
		}
		apply(values, fragPath)
	}

	apply(env, originEnv)

	if len(unknown) > 0 {
		unknown = dedupSorted(unknown)
		if opts.StrictKeys {
			return nil, ferrors.ConfigError("unrecognized configuration keys").
				WithContext("keys", unknown).
				WithHint("remove the keys or drop --strict-config").
				Build()
		}
		for _, k := range unknown {
			slog.Warn("Ignoring unrecognized configuration key", logfields.Key(k))
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromValues builds a BuildConfig directly from values without reading any
// files. Unrecognized keys are dropped.
func FromValues(root string, values map[string]string) (*BuildConfig, error) {
	cfg := &BuildConfig{root: root, values: make(map[string]string), origins: make(map[string]string)}
	for k, v := range values {
		if Recognized(k) {
			cfg.values[k] = v
			cfg.origins[k] = originEnv
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveFrom(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, k := range in {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sortStrings(out)
	return out
}
