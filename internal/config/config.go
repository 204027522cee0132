// Package config loads and validates the flat key=value build configuration.
//
// A BuildConfig is assembled once per invocation from the base file named by
// BUILD_CONFIG, any BUILD_CONFIG_FRAGMENTS, and the caller's environment (in
// increasing precedence). After Load returns it is never mutated.
package config

import (
	"path/filepath"
	"slices"
	"strings"
)

// LTOMode is the link-time optimization mode requested for the kernel.
type LTOMode string

const (
	LTOUnset LTOMode = ""
	LTONone  LTOMode = "none"
	LTOThin  LTOMode = "thin"
	LTOFull  LTOMode = "full"
)

// BuildConfig is an immutable, validated view of the configuration namespace.
type BuildConfig struct {
	root    string
	values  map[string]string
	origins map[string]string
}

// Root returns the directory relative paths are resolved against.
func (c *BuildConfig) Root() string { return c.root }

// Raw returns the explicitly configured value of key.
func (c *BuildConfig) Raw(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is set to a non-empty value.
func (c *BuildConfig) Has(key string) bool {
	return c.values[key] != ""
}

// Origin names where key's value came from: "env" or a file path.
func (c *BuildConfig) Origin(key string) string {
	return c.origins[key]
}

// String returns the value of key, or its declared default.
func (c *BuildConfig) String(key string) string {
	if v := c.values[key]; v != "" {
		return v
	}
	if o, ok := Lookup(key); ok {
		return o.Default
	}
	return ""
}

// Bool returns the boolean value of key. Values are validated at load time.
func (c *BuildConfig) Bool(key string) bool {
	b, _ := parseBool(c.String(key))
	return b
}

// List returns the whitespace separated items of key.
func (c *BuildConfig) List(key string) []string {
	return strings.Fields(c.String(key))
}

// Path returns key resolved against the root directory, or "" if unset.
func (c *BuildConfig) Path(key string) string {
	return c.resolve(c.String(key))
}

// KernelPath resolves key relative to the kernel source tree, the way symbol
// lists and ABI definitions are declared.
func (c *BuildConfig) KernelPath(key string) string {
	v := c.String(key)
	if v == "" {
		return ""
	}
	if filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(c.KernelDir(), v)
}

func (c *BuildConfig) resolve(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.root, p)
}

// Keys returns every explicitly configured key in lexical order.
func (c *BuildConfig) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Values returns a copy of the explicitly configured values.
func (c *BuildConfig) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// LTO returns the requested link-time optimization mode.
func (c *BuildConfig) LTO() LTOMode { return LTOMode(c.String(KeyLTO)) }

// KernelDir is the kernel source tree.
func (c *BuildConfig) KernelDir() string { return c.Path(KeyKernelDir) }

// CommonOutDir is OUT_DIR, or <root>/out/<BRANCH> when unset.
func (c *BuildConfig) CommonOutDir() string {
	if c.Has(KeyOutDir) {
		return c.Path(KeyOutDir)
	}
	return filepath.Join(c.root, "out", c.String(KeyBranch))
}

// KernelOutDir is where the kernel objects and .config live.
func (c *BuildConfig) KernelOutDir() string {
	return filepath.Join(c.CommonOutDir(), filepath.Base(c.String(KeyKernelDir)))
}

// DistDir is DIST_DIR, or <common out>/dist when unset.
func (c *BuildConfig) DistDir() string {
	if c.Has(KeyDistDir) {
		return c.Path(KeyDistDir)
	}
	return filepath.Join(c.CommonOutDir(), "dist")
}

// GKIOutDir is the output directory handed to a mixed-build child.
func (c *BuildConfig) GKIOutDir() string {
	if c.Has(KeyGKIOutDir) {
		return c.Path(KeyGKIOutDir)
	}
	return filepath.Join(c.CommonOutDir(), "gki_kernel")
}

// GKIDistDir is the distribution directory handed to a mixed-build child.
func (c *BuildConfig) GKIDistDir() string {
	if c.Has(KeyGKIDistDir) {
		return c.Path(KeyGKIDistDir)
	}
	return filepath.Join(c.GKIOutDir(), "dist")
}

// ModulesStagingDir is the general module staging root.
func (c *BuildConfig) ModulesStagingDir() string {
	if c.Has(KeyModulesStagingDir) {
		return c.Path(KeyModulesStagingDir)
	}
	return filepath.Join(c.KernelOutDir(), "staging")
}
