package mixed

import (
	"slices"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/config"
)

// Origin records which derivation step produced a child key.
type Origin string

const (
	OriginInherited Origin = "inherited"
	OriginCleared   Origin = "cleared"
	OriginPrefixed  Origin = "prefixed"
	OriginOverride  Origin = "override"
)

// ChildEntry is one key of the child environment.
type ChildEntry struct {
	Key    string
	Value  string
	Origin Origin
	// From is the parent key the value was read from, if any.
	From string
}

// ChildInvocationSpec is the complete configuration handed to a child
// build. Entries are sorted by key.
type ChildInvocationSpec struct {
	Entries []ChildEntry
}

// Get returns the value the child sees for key.
func (s ChildInvocationSpec) Get(key string) (string, bool) {
	i, ok := slices.BinarySearchFunc(s.Entries, key, func(e ChildEntry, k string) int {
		return strings.Compare(e.Key, k)
	})
	if !ok {
		return "", false
	}
	return s.Entries[i].Value, true
}

// Environ renders the entries as KEY=value pairs in key order.
func (s ChildInvocationSpec) Environ() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Key + "=" + e.Value
	}
	return out
}

// String renders one KEY=value line per entry.
func (s ChildInvocationSpec) String() string {
	return strings.Join(s.Environ(), "\n") + "\n"
}

// DeriveChildConfig builds the child configuration from parent only. A later
// step overrides an earlier one, except that a cleared key is never
// repopulated by prefix derivation.
func DeriveChildConfig(parent *config.BuildConfig) ChildInvocationSpec {
	entries := make(map[string]ChildEntry)

	for _, k := range InheritedKeys {
		v, _ := parent.Raw(k)
		entries[k] = ChildEntry{Key: k, Value: v, Origin: OriginInherited, From: k}
	}

	cleared := make(map[string]bool, len(ClearedKeys))
	for _, k := range ClearedKeys {
		cleared[k] = true
		entries[k] = ChildEntry{Key: k, Origin: OriginCleared}
	}

	for _, pair := range childKeyTable {
		v, ok := parent.Raw(pair.Parent)
		if !ok || cleared[pair.Child] {
			continue
		}
		entries[pair.Child] = ChildEntry{Key: pair.Child, Value: v, Origin: OriginPrefixed, From: pair.Parent}
	}

	entries[config.KeyOutDir] = ChildEntry{Key: config.KeyOutDir, Value: parent.GKIOutDir(), Origin: OriginOverride, From: config.KeyGKIOutDir}
	entries[config.KeyDistDir] = ChildEntry{Key: config.KeyDistDir, Value: parent.GKIDistDir(), Origin: OriginOverride, From: config.KeyGKIDistDir}

	spec := ChildInvocationSpec{Entries: make([]ChildEntry, 0, len(entries))}
	for _, e := range entries {
		spec.Entries = append(spec.Entries, e)
	}
	slices.SortFunc(spec.Entries, func(a, b ChildEntry) int { return strings.Compare(a.Key, b.Key) })
	return spec
}
