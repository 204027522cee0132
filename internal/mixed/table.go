package mixed

import (
	"slices"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/config"
)

// KeyPair maps a parent key carrying the child prefix to the key the child
// sees.
type KeyPair struct {
	Parent string
	Child  string
}

// InheritedKeys are copied verbatim from parent to child. Unset parent
// values reach the child as empty.
var InheritedKeys = []string{
	config.KeySkipMrproper,
	config.KeyLTO,
	config.KeySkipDefconfig,
	config.KeySkipIfVersionMatch,
}

// ClearedKeys never carry a value into a child build.
var ClearedKeys = []string{
	config.KeyExtModules,
	config.KeyGKIBuildConfig,
	config.KeyKconfigExtPrefix,
}

var childKeyTable = func() []KeyPair {
	table := make([]KeyPair, 0, len(config.Options))
	for _, o := range config.Options {
		table = append(table, KeyPair{Parent: config.ChildPrefix + o.Key, Child: o.Key})
	}
	slices.SortFunc(table, func(a, b KeyPair) int { return strings.Compare(a.Parent, b.Parent) })
	return table
}()

// ChildKeyTable returns every GKI_<KEY> → <KEY> rewrite, sorted by parent
// key. It is generated from the option registry.
func ChildKeyTable() []KeyPair {
	return slices.Clone(childKeyTable)
}
