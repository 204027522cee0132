package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// renderedOption is the YAML shape of one configured key.
type renderedOption struct {
	Value  string `yaml:"value"`
	Kind   string `yaml:"kind"`
	Origin string `yaml:"origin"`
}

// RenderEnv renders the explicitly configured keys as sorted KEY=value lines.
func RenderEnv(cfg *BuildConfig) string {
	var b strings.Builder
	for _, k := range cfg.Keys() {
		fmt.Fprintf(&b, "%s=%s\n", k, cfg.values[k])
	}
	return b.String()
}

// RenderYAML renders the configured keys with their kind and origin.
func RenderYAML(cfg *BuildConfig) (string, error) {
	out := make(map[string]renderedOption, len(cfg.values))
	for _, k := range cfg.Keys() {
		kind := KindString
		if o, ok := Lookup(strings.TrimPrefix(k, ChildPrefix)); ok {
			kind = o.Kind
		}
		out[k] = renderedOption{Value: cfg.values[k], Kind: kind.String(), Origin: cfg.Origin(k)}
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal configuration: %w", err)
	}
	return string(b), nil
}
