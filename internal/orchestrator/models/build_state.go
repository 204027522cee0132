package models

import (
	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/metrics"
	"git.home.luguber.info/inful/kbuild/internal/mixed"
	"git.home.luguber.info/inful/kbuild/internal/staging"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
)

// MixedState holds what the mixed build stage produced.
type MixedState struct {
	Result mixed.Result
}

// Tree is the KBUILD_MIXED_TREE for module compilation, empty outside a
// mixed build.
func (m MixedState) Tree() string { return m.Result.MixedTree }

// ModulesState tracks module installation and filtering.
type ModulesState struct {
	// Installed is set once any module was installed into staging.
	Installed bool
	// Selections are the filtered module sets per image.
	Selections map[StageName]staging.Selection
}

// BuildState carries the configuration and stage outputs through a build.
// The configuration itself is never mutated; stages record their outputs in
// the sub-states.
type BuildState struct {
	Config   *config.BuildConfig
	BuildID  string
	Report   *BuildReport
	Manifest *manifest.Manifest
	Roots    staging.Roots
	Observer BuildObserver
	Recorder metrics.Recorder

	Mixed   MixedState
	Modules ModulesState
	Symbols *symbols.List
	// KernelRelease is the version computed from the source tree, when known.
	KernelRelease string
}

// NewBuildState constructs a BuildState for cfg.
func NewBuildState(cfg *config.BuildConfig, buildID string, report *BuildReport) *BuildState {
	return &BuildState{
		Config:   cfg,
		BuildID:  buildID,
		Report:   report,
		Manifest: manifest.New(buildID),
		Roots:    staging.RootsFor(cfg),
		Observer: NoopObserver{},
		Recorder: metrics.NoopRecorder{},
		Modules:  ModulesState{Selections: make(map[StageName]staging.Selection)},
	}
}
