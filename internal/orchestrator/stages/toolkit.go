package stages

import (
	"git.home.luguber.info/inful/kbuild/internal/kbuild"
	"git.home.luguber.info/inful/kbuild/internal/mixed"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/staging"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

// Toolkit holds the collaborators stage bodies delegate to. Each stage is a
// method so the pipeline can be assembled from a single value.
type Toolkit struct {
	Runner      toolexec.Runner
	Make        *kbuild.Make
	Hooks       *toolexec.Hooks
	Coordinator *mixed.Coordinator
	Symbols     *symbols.Processor
	Packager    *staging.Packager
}

func dist(bs *models.BuildState) *staging.Dist {
	return staging.NewDist(bs.Config.DistDir(), bs.Manifest)
}
