package stages

import (
	"context"

	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// MixedBuild runs the GKI side of a mixed build and points module
// compilation at the resulting mixed tree.
func (t *Toolkit) MixedBuild(ctx context.Context, bs *models.BuildState) error {
	res, err := t.Coordinator.Run(ctx, bs.Config.List(config.KeyMakeGoals))
	bs.Mixed.Result = res
	bs.Report.MixedMode = res.Mode.String()
	if err != nil {
		return err
	}
	t.Make.MixedTree = bs.Mixed.Tree()
	d := dist(bs)
	for _, name := range res.Distributed {
		if err := d.Record(name, artifactKey(name)); err != nil {
			return err
		}
	}
	return nil
}

// artifactKey names the manifest role of a distributed kernel out file.
func artifactKey(name string) string {
	if name == "vmlinux" {
		return manifest.KeyKernelBinary
	}
	return manifest.KeyFile
}
