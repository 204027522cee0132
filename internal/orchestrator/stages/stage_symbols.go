package stages

import (
	"context"

	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// SymbolListPrepare merges the KMI symbol lists and applies trimming.
func (t *Toolkit) SymbolListPrepare(ctx context.Context, bs *models.BuildState) error {
	bs.Report.SymbolMode = t.Symbols.Mode().String()
	list, err := t.Symbols.Prepare(ctx)
	if err != nil {
		return err
	}
	bs.Symbols = list
	return nil
}

// SymbolListVerify compares the exported symbols with the list.
func (t *Toolkit) SymbolListVerify(ctx context.Context, _ *models.BuildState) error {
	return t.Symbols.Verify(ctx)
}
