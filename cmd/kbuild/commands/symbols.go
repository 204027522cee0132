package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// SymbolsCmd groups the offline symbol list commands.
type SymbolsCmd struct {
	Merge   SymbolsMergeCmd   `cmd:"" help:"Merge symbol lists and write the combined list with its report"`
	Compare SymbolsCompareCmd `cmd:"" help:"Check exported symbols against a symbol list"`
}

// SymbolsMergeCmd implements 'symbols merge'.
type SymbolsMergeCmd struct {
	Out   string   `required:"" help:"Directory receiving the merged list, raw list and report" type:"path"`
	Lists []string `arg:"" help:"Symbol list files, highest priority first"`

	out io.Writer
}

func (c *SymbolsMergeCmd) Run() error {
	sources := make([]symbols.Source, 0, len(c.Lists))
	for _, p := range c.Lists {
		src, err := symbols.ParseFile(p, filepath.Base(p))
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryPrecondition, "symbol list unreadable").
				WithContext("path", p).
				Build()
		}
		sources = append(sources, src)
	}
	list := symbols.Merge(sources...)
	files := map[string]string{
		symbols.ListFile:   list.Normalized(),
		symbols.RawFile:    list.Raw(),
		symbols.ReportFile: list.Report(),
	}
	for name, content := range files {
		path := filepath.Join(c.Out, name)
		if err := fsutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write symbol list").
				WithContext("path", path).
				Build()
		}
	}
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	_, err := fmt.Fprintf(out, "merged %d symbols from %d lists into %s\n", list.Len(), len(sources), c.Out)
	return err
}

// SymbolsCompareCmd implements 'symbols compare'.
type SymbolsCompareCmd struct {
	Symvers string   `required:"" help:"Module.symvers of the build" type:"path"`
	List    string   `required:"" help:"Symbol list the exports must match" type:"path"`
	Objects []string `help:"Objects whose exports are compared" default:"vmlinux"`
}

func (c *SymbolsCompareCmd) Run() error {
	src, err := symbols.ParseFile(c.List, filepath.Base(c.List))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPrecondition, "symbol list unreadable").
			WithContext("path", c.List).
			Build()
	}
	return symbols.CompareSymvers(c.Symvers, c.Objects, src.Symbols)
}
