package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/kbuild/cmd/kbuild/commands"
	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{}
	parser := kong.Must(cli,
		kong.Bind(global),
		kong.Name("kbuild"),
		kong.Description("Kernel build orchestrator"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(global, cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
	}
}
