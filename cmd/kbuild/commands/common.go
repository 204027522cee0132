package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/kbuild/internal/config"
)

// LogLevelEnv overrides the log level when -v is not given.
const LogLevelEnv = "KBUILD_LOG_LEVEL"

// Global is shared state handed to every subcommand.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Verbose      bool             `short:"v" help:"Enable verbose logging"`
	Root         string           `help:"Directory relative configuration paths resolve against" type:"path"`
	StrictConfig bool             `name:"strict-config" help:"Reject unrecognized keys in configuration files"`
	Version      kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build the kernel and its distribution artifacts"`
	Config  ConfigCmd  `cmd:"" help:"Inspect the resolved build configuration"`
	Symbols SymbolsCmd `cmd:"" help:"Work with KMI symbol lists outside a build"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(c.Verbose)}))
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return nil
}

// parseLogLevel honors -v first, then KBUILD_LOG_LEVEL.
func parseLogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(LogLevelEnv))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig assembles the build configuration from the process
// environment and the files it names.
func loadConfig(root *CLI) (*config.BuildConfig, error) {
	return config.Load(config.EnvMap(os.Environ()), config.LoadOptions{
		Root:       root.Root,
		StrictKeys: root.StrictConfig,
	})
}
