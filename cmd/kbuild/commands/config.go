package commands

import (
	"fmt"
	"io"
	"os"

	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/mixed"
)

// ConfigCmd groups the configuration inspection commands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" help:"Print the resolved configuration"`
	ChildEnv ConfigChildEnvCmd `cmd:"" name:"child-env" help:"Print the environment a mixed build hands to the GKI child build"`
}

// ConfigShowCmd implements 'config show'.
type ConfigShowCmd struct {
	Format string `help:"Output format" enum:"env,yaml" default:"env"`

	out io.Writer
}

func (c *ConfigShowCmd) Run(root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	return c.render(cfg)
}

func (c *ConfigShowCmd) render(cfg *config.BuildConfig) error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	if c.Format == "yaml" {
		s, err := config.RenderYAML(cfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(out, s)
		return err
	}
	_, err := fmt.Fprint(out, config.RenderEnv(cfg))
	return err
}

// ConfigChildEnvCmd implements 'config child-env'.
type ConfigChildEnvCmd struct {
	out io.Writer
}

func (c *ConfigChildEnvCmd) Run(root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	return c.render(cfg)
}

func (c *ConfigChildEnvCmd) render(cfg *config.BuildConfig) error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	if _, err := mixed.DetectMode(cfg); err != nil {
		return err
	}
	_, err := fmt.Fprint(out, mixed.DeriveChildConfig(cfg).String())
	return err
}
