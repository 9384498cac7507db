package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/veil/pkg/config"
)

// ConfigCmd groups the config subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration, environment overrides included"`
	Init ConfigInitCmd `cmd:"" help:"Write the current settings to the configuration file"`
}

// ConfigShowCmd implements 'config show'.
type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(app *App) error {
	return renderConfig(app.Out, config.Global())
}

// ConfigInitCmd implements 'config init'.
type ConfigInitCmd struct {
	Force bool `help:"Overwrite an existing configuration file"`
}

func (c *ConfigInitCmd) Run(app *App) error {
	manager := config.Global()
	path := ""
	if fs, ok := manager.Store().(*config.FileStore); ok {
		path = fs.Path()
	}
	if path != "" && !c.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; use --force to overwrite", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := manager.SaveAll(); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Wrote %s\n", valueStyle.Render(path))
	return nil
}

func renderConfig(w io.Writer, manager *config.Manager) error {
	for _, section := range manager.GetSections() {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render(section.Title()), mutedStyle.Render("# "+section.Description()))
		out, err := yaml.Marshal(map[string]any{section.ID(): section.Data()})
		if err != nil {
			return fmt.Errorf("encode section %s: %w", section.ID(), err)
		}
		fmt.Fprintln(w, string(out))
	}
	return nil
}
