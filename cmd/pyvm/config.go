// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyvm/pyvm/internal/config"
	"github.com/pyvm/pyvm/pkg/types"
)

// newConfigCommand creates the `pyvm config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pyvm configuration",
		Long: `Manage pyvm configuration.

Configuration is stored in:
  - Linux: ~/.config/pyvm/config.cue
  - macOS: ~/Library/Application Support/pyvm/config.cue
  - Windows: %APPDATA%\pyvm\config.cue

Every key can be overridden with a PYVM_ environment variable, for example
PYVM_INSTALL_JOBS=8 or PYVM_FETCH_MIRROR=https://mirror.example/python.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Config.Load(cmd.Context(), app.loadOptions())
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := app.configFile()
			if err != nil {
				return err
			}
			app.println(path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), app, args[0], args[1])
		},
	})

	return cfgCmd
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: types.FilesystemPath(a.configPath)}
}

// configFile returns the --config path or the default location.
func (a *App) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.FilePath("")
}

func showConfig(ctx context.Context, app *App) error {
	cfg, path, err := config.LoadWithPath(ctx, app.loadOptions())
	if err != nil {
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	show := func(key string, value any) {
		app.printf("  %s: %s\n", keyStyle.Render(key), valueStyle.Render(fmt.Sprint(value)))
	}

	app.println(TitleStyle.Render("Current Configuration"))
	app.println()
	if path == "" {
		app.printf("%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		app.printf("%s: %s\n", keyStyle.Render("Config file"), path)
	}
	app.println()

	root := cfg.Root
	if root == "" {
		root = "(default)"
	}
	app.printf("%s: %s\n", keyStyle.Render("root"), valueStyle.Render(root))

	app.printf("%s:\n", keyStyle.Render("aliases"))
	if len(cfg.Aliases) == 0 {
		app.printf("  %s\n", SubtitleStyle.Render("(none configured)"))
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.Aliases)) {
		show(name, cfg.Aliases[name])
	}

	app.printf("%s:\n", keyStyle.Render("registry"))
	show("repository", cfg.Registry.Repository)
	show("ref", cfg.Registry.Ref)
	show("definition_dirs", strings.Join(cfg.Registry.DefinitionDirs, ", "))
	show("releases.enabled", cfg.Registry.Releases.Enabled)

	app.printf("%s:\n", keyStyle.Render("fetch"))
	show("mirror", cfg.Fetch.Mirror)
	show("s3_region", cfg.Fetch.S3Region)

	app.printf("%s:\n", keyStyle.Render("install"))
	show("jobs", cfg.Install.Jobs)
	show("keep_failed", cfg.Install.KeepFailed)
	show("allow_unverified", cfg.Install.AllowUnverified)

	app.printf("%s:\n", keyStyle.Render("ui"))
	show("color_scheme", cfg.UI.ColorScheme)
	show("verbose", cfg.UI.Verbose)
	show("log_level", cfg.UI.LogLevel)
	return nil
}

func initConfig(app *App) error {
	var (
		path    string
		created bool
		err     error
	)
	if app.configPath != "" {
		path = app.configPath
		if _, statErr := os.Stat(path); statErr != nil {
			err = config.Save(path, config.DefaultConfig())
			created = err == nil
		}
	} else {
		path, created, err = config.CreateDefaultConfig("")
	}
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		app.printf("Configuration already exists at %s\n", path)
		return nil
	}
	app.printf("%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func setConfigValue(ctx context.Context, app *App, key, value string) error {
	cfg, err := app.Config.Load(ctx, app.loadOptions())
	if err != nil {
		return err
	}

	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid %s: want true or false", key)
		}
		return b, nil
	}

	switch {
	case key == "root":
		cfg.Root = value
	case strings.HasPrefix(key, "aliases."):
		cfg.Aliases[strings.TrimPrefix(key, "aliases.")] = value
	case key == "registry.repository":
		cfg.Registry.Repository = value
	case key == "registry.ref":
		cfg.Registry.Ref = value
	case key == "fetch.mirror":
		cfg.Fetch.Mirror = value
	case key == "install.jobs":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid install.jobs: want a positive integer")
		}
		cfg.Install.Jobs = n
	case key == "install.keep_failed":
		if cfg.Install.KeepFailed, err = parseBool(); err != nil {
			return err
		}
	case key == "install.allow_unverified":
		if cfg.Install.AllowUnverified, err = parseBool(); err != nil {
			return err
		}
	case key == "ui.verbose":
		if cfg.UI.Verbose, err = parseBool(); err != nil {
			return err
		}
	case key == "ui.color_scheme":
		cfg.UI.ColorScheme = config.ColorScheme(value)
	case key == "ui.log_level":
		cfg.UI.LogLevel = config.LogLevel(value)
	default:
		return &usageError{err: fmt.Errorf("unknown configuration key: %s\nValid keys: root, aliases.<name>, registry.repository, registry.ref, fetch.mirror, install.jobs, install.keep_failed, install.allow_unverified, ui.verbose, ui.color_scheme, ui.log_level", key)}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := app.configFile()
	if err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	app.printf("%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}
