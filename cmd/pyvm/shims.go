// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/internal/shim"
	"github.com/pyvm/pyvm/pkg/types"
	"github.com/pyvm/pyvm/pkg/version"
)

var errSystemNotFound = errors.New("system version not found in PATH")

// newInitCommand creates the `pyvm init` command.
func newInitCommand(app *App) *cobra.Command {
	var pathOnly bool

	cmd := &cobra.Command{
		Use:   "init [-] [shell]",
		Short: "Print shell integration code",
		Long: `Print the code that puts the shims directory on PATH and defines the
pyvm shell function. Add this to your shell startup file:

  bash, zsh:  eval "$(pyvm init -)"
  fish:       pyvm init - fish | source`,
		Args: usageArgs(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), app, args, pathOnly)
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path", false, "print only the PATH setup")
	return cmd
}

func runInit(ctx context.Context, app *App, args []string, pathOnly bool) error {
	sh := activation.DetectShell(app.getenv)
	for _, arg := range args {
		if arg == "-" {
			continue
		}
		var err error
		if sh, err = activation.ParseShell(arg); err != nil {
			return &usageError{err: err}
		}
	}

	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	script, err := shim.InitScript(sh, shim.InitOptions{
		Root:     svc.layout.Root(),
		Shims:    svc.layout.Shims(),
		PathOnly: pathOnly,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(app.stdout, script)
	return nil
}

// newRehashCommand creates the `pyvm rehash` command.
func newRehashCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rehash",
		Short: "Rebuild the shims directory",
		Long: `Create a shim for every executable in any installed version's bin
directory and remove shims whose executable is gone. Install and uninstall
rehash automatically.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.flushMetrics()
			res, err := svc.shims.Rehash(cmd.Context())
			if err != nil {
				return err
			}
			svc.logger.Debug("rehash", "shims", len(res.Shims), "added", res.Added, "removed", res.Removed)
			return nil
		},
	}
}

// newWhichCommand creates the `pyvm which` command.
func newWhichCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "which <command>",
		Short: "Show the executable a command resolves to",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, sel, err := app.selection(cmd.Context())
			if err != nil {
				return err
			}
			path, err := svc.shims.Which(args[0], sel)
			if err != nil {
				return commandError(err)
			}
			app.println(path)
			return nil
		},
	}
}

// newWhenceCommand creates the `pyvm whence` command.
func newWhenceCommand(app *App) *cobra.Command {
	var showPath bool

	cmd := &cobra.Command{
		Use:   "whence <command>",
		Short: "List installed versions that provide a command",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.services(cmd.Context())
			if err != nil {
				return err
			}
			versions, err := svc.shims.Whence(args[0])
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				return &ExitError{Code: types.ExitUserError}
			}
			for _, v := range versions {
				if showPath {
					app.printf("%s/%s\n", svc.layout.VersionBin(v), args[0])
					continue
				}
				app.println(v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPath, "path", false, "print executable paths instead of version names")
	return cmd
}

// newExecCommand creates the `pyvm exec` command. Every shim runs it.
func newExecCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run a command with the selected version first on PATH",
		Long: `Run a command from the currently selected version. The selected bin
directories are prepended to PATH for the child, so scripts it starts
resolve to the same interpreter. Flags after <command> are passed through.`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && args[0] == "--" {
				args = args[1:]
			}
			if len(args) == 0 {
				return &usageError{err: errors.New("exec requires a command")}
			}
			if args[0] == "-h" || args[0] == "--help" {
				return cmd.Help()
			}
			svc, sel, err := app.selection(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.shims.Exec(cmd.Context(), args[0], args[1:], sel); err != nil {
				return commandError(err)
			}
			return nil
		},
	}
}

// newPrefixCommand creates the `pyvm prefix` command.
func newPrefixCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prefix [version...]",
		Short: "Show the install directory of a version",
		Long:  `Show the install directory of the given versions, or of the current selection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.services(cmd.Context())
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				_, sel, err := app.selection(cmd.Context())
				if err != nil {
					return err
				}
				names = sel.Versions
			}
			for _, name := range names {
				if version.Spec(name) == version.System {
					path, err := svc.shims.Which("python", &activation.Selection{Versions: []string{name}})
					if err != nil {
						return errSystemNotFound
					}
					app.println(filepath.Dir(filepath.Dir(path)))
					continue
				}
				prefix, err := svc.installer.Prefix(name)
				if err != nil {
					return uninstallError(name, err)
				}
				app.println(prefix)
			}
			return nil
		},
	}
}

// newRootDirCommand creates the `pyvm root` command.
func newRootDirCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "Show the pyvm root directory",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.services(cmd.Context())
			if err != nil {
				return err
			}
			app.println(svc.layout.Root())
			return nil
		},
	}
}

// selection resolves the versions selected for the working directory.
func (a *App) selection(ctx context.Context) (*services, *activation.Selection, error) {
	svc, err := a.services(ctx)
	if err != nil {
		return nil, nil, err
	}
	dir, err := a.wd()
	if err != nil {
		return nil, nil, err
	}
	sel, err := svc.activation.Resolve(dir)
	if err != nil {
		return nil, nil, selectionError(err)
	}
	return svc, sel, nil
}

// commandError adds suggestions to a command that no selected version has.
func commandError(err error) error {
	var nf *shim.CommandNotFoundError
	if !errors.As(err, &nf) || len(nf.ProvidedBy) == 0 {
		return err
	}
	return issue.NewErrorContext().
		WithOperation("run command").
		WithResource(nf.Command).
		WithSuggestion("Select a version that provides it with 'pyvm local' or 'pyvm global'").
		WithIssue(issue.CommandNotFoundId).
		Wrap(err).
		BuildError()
}
