// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/install"
	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/internal/registry"
	"github.com/pyvm/pyvm/pkg/version"
)

type installFlags struct {
	list            bool
	skipExisting    bool
	keep            bool
	force           bool
	allowUnverified bool
	jobs            int
	parallel        int
}

// newInstallCommand creates the `pyvm install` command.
func newInstallCommand(app *App) *cobra.Command {
	var flags installFlags

	cmd := &cobra.Command{
		Use:   "install [version...]",
		Short: "Install one or more versions",
		Long: `Install one or more versions.

A version may be exact (3.11.4, 3.13.0rc1), a prefix (3.12) that selects the
newest stable release, "latest", a flavored name (pypy3.10-7.3.12) or an
alias from the config file. Without arguments the PYTHON_VERSION environment
variable is used.

` + SubtitleStyle.Render("Examples:") + `
  pyvm install 3.12.1
  pyvm install 3.11 3.12 --parallel 2
  pyvm install --list
  PYTHON_VERSION=3.11.4 pyvm install`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.list {
				return runInstallList(cmd.Context(), app)
			}
			return runInstall(cmd.Context(), app, args, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.list, "list", "l", false, "list installable versions")
	cmd.Flags().BoolVarP(&flags.skipExisting, "skip-existing", "s", false, "do nothing for versions that are already installed")
	cmd.Flags().BoolVarP(&flags.keep, "keep", "k", false, "keep the staging directory of a failed install")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "reinstall versions that are already installed")
	cmd.Flags().BoolVar(&flags.allowUnverified, "allow-unverified", false, "install definitions that carry no checksum")
	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 0, "parallel make jobs for source builds (default from config)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 1, "number of versions installed at the same time")

	return cmd
}

func runInstall(ctx context.Context, app *App, args []string, flags installFlags) error {
	specs, err := installSpecs(args, app.getenv)
	if err != nil {
		return err
	}
	if flags.parallel < 1 {
		return &usageError{err: fmt.Errorf("--parallel must be at least 1, got %d", flags.parallel)}
	}

	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	defer svc.flushMetrics()

	opts := install.Options{
		SkipExisting:    flags.skipExisting,
		Force:           flags.force,
		KeepFailed:      flags.keep || svc.cfg.Install.KeepFailed,
		AllowUnverified: flags.allowUnverified || svc.cfg.Install.AllowUnverified,
		Jobs:            flags.jobs,
		Parallel:        flags.parallel,
	}
	if opts.Jobs <= 0 {
		opts.Jobs = svc.cfg.Install.Jobs
	}

	if len(specs) == 1 {
		iv, err := svc.installer.Install(ctx, specs[0], opts)
		if err != nil {
			return installError(specs[0], err)
		}
		app.printInstalled(iv)
		return nil
	}

	installed, err := svc.installer.InstallMany(ctx, specs, opts)
	for _, iv := range installed {
		app.printInstalled(iv)
	}
	if err != nil {
		return installError(version.Spec(strings.Join(specStrings(specs), ", ")), err)
	}
	return nil
}

// installSpecs returns the requested specs, falling back to PYTHON_VERSION.
func installSpecs(args []string, getenv func(string) string) ([]version.Spec, error) {
	if len(args) == 0 {
		args = strings.FieldsFunc(getenv(activation.EnvPythonVersion), func(r rune) bool {
			return r == ':' || r == ' ' || r == '\t'
		})
	}
	if len(args) == 0 {
		return nil, issue.NewErrorContext().
			WithOperation("install").
			WithSuggestion("Pass a version: pyvm install 3.12").
			WithSuggestion("Or set PYTHON_VERSION before running pyvm install").
			WithIssue(issue.NoVersionRequestedId).
			Wrap(ErrNoVersionRequested).
			BuildError()
	}

	specs := make([]version.Spec, 0, len(args))
	for _, arg := range args {
		spec := version.Spec(strings.TrimSpace(arg))
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (a *App) printInstalled(iv *install.InstalledVersion) {
	a.printf("%s Installed %s to %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(iv.Name), iv.Prefix)
}

// installError attaches suggestions for the failures users can act on.
func installError(spec version.Spec, err error) error {
	b := issue.NewErrorContext().
		WithOperation("install").
		WithResource(string(spec)).
		Wrap(err)

	var notFound *registry.NotFoundError
	switch {
	case errors.As(err, &notFound):
		b.WithSuggestion("Run 'pyvm update' to refresh definitions").
			WithSuggestion("Run 'pyvm install --list' to see installable versions").
			WithIssue(issue.DefinitionNotFoundId)
	case errors.Is(err, install.ErrAlreadyInstalled):
		b.WithSuggestion("Pass --skip-existing to ignore installed versions, or --force to reinstall")
	case errors.Is(err, install.ErrUnverified):
		b.WithSuggestion("Pass --allow-unverified to install it anyway")
	case errors.Is(err, install.ErrChecksumMismatch):
		b.WithIssue(issue.ChecksumMismatchId)
	case errors.Is(err, install.ErrBuildFailed):
		var be *install.BuildError
		if errors.As(err, &be) && be.LogPath != "" {
			b.WithSuggestion("See the build log: " + be.LogPath)
		} else {
			b.WithSuggestion("Run again with --keep to keep the build directory and its full log")
		}
		b.WithIssue(issue.BuildFailedId)
	case errors.Is(err, install.ErrDownloadFailed):
		b.WithIssue(issue.DownloadFailedId)
	}
	return b.BuildError()
}

func runInstallList(ctx context.Context, app *App) error {
	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	defs, err := svc.registry.List(ctx)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Fprintln(app.stderr, WarningStyle.Render("No definitions found.")+" Run 'pyvm update' to fetch them.")
		return nil
	}
	app.println(TitleStyle.Render("Available versions:"))
	for _, d := range defs {
		app.printf("  %s  %s\n", d.Name, SubtitleStyle.Render(string(d.Kind)))
	}
	return nil
}

func specStrings(specs []version.Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = string(s)
	}
	return out
}

// newUninstallCommand creates the `pyvm uninstall` command.
func newUninstallCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "uninstall <version>...",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove installed versions",
		Args:    usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(cmd.Context(), app, args, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation and ignore versions that are not installed")
	return cmd
}

func runUninstall(ctx context.Context, app *App, names []string, force bool) error {
	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	defer svc.flushMetrics()

	for _, name := range names {
		if err := version.Spec(name).Validate(); err != nil {
			return err
		}
		if _, err := svc.installer.Get(name); err != nil {
			if force && errors.Is(err, install.ErrNotInstalled) {
				continue
			}
			return uninstallError(name, err)
		}

		if !force {
			ok, err := app.confirm(fmt.Sprintf("Remove %s?", name))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(app.stderr, SubtitleStyle.Render("Skipped "+name))
				continue
			}
		}

		if err := svc.installer.Uninstall(ctx, name); err != nil {
			return uninstallError(name, err)
		}
		app.printf("%s Removed %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(name))
	}
	return nil
}

func uninstallError(name string, err error) error {
	b := issue.NewErrorContext().
		WithOperation("uninstall").
		WithResource(name).
		Wrap(err)
	if errors.Is(err, install.ErrNotInstalled) {
		b.WithSuggestion("Run 'pyvm versions' to see installed versions")
	}
	return b.BuildError()
}
