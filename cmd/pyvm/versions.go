// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/pkg/version"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// versionEntry is one row of `pyvm versions --format json|yaml`.
type versionEntry struct {
	Name        string     `json:"name" yaml:"name"`
	Prefix      string     `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Current     bool       `json:"current" yaml:"current"`
	Kind        string     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty" yaml:"installed_at,omitempty"`
}

// newVersionsCommand creates the `pyvm versions` command.
func newVersionsCommand(app *App) *cobra.Command {
	var (
		bare   bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List installed versions",
		Long: `List installed versions, newest last. The current selection is marked
with '*' and the file or variable that set it.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersions(cmd.Context(), app, bare, format)
		},
	}
	cmd.Flags().BoolVar(&bare, "bare", false, "print only version names, one per line")
	cmd.Flags().StringVar(&format, "format", formatText, "output format (text, json, yaml)")
	return cmd
}

func runVersions(ctx context.Context, app *App, bare bool, format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
	default:
		return &usageError{err: fmt.Errorf("unknown format %q (want %s, %s or %s)", format, formatText, formatJSON, formatYAML)}
	}

	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	installed, err := svc.installer.Installed()
	if err != nil {
		return err
	}

	if bare {
		for _, iv := range installed {
			app.println(iv.Name)
		}
		return nil
	}

	dir, err := app.wd()
	if err != nil {
		return err
	}
	sel, selErr := svc.activation.Resolve(dir)
	if selErr != nil {
		// Still list what is installed when the selection is broken.
		sel, _ = svc.activation.Select(dir)
	}
	current := currentNames(sel)

	var entries []versionEntry
	if _, err := svc.shims.Which("python", &activation.Selection{Versions: []string{string(version.System)}}); err == nil {
		entries = append(entries, versionEntry{Name: string(version.System), Current: slices.Contains(current, string(version.System))})
	}
	for _, iv := range installed {
		e := versionEntry{Name: iv.Name, Prefix: iv.Prefix, Current: slices.Contains(current, iv.Name)}
		if r := iv.Receipt; r != nil {
			e.Kind = string(r.Kind)
			e.Source = r.Source
			at := r.InstalledAt
			e.InstalledAt = &at
		}
		entries = append(entries, e)
	}

	switch format {
	case formatJSON:
		if entries == nil {
			entries = []versionEntry{}
		}
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case formatYAML:
		enc := yaml.NewEncoder(app.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(entries) == 0 {
		fmt.Fprintln(app.stderr, WarningStyle.Render("No versions installed.")+" Run 'pyvm install <version>'.")
		return nil
	}
	for _, e := range entries {
		if e.Current && sel != nil {
			app.printf("%s %s\n", CurrentStyle.Render("* "+e.Name), SubtitleStyle.Render(sel.Describe()))
			continue
		}
		app.printf("  %s\n", e.Name)
	}
	if selErr != nil {
		fmt.Fprintln(app.stderr, WarningStyle.Render("warning:"), selErr)
	}
	return nil
}

func currentNames(sel *activation.Selection) []string {
	if sel == nil {
		return nil
	}
	if len(sel.Versions) > 0 {
		return sel.Versions
	}
	return sel.Requested
}

// newVersionCommand creates the `pyvm version` command.
func newVersionCommand(app *App) *cobra.Command {
	var bare bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the current version and what selected it",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd.Context(), app, bare)
		},
	}
	cmd.Flags().BoolVar(&bare, "bare", false, "print only the version names")
	return cmd
}

func runVersion(ctx context.Context, app *App, bare bool) error {
	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	dir, err := app.wd()
	if err != nil {
		return err
	}
	sel, err := svc.activation.Resolve(dir)
	if err != nil {
		return selectionError(err)
	}
	for _, v := range sel.Versions {
		if bare {
			app.println(v)
			continue
		}
		app.printf("%s %s\n", v, SubtitleStyle.Render(sel.Describe()))
	}
	return nil
}

// newGlobalCommand creates the `pyvm global` command.
func newGlobalCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "global [version...]",
		Short: "Show or set the global version",
		Long: `Show or set the version used when neither PYVM_VERSION nor a .python-version
file selects one. Several versions may be given; the first that provides a
command wins.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGlobal(cmd.Context(), app, args)
		},
	}
}

func runGlobal(ctx context.Context, app *App, args []string) error {
	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		versions, err := svc.activation.Global()
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			versions = []string{string(version.System)}
		}
		for _, v := range versions {
			app.println(v)
		}
		return nil
	}

	if err := validateNames(args); err != nil {
		return err
	}
	if err := svc.activation.CheckInstalled(args); err != nil {
		return selectionError(err)
	}
	return svc.activation.SetGlobal(args)
}

// newLocalCommand creates the `pyvm local` command.
func newLocalCommand(app *App) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "local [version...]",
		Short: "Show or set the version for the current directory",
		Long: `Show or set the version written to .python-version in the current
directory. The file applies to the directory and everything below it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), app, args, unset)
		},
	}
	cmd.Flags().BoolVar(&unset, "unset", false, "remove the .python-version file")
	return cmd
}

func runLocal(ctx context.Context, app *App, args []string, unset bool) error {
	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	dir, err := app.wd()
	if err != nil {
		return err
	}

	switch {
	case unset:
		if len(args) > 0 {
			return &usageError{err: fmt.Errorf("--unset takes no versions")}
		}
		if err := svc.activation.UnsetLocal(dir); err != nil && !isNotExist(err) {
			return err
		}
		return nil
	case len(args) == 0:
		versions, path, err := svc.activation.Local(dir)
		if isNotExist(err) {
			return fmt.Errorf("no local version configured for this directory")
		}
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return fmt.Errorf("%s selects no version", path)
		}
		for _, v := range versions {
			app.println(v)
		}
		return nil
	}

	if err := validateNames(args); err != nil {
		return err
	}
	if err := svc.activation.CheckInstalled(args); err != nil {
		return selectionError(err)
	}
	return svc.activation.SetLocal(dir, args)
}

// newShellCommand creates the `pyvm shell` command.
func newShellCommand(app *App) *cobra.Command {
	var (
		unset     bool
		shellName string
	)

	cmd := &cobra.Command{
		Use:   "shell [version...]",
		Short: "Show or set the version for the current shell session",
		Long: `Show or set the PYVM_VERSION session override.

Setting it requires the shell integration from 'pyvm init', which evaluates
the printed statement in the calling shell. Without it, evaluate the output
yourself:

  eval "$(pyvm shell 3.12)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), app, args, unset, shellName)
		},
	}
	cmd.Flags().BoolVar(&unset, "unset", false, "clear the session override")
	cmd.Flags().StringVar(&shellName, "shell", "", "shell syntax to print (bash, zsh, fish, sh; default from $SHELL)")
	return cmd
}

func runShell(ctx context.Context, app *App, args []string, unset bool, shellName string) error {
	sh := activation.DetectShell(app.getenv)
	if shellName != "" {
		var err error
		if sh, err = activation.ParseShell(shellName); err != nil {
			return &usageError{err: err}
		}
	}

	switch {
	case unset:
		if len(args) > 0 {
			return &usageError{err: fmt.Errorf("--unset takes no versions")}
		}
		app.println(activation.ShellUnset(sh))
		return nil
	case len(args) == 0:
		value := app.getenv(activation.EnvVersion)
		if value == "" {
			return fmt.Errorf("no shell-specific version configured")
		}
		app.println(value)
		return nil
	}

	if err := validateNames(args); err != nil {
		return err
	}
	svc, err := app.services(ctx)
	if err != nil {
		return err
	}
	if err := svc.activation.CheckInstalled(args); err != nil {
		return selectionError(err)
	}
	app.println(activation.ShellOverride(sh, args))
	return nil
}

func validateNames(names []string) error {
	for _, n := range names {
		if err := version.Spec(n).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// selectionError points at `pyvm install` for versions that are selected
// but missing.
func selectionError(err error) error {
	var missing []string
	for _, e := range flatten(err) {
		if nie, ok := e.(*activation.VersionNotInstalledError); ok {
			missing = append(missing, nie.Version)
		}
	}
	if len(missing) == 0 {
		return err
	}
	return issue.NewErrorContext().
		WithOperation("select version").
		WithResource(strings.Join(missing, ", ")).
		WithSuggestion("Run 'pyvm install " + strings.Join(missing, " ") + "'").
		WithSuggestion("Run 'pyvm versions' to see installed versions").
		WithIssue(issue.VersionNotInstalledId).
		Wrap(err).
		BuildError()
}

// flatten returns err and, for errors.Join results, its members.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
