// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/internal/shim"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pyvm",
		Short: "Install and switch between Python versions",
		Long: TitleStyle.Render("pyvm") + SubtitleStyle.Render(" - Install and switch between Python versions") + `

pyvm keeps every interpreter in its own directory under $PYVM_ROOT/versions
and puts a directory of shims on your PATH. Each shim runs the interpreter
selected for the current directory.

` + SubtitleStyle.Render("Version selection, highest first:") + `
  1. PYVM_VERSION (or PYTHON_VERSION) in the environment  (pyvm shell)
  2. .python-version in the current or a parent directory  (pyvm local)
  3. $PYVM_ROOT/version                                     (pyvm global)
  4. the system interpreter

` + SubtitleStyle.Render("Quick Start:") + `
  eval "$(pyvm init -)"       Add shims to PATH (put this in your shell rc)
  pyvm install 3.12           Install the newest 3.12 release
  pyvm global 3.12            Use it everywhere
  pyvm local 3.11.9           Pin a project directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/pyvm/config.cue)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.SetIn(app.stdin)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.AddCommand(
		newInitCommand(app),
		newInstallCommand(app),
		newUninstallCommand(app),
		newVersionsCommand(app),
		newVersionCommand(app),
		newGlobalCommand(app),
		newLocalCommand(app),
		newShellCommand(app),
		newWhichCommand(app),
		newWhenceCommand(app),
		newExecCommand(app),
		newRehashCommand(app),
		newPrefixCommand(app),
		newRootDirCommand(app),
		newUpdateCommand(app),
		newConfigCommand(app),
		newCompletionCommand(),
	)

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Main runs the CLI with os.Args and returns the process exit status.
func Main() int {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return app.Run(context.Background(), os.Args[1:])
}

// Execute runs the CLI and exits. This is called by main.main().
func Execute() {
	os.Exit(Main())
}

// Run executes the command tree with args and returns the exit status.
func (a *App) Run(ctx context.Context, args []string) int {
	rootCmd := NewRootCommand(a)
	rootCmd.SetArgs(args)

	err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(a.handleError),
	)
	return int(exitCodeFor(err))
}

// handleError renders a failed command on stderr. Errors that only carry an
// exit status (a failing child of `pyvm exec`) print nothing.
func (a *App) handleError(w io.Writer, _ fang.Styles, err error) {
	var (
		exitErr   *ExitError
		statusErr *shim.ExitStatusError
	)
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	if errors.As(err, &statusErr) {
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("pyvm:"), formatErrorForDisplay(err, a.verbose))

	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(w, "Run '%s' for usage.\n", CmdStyle.Render("pyvm --help"))
		return
	}

	if !a.verbose {
		return
	}
	if entry := issue.Get(issueFor(err)); entry != nil {
		if rendered, renderErr := entry.Render("auto"); renderErr == nil {
			fmt.Fprint(w, rendered)
		}
	}
}
