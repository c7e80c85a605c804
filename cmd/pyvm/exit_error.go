// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/config"
	"github.com/pyvm/pyvm/internal/fetch"
	"github.com/pyvm/pyvm/internal/install"
	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/internal/lockfile"
	"github.com/pyvm/pyvm/internal/registry"
	"github.com/pyvm/pyvm/internal/shim"
	"github.com/pyvm/pyvm/pkg/types"
	"github.com/pyvm/pyvm/pkg/version"
)

// ErrNoVersionRequested is returned by `pyvm install` without arguments
// when PYTHON_VERSION is unset.
var ErrNoVersionRequested = errors.New("no version given and PYTHON_VERSION is not set")

type (
	// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
	ExitError struct {
		Code types.ExitCode
		Err  error
	}

	// usageError marks errors in how a command was invoked.
	usageError struct {
		err error
	}
)

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// exitCodeFor maps an error onto the process exit status: user-correctable
// problems exit 1, environmental failures exit 2.
func exitCodeFor(err error) types.ExitCode {
	if err == nil {
		return types.ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var statusErr *shim.ExitStatusError
	if errors.As(err, &statusErr) {
		return types.ExitCode(statusErr.Code)
	}

	var rateLimit *registry.RateLimitError
	switch {
	case errors.Is(err, shim.ErrCommandNotFound):
		return types.ExitCommandNotFound
	case errors.Is(err, install.ErrDownloadFailed),
		errors.Is(err, fetch.ErrNotFound),
		errors.Is(err, install.ErrChecksumMismatch),
		errors.Is(err, install.ErrArchiveNotListed),
		errors.Is(err, install.ErrBuildFailed),
		errors.Is(err, install.ErrUnsafePath),
		errors.Is(err, install.ErrArchiveTooLarge),
		errors.Is(err, install.ErrInvalidInstall),
		errors.Is(err, lockfile.ErrLocked),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &rateLimit):
		return types.ExitUnexpected
	}
	return types.ExitUserError
}

// issueFor picks the catalog entry that explains err, or 0.
func issueFor(err error) issue.Id {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.IssueID != 0 {
		return ae.IssueID
	}

	switch {
	case errors.Is(err, activation.ErrVersionNotInstalled), errors.Is(err, install.ErrNotInstalled):
		return issue.VersionNotInstalledId
	case errors.Is(err, registry.ErrDefinitionNotFound):
		return issue.DefinitionNotFoundId
	case errors.Is(err, install.ErrChecksumMismatch):
		return issue.ChecksumMismatchId
	case errors.Is(err, install.ErrBuildFailed):
		return issue.BuildFailedId
	case errors.Is(err, install.ErrDownloadFailed):
		return issue.DownloadFailedId
	case errors.Is(err, registry.ErrNotARepository):
		return issue.RegistrySyncFailedId
	case errors.Is(err, config.ErrInvalidConfig):
		return issue.ConfigLoadFailedId
	case errors.Is(err, version.ErrInvalidSpec):
		return issue.InvalidVersionSpecId
	case errors.Is(err, ErrNoVersionRequested):
		return issue.NoVersionRequestedId
	case errors.Is(err, shim.ErrCommandNotFound):
		return issue.CommandNotFoundId
	case errors.Is(err, fs.ErrPermission):
		return issue.PermissionDeniedId
	}
	return 0
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
