// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/internal/registry"
)

// newUpdateCommand creates the `pyvm update` command.
func newUpdateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update the version definitions",
		Long: `Clone or fast-forward the definitions repository configured as
registry.repository into $PYVM_ROOT/definitions.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.registry.Sync(cmd.Context())
			if err != nil {
				return syncError(svc.cfg.Registry.Repository, err)
			}
			switch {
			case res.Cloned:
				app.printf("%s Cloned definitions at %s\n", SuccessStyle.Render("✓"), shortHash(res.Commit))
			case res.Previous == res.Commit:
				app.println("Definitions are already up to date.")
			default:
				app.printf("%s Updated definitions %s..%s\n", SuccessStyle.Render("✓"), shortHash(res.Previous), shortHash(res.Commit))
			}
			return nil
		},
	}
}

func syncError(repo string, err error) error {
	b := issue.NewErrorContext().
		WithOperation("update definitions").
		WithResource(repo).
		WithIssue(issue.RegistrySyncFailedId).
		Wrap(err)
	switch {
	case errors.Is(err, registry.ErrSyncNotConfigured):
		b.WithSuggestion("Set one with 'pyvm config set registry.repository <git-url>'")
	case errors.Is(err, registry.ErrNotARepository):
		b.WithSuggestion("Move the definitions directory aside and run 'pyvm update' again")
	}
	return b.BuildError()
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
