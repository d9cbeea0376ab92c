package cli

import (
	"github.com/spf13/cobra"

	"wikimaint/app/internal/app/bootstrap"
)

const (
	PurgeCommandName  = "delete-new-revisions"
	RevertCommandName = "revert-pages"
)

// NewRootCommand groups both maintenance commands under one binary.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "wikimaint",
		Short:         "Wiki database maintenance tools",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(NewPurgeCommand(app), NewRevertCommand(app))
	return root
}

// NewPurgeCommand builds the delete-new-revisions command.
func NewPurgeCommand(app *App) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   PurgeCommandName + " [page_id...]",
		Short: "Delete new (post-August 9, 2019) revisions from the database",
		Long: `Finds every revision created after August 9, 2019, optionally limited to the given
page ids, and reports how many there are. With --delete the revisions and their
ip_changes and change_tag rows are removed in one transaction, then text rows no
longer referenced by any revision are purged.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pageIDs, err := ParsePageIDs(args)
			if err != nil {
				return err
			}

			return app.run(cmd.Context(), PurgeCommandName, func(result bootstrap.Result) error {
				_, err := result.Purger.Run(cmd.Context(), confirm, pageIDs)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "delete", false, "Actually perform the deletion")
	return cmd
}

// NewRevertCommand builds the revert-pages command.
func NewRevertCommand(app *App) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   RevertCommandName + " [page_id...]",
		Short: "Revert pages to the latest revision before August 9, 2019",
		Long: `Resolves, for every page (or only the given page ids), the latest revision created
before August 9, 2019. With --delete each page's current revision is switched to
it in one transaction. Pages without such a revision are reported and left alone.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pageIDs, err := ParsePageIDs(args)
			if err != nil {
				return err
			}

			return app.run(cmd.Context(), RevertCommandName, func(result bootstrap.Result) error {
				_, err := result.Reverter.Run(cmd.Context(), confirm, pageIDs)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "delete", false, "Actually perform the reversion")
	return cmd
}
