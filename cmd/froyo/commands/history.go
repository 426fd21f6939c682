package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		versions bool
	)

	cmd := &cobra.Command{
		Use:   "history [resource-id]",
		Short: "Show the action log of the environment",
		Long: `Show the resource action log of the environment, newest first: intent
changes, blocked status changes, deploys and events. With a resource id only
that resource's actions are listed. With --versions the applied model
versions are listed instead.`,
		Example: `  # Last 20 actions of the environment
  froyo history

  # Everything that happened to one resource
  froyo history 'std::File[web1,path=/etc/motd]' --limit 0

  # Applied model versions
  froyo history --versions`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer store.Close()

			if limit <= 0 {
				limit = -1
			}

			if versions {
				list, err := store.ListModelVersions(cmd.Context(), settings.Environment, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(list)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tRESOURCES\tCREATED")
				for _, v := range list {
					fmt.Fprintf(w, "%d\t%d\t%s\n", v.Version, v.TotalResources, v.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}

			var resourceID *string
			if len(args) == 1 {
				resourceID = &args[0]
			}
			actions, err := store.ListResourceActions(cmd.Context(), settings.Environment, resourceID, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(actions)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tVERSION\tRESOURCE\tACTION\tLEVEL\tMESSAGE")
			for _, a := range actions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
					a.Timestamp.Format(time.RFC3339), a.ModelVersion, a.ResourceID, a.Action, a.Level, a.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	cmd.Flags().BoolVar(&versions, "versions", false, "list applied model versions")

	return cmd
}
