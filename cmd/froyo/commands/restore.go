package commands

import (
	"fmt"
	"sort"

	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/spf13/cobra"
)

func newRestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the environment from the database",
		Long: `Restore the last processed model version of the environment from the
database and print what the orchestrator would resume with.

The restore process:
  - Loads the resource records of the last processed version
  - Rebuilds compliance from the stored deploy results
  - Recomputes the blocked status of every resource
  - Verifies the consistency of the restored model`,
		Example: `  # Show the restored state of the default environment
  froyo restore

  # Restore another environment as JSON
  froyo restore --env production --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.orch.Check(); err != nil {
				return fmt.Errorf("restored model is inconsistent: %w", err)
			}
			report, err := rt.orch.Status()
			if err != nil {
				return err
			}

			var blocked, temporarilyBlocked []engine.ResourceID
			for _, res := range report.Resources {
				switch res.Blocked {
				case engine.BlockedBlocked:
					blocked = append(blocked, res.ID)
				case engine.BlockedTemporarily:
					temporarilyBlocked = append(temporarilyBlocked, res.ID)
				}
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"environment":         report.Environment,
					"version":             report.Version,
					"resources":           len(report.Resources),
					"dirty":               report.Dirty,
					"blocked":             blocked,
					"temporarily_blocked": temporarilyBlocked,
					"counts":              report.Counts,
				})
			}

			if report.Version == 0 {
				fmt.Printf("Nothing to restore for environment %s\n", report.Environment)
				return nil
			}
			fmt.Printf("Restored environment %s, model version %d, %d resources\n",
				report.Environment, report.Version, len(report.Resources))
			printIDs("dirty", report.Dirty)
			printIDs("blocked", blocked)
			printIDs("temporarily blocked", temporarilyBlocked)
			states := make([]string, 0, len(report.Counts))
			for state := range report.Counts {
				states = append(states, string(state))
			}
			sort.Strings(states)
			for _, state := range states {
				fmt.Printf("  %s: %d\n", state, report.Counts[engine.HandlerState(state)])
			}
			return nil
		},
	}

	return cmd
}
