package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every resource",
		Long: `Show the handler state of every resource of the environment, the dirty set
and a per-agent summary.

With --dot the requires graph is printed in Graphviz format, colored by
handler state.`,
		Example: `  # Table of resources
  froyo status

  # Full report as JSON
  froyo status --json

  # Render the requires graph
  froyo status --dot | dot -Tsvg > model.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if dot {
				out, err := rt.orch.DOT()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			}

			report, err := rt.orch.Status()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}

			fmt.Printf("Environment %s, model version %d\n\n", report.Environment, report.Version)
			if len(report.Resources) == 0 {
				fmt.Println("No resources.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tAGENT\tHANDLER STATE\tCOMPLIANCE\tBLOCKED\tDIRTY")
			for _, res := range report.Resources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					res.ID, res.Agent, res.HandlerState, res.Compliance, res.Blocked, res.Dirty)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\nAgents:\n")
			for _, agent := range report.Agents {
				fmt.Printf("  %s (%s): %d resources, %d dirty\n", agent.Name, agent.Status, agent.Resources, agent.Dirty)
			}
			fmt.Printf("\nDirty resources: %d\n", len(report.Dirty))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the requires graph in Graphviz format")

	return cmd
}
