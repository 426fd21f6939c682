package commands

import (
	"fmt"
	"time"

	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	var (
		result  string
		hash    string
		changed bool
	)

	cmd := &cobra.Command{
		Use:   "report <resource-id>",
		Short: "Report the outcome of a deploy",
		Long: `Fold the outcome of one deploy into the model, as an agent would after
running the handler of a resource.

A successful deploy of the current intent makes the resource compliant and
releases dependents held back by a failure. A changed deploy sends an event
to dependents that receive events, making them dirty again.

--hash names the intent that was deployed and defaults to the current one.
Reports for an older intent are recorded but leave the resource dirty.`,
		Example: `  # Report a successful deploy that changed the host
  froyo report 'std::File[web1,path=/etc/motd]' --result successful --changed

  # Report a failure of a specific intent
  froyo report 'std::Service[web1,name=nginx]' --result failed --hash 3f2a...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := engine.ResourceID(args[0])
			if _, err := engine.ParseResourceID(id); err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if hash == "" {
				intent, ok := rt.orch.Intent(id)
				if !ok {
					return engine.NewNotFoundError(id)
				}
				hash = intent.AttributeHash()
			}

			log.Info().
				Str("resource", string(id)).
				Str("result", result).
				Bool("changed", changed).
				Msg("Reporting deploy")

			batch, err := rt.orch.ReportDeploy(cmd.Context(), engine.DeployReport{
				ResourceID:    id,
				AttributeHash: hash,
				Result:        engine.HandlerResult(result),
				Finished:      time.Now().UTC(),
				Changed:       changed,
			})
			if err != nil {
				return fmt.Errorf("failed to report deploy of %s: %w", id, err)
			}
			return rt.commit(cmd.Context(), batch)
		},
	}

	cmd.Flags().StringVarP(&result, "result", "r", "", "deploy outcome (successful, failed, skipped)")
	cmd.Flags().StringVar(&hash, "hash", "", "attribute hash of the deployed intent")
	cmd.Flags().BoolVar(&changed, "changed", false, "the deploy changed the managed resource")
	_ = cmd.MarkFlagRequired("result")

	return cmd
}
