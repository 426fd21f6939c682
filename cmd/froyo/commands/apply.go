package commands

import (
	"fmt"

	"github.com/openfroyo/orchestrator/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var modelFile string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a model version",
		Long: `Apply a new version of the model to the environment.

This command:
  - Loads the model definition (CUE, YAML or JSON)
  - Restores the environment from the database
  - Updates changed intent, requirements and removed resources
  - Propagates blocked status through the requires graph
  - Persists the converged model and logs every resource action

The model version must be newer than the version already applied.`,
		Example: `  # Apply a CUE model
  froyo apply -f model.cue

  # Apply a model package directory and print the result as JSON
  froyo apply -f ./model --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewModelLoader()
			if err != nil {
				return err
			}
			def, err := loader.LoadPath(modelFile)
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			log.Info().
				Str("file", modelFile).
				Str("environment", rt.settings.Environment).
				Int("version", def.Version).
				Int("resources", len(def.Resources)).
				Bool("partial", def.Partial).
				Msg("Applying model")

			result, err := rt.orch.ApplyModel(cmd.Context(), *def)
			if err != nil {
				return fmt.Errorf("failed to apply model version %d: %w", def.Version, err)
			}
			return rt.commit(cmd.Context(), result)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "file", "f", "", "model definition file or CUE package directory")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
