package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/orchestrator/pkg/config"
	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model>",
		Short: "Validate a model definition",
		Long: `Validate a model definition without applying it.

This command checks:
  - Syntax and schema conformance of the file
  - Resource id format
  - Duplicate resources
  - Requirements on resources missing from the model
  - Dependency cycles

Partial models are checked on their own: requirements on resources of
other resource sets are reported as missing.`,
		Example: `  # Validate a CUE model
  froyo validate model.cue

  # Validate and print the deploy levels as JSON
  froyo validate model.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("path", args[0]).Msg("Validating model")

			loader, err := config.NewModelLoader()
			if err != nil {
				return err
			}
			def, err := loader.LoadPath(args[0])
			if err != nil {
				return err
			}

			requires := make(map[engine.ResourceID][]engine.ResourceID, len(def.Resources))
			undefined := 0
			for _, res := range def.Resources {
				if _, err := engine.ParseResourceID(res.ID); err != nil {
					return err
				}
				if _, dup := requires[res.ID]; dup {
					return fmt.Errorf("duplicate resource %s", res.ID)
				}
				requires[res.ID] = res.Requires
				if res.Undefined {
					undefined++
				}
			}

			graph, err := engine.BuildDependencyGraph(requires)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"version":   def.Version,
					"resources": len(def.Resources),
					"undefined": undefined,
					"levels":    graph.Levels(),
				})
			}

			fmt.Printf("✓ Model version %d is valid: %d resources, %d undefined\n", def.Version, len(def.Resources), undefined)
			for i, level := range graph.Levels() {
				ids := make([]string, 0, len(level))
				for _, id := range level {
					ids = append(ids, string(id))
				}
				fmt.Printf("  level %d: %s\n", i, strings.Join(ids, ", "))
			}
			return nil
		},
	}

	return cmd
}
