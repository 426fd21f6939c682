package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/orchestrator/pkg/config"
	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	var (
		modelFile string
		metrics   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-apply a model file whenever it changes",
		Long: `Apply a model file and keep applying it every time it is saved.

Saves that do not bump the model version are ignored, as are files that
fail to load; the last applied version stays in place. With --metrics the
Prometheus endpoint from the settings is served while watching.`,
		Example: `  # Watch a CUE model
  froyo watch -f model.cue

  # Watch and expose metrics
  froyo watch -f model.yaml --metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewModelLoader()
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if metrics {
				server, errs := rt.tel.StartMetricsServer()
				if server != nil {
					defer server.Close()
					go func() {
						for err := range errs {
							log.Error().Err(err).Msg("Metrics server failed")
						}
					}()
					log.Info().Str("address", server.Addr).Msg("Serving metrics")
				}
			}

			watcher := config.NewWatcher(loader, log.Logger, rt.settings.Watch.Debounce)
			return watcher.Watch(cmd.Context(), modelFile, func(ctx context.Context, def *engine.ModelDefinition) error {
				if current := rt.orch.Version(); def.Version <= current {
					log.Info().
						Int("version", def.Version).
						Int("current", current).
						Msg("Model version already applied, waiting for a newer one")
					return nil
				}
				result, err := rt.orch.ApplyModel(ctx, *def)
				if err != nil {
					return fmt.Errorf("failed to apply model version %d: %w", def.Version, err)
				}
				return rt.commit(ctx, result)
			})
		},
	}

	cmd.Flags().StringVarP(&modelFile, "file", "f", "", "model definition file")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics while watching")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
