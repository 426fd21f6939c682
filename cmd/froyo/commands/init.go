package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the froyo database and settings",
		Long: `Initialize a froyo workspace: create the SQLite database, run its migrations
and write a settings file with the defaults.

An existing settings file is left untouched unless --force is given. The
database is migrated in place, so running init again is safe.`,
		Example: `  # Initialize with defaults (./froyo.yaml, ./data/froyo.db)
  froyo init

  # Initialize a named environment with a custom database
  froyo init --env production --db /var/lib/froyo/state.db --config /etc/froyo/froyo.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := configPath
			if target == "" {
				target = "./froyo.yaml"
			}

			// The settings file may not exist yet.
			if _, err := os.Stat(target); os.IsNotExist(err) {
				configPath = ""
			} else {
				configPath = target
			}
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			log.Info().
				Str("environment", settings.Environment).
				Str("database", settings.Database.Path).
				Msg("Initializing workspace")

			store, err := openStore(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("database health check failed: %w", err)
			}
			fmt.Printf("✓ Initialized SQLite database: %s\n", settings.Database.Path)

			if _, err := os.Stat(target); err == nil && !force {
				fmt.Printf("✓ Settings file already exists: %s\n", target)
			} else {
				data, err := yaml.Marshal(settings)
				if err != nil {
					return fmt.Errorf("failed to encode settings: %w", err)
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return fmt.Errorf("failed to write settings file: %w", err)
				}
				fmt.Printf("✓ Created settings file: %s\n", target)
			}

			fmt.Printf("\n✅ Workspace initialized for environment %q\n\n", settings.Environment)
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Apply a model:\n")
			fmt.Printf("     froyo apply -f model.cue\n\n")
			fmt.Printf("  2. Inspect the environment:\n")
			fmt.Printf("     froyo status\n\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")

	return cmd
}
