package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/orchestrator/pkg/config"
	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/openfroyo/orchestrator/pkg/stores"
	"github.com/openfroyo/orchestrator/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loadSettings reads the settings file and applies the global flag overrides.
func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		settings.Database.Path = dbPath
	}
	if environment != "" {
		settings.Environment = environment
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// runtime is an orchestrator wired to its store and telemetry.
type runtime struct {
	settings *config.Settings
	store    *stores.SQLiteStore
	tel      *telemetry.Telemetry
	orch     *engine.Orchestrator
}

// openRuntime opens the store, builds the orchestrator of the configured environment and
// restores its last processed model.
func openRuntime(ctx context.Context) (*runtime, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, settings)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	orch, err := engine.NewOrchestrator(settings.Environment, engine.OrchestratorOptions{
		Store:     store,
		Telemetry: tel,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &runtime{settings: settings, store: store, tel: tel, orch: orch}
	if _, err := orch.Restore(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to restore environment %s: %w", settings.Environment, err)
	}

	log.Debug().
		Str("environment", settings.Environment).
		Int("version", orch.Version()).
		Msg("Environment restored")

	return rt, nil
}

// Close flushes telemetry and closes the store.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

// openStore opens and migrates the SQLite database named by the settings.
func openStore(ctx context.Context, settings *config.Settings) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(settings.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	store, err := stores.NewSQLiteStore(settings.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commit prints a batch and makes sure it reached the store before the process exits.
func (r *runtime) commit(ctx context.Context, result *engine.BatchResult) error {
	if err := printBatch(result); err != nil {
		return err
	}
	if result.Persisted {
		return nil
	}
	if err := r.orch.Sync(ctx); err != nil {
		return fmt.Errorf("batch %s was applied but not saved: %w", result.ID, err)
	}
	return nil
}

// printBatch prints the summary of one batch.
func printBatch(result *engine.BatchResult) error {
	if jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("Batch %s (%s) applied to %s, version %d\n", result.ID, result.Kind, result.Environment, result.Version)
	printIDs("added", result.Added)
	printIDs("updated", result.Updated)
	printIDs("dropped", result.Dropped)
	printIDs("unblocked", result.Unblocked)
	printIDs("blocked", result.Blocked)
	fmt.Printf("Dirty resources: %d\n", result.Dirty)
	return nil
}

func printIDs(label string, ids []engine.ResourceID) {
	if len(ids) == 0 {
		return
	}
	fmt.Printf("  %s (%d):\n", label, len(ids))
	for _, id := range ids {
		fmt.Printf("    - %s\n", id)
	}
}
