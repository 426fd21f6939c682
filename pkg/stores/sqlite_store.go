package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a distinct database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// ListEnvironments lists every environment that has been persisted
func (s *SQLiteStore) ListEnvironments(ctx context.Context) ([]*Environment, error) {
	query := `
		SELECT name, last_processed_version, updated_at
		FROM environments
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	environments := []*Environment{}
	for rows.Next() {
		env := &Environment{}
		if err := rows.Scan(&env.Name, &env.LastProcessedVersion, &env.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		environments = append(environments, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return environments, nil
}

// GetLastProcessedModelVersion returns the last model version processed for an environment.
// The boolean is false when no version was ever processed.
func (s *SQLiteStore) GetLastProcessedModelVersion(ctx context.Context, environment string) (int, bool, error) {
	query := `SELECT last_processed_version FROM environments WHERE name = ?`

	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, environment).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last processed model version: %w", err)
	}
	if !version.Valid {
		return 0, false, nil
	}

	return int(version.Int64), true, nil
}

// CreateModelVersion registers a model version that has not been processed yet
func (s *SQLiteStore) CreateModelVersion(ctx context.Context, version *ModelVersion) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureEnvironment(ctx, tx, version.Environment); err != nil {
		return err
	}

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO model_versions (environment, version, total_resources, released, processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		version.Environment,
		version.Version,
		version.TotalResources,
		version.Released,
		version.ProcessedAt,
		version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create model version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit model version: %w", err)
	}
	return nil
}

// GetModelVersion retrieves one model version of an environment
func (s *SQLiteStore) GetModelVersion(ctx context.Context, environment string, version int) (*ModelVersion, error) {
	query := `
		SELECT environment, version, total_resources, released, processed_at, created_at
		FROM model_versions
		WHERE environment = ? AND version = ?
	`

	mv := &ModelVersion{}
	err := s.db.QueryRowContext(ctx, query, environment, version).Scan(
		&mv.Environment,
		&mv.Version,
		&mv.TotalResources,
		&mv.Released,
		&mv.ProcessedAt,
		&mv.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model version %s/%d: %w", environment, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model version: %w", err)
	}

	return mv, nil
}

// ListModelVersions lists the model versions of an environment, newest first
func (s *SQLiteStore) ListModelVersions(ctx context.Context, environment string, limit, offset int) ([]*ModelVersion, error) {
	query := `
		SELECT environment, version, total_resources, released, processed_at, created_at
		FROM model_versions
		WHERE environment = ?
		ORDER BY version DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, environment, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list model versions: %w", err)
	}
	defer rows.Close()

	versions := []*ModelVersion{}
	for rows.Next() {
		mv := &ModelVersion{}
		err := rows.Scan(
			&mv.Environment,
			&mv.Version,
			&mv.TotalResources,
			&mv.Released,
			&mv.ProcessedAt,
			&mv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model version: %w", err)
		}
		versions = append(versions, mv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model versions: %w", err)
	}

	return versions, nil
}

// SaveModelState persists the converged state of a model version and moves the last processed
// version pointer to it. Resources absent from records become orphans.
func (s *SQLiteStore) SaveModelState(ctx context.Context, environment string, version int, records []ResourceRecord) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureEnvironment(ctx, tx, environment); err != nil {
		return err
	}

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT last_processed_version FROM environments WHERE name = ?`, environment).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to read last processed version: %w", err)
	}
	if last.Valid && int(last.Int64) > version {
		return fmt.Errorf("cannot save version %d of %s, version %d already processed: %w",
			version, environment, last.Int64, ErrStaleVersion)
	}

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO model_versions (environment, version, total_resources, released, processed_at, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(environment, version) DO UPDATE SET
			total_resources = excluded.total_resources,
			released = 1,
			processed_at = excluded.processed_at
	`, environment, version, len(records), now, now)
	if err != nil {
		return fmt.Errorf("failed to record model version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE resource_state SET is_orphan = 1 WHERE environment = ?`, environment); err != nil {
		return fmt.Errorf("failed to orphan previous resources: %w", err)
	}

	upsert := `
		INSERT INTO resource_state (
			environment, resource_id, model_version, resource_set, attribute_hash, attributes,
			is_orphan, is_undefined, last_deployed_attribute_hash, last_deploy_result,
			last_handler_run_compliant, blocked, last_deployed, last_success, last_produced_events,
			requires, send_event, receive_events, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(environment, resource_id) DO UPDATE SET
			model_version = excluded.model_version,
			resource_set = excluded.resource_set,
			attribute_hash = excluded.attribute_hash,
			attributes = excluded.attributes,
			is_orphan = excluded.is_orphan,
			is_undefined = excluded.is_undefined,
			last_deployed_attribute_hash = excluded.last_deployed_attribute_hash,
			last_deploy_result = excluded.last_deploy_result,
			last_handler_run_compliant = excluded.last_handler_run_compliant,
			blocked = excluded.blocked,
			last_deployed = excluded.last_deployed,
			last_success = excluded.last_success,
			last_produced_events = excluded.last_produced_events,
			requires = excluded.requires,
			send_event = excluded.send_event,
			receive_events = excluded.receive_events,
			updated_at = excluded.updated_at
	`
	for i := range records {
		rec := &records[i]
		requires, err := json.Marshal(nonNilStrings(rec.Requires))
		if err != nil {
			return fmt.Errorf("failed to serialize requires of %s: %w", rec.ResourceID, err)
		}
		attributes := rec.Attributes
		if attributes == "" {
			attributes = "{}"
		}
		_, err = tx.ExecContext(ctx, upsert,
			environment,
			rec.ResourceID,
			version,
			rec.ResourceSet,
			rec.AttributeHash,
			attributes,
			rec.IsOrphan,
			rec.IsUndefined,
			rec.LastDeployedAttributeHash,
			rec.LastDeployResult,
			rec.LastHandlerRunCompliant,
			rec.Blocked,
			rec.LastDeployed,
			rec.LastSuccess,
			rec.LastProducedEvents,
			string(requires),
			rec.SendEvent,
			rec.ReceiveEvents,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert resource %s: %w", rec.ResourceID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE environments SET last_processed_version = ?, updated_at = ? WHERE name = ?`,
		version, now, environment)
	if err != nil {
		return fmt.Errorf("failed to move last processed version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit model state: %w", err)
	}
	return nil
}

// ListResourcesForVersion returns every persisted resource of an environment. Resources that do not
// belong to the given version are flagged as orphans.
func (s *SQLiteStore) ListResourcesForVersion(ctx context.Context, environment string, version int) ([]ResourceRecord, error) {
	query := `
		SELECT resource_id, resource_set, attribute_hash, attributes,
			(is_orphan OR model_version <> ?), is_undefined, last_deployed_attribute_hash,
			last_deploy_result, last_handler_run_compliant, blocked,
			last_deployed, last_success, last_produced_events,
			requires, send_event, receive_events
		FROM resource_state
		WHERE environment = ?
		ORDER BY resource_set, resource_id
	`

	rows, err := s.db.QueryContext(ctx, query, version, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	records := []ResourceRecord{}
	for rows.Next() {
		var rec ResourceRecord
		var requires string
		err := rows.Scan(
			&rec.ResourceID,
			&rec.ResourceSet,
			&rec.AttributeHash,
			&rec.Attributes,
			&rec.IsOrphan,
			&rec.IsUndefined,
			&rec.LastDeployedAttributeHash,
			&rec.LastDeployResult,
			&rec.LastHandlerRunCompliant,
			&rec.Blocked,
			&rec.LastDeployed,
			&rec.LastSuccess,
			&rec.LastProducedEvents,
			&requires,
			&rec.SendEvent,
			&rec.ReceiveEvents,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		if err := json.Unmarshal([]byte(requires), &rec.Requires); err != nil {
			return nil, fmt.Errorf("failed to decode requires of %s: %w", rec.ResourceID, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return records, nil
}

// AppendResourceAction appends a new entry to the action log
func (s *SQLiteStore) AppendResourceAction(ctx context.Context, action *ResourceAction) error {
	query := `
		INSERT INTO resource_actions (environment, model_version, resource_id, action, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		action.Environment,
		action.ModelVersion,
		action.ResourceID,
		action.Action,
		action.Level,
		action.Message,
		action.Details,
		action.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append resource action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get action ID: %w", err)
	}
	action.ID = id

	return nil
}

// ListResourceActions retrieves action log entries, newest first, optionally for one resource
func (s *SQLiteStore) ListResourceActions(ctx context.Context, environment string, resourceID *string, limit, offset int) ([]*ResourceAction, error) {
	query := `
		SELECT id, environment, model_version, resource_id, action, level, message, details, timestamp
		FROM resource_actions
		WHERE environment = ?
	`
	args := []interface{}{environment}

	if resourceID != nil {
		query += " AND resource_id = ?"
		args = append(args, *resourceID)
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource actions: %w", err)
	}
	defer rows.Close()

	actions := []*ResourceAction{}
	for rows.Next() {
		action := &ResourceAction{}
		err := rows.Scan(
			&action.ID,
			&action.Environment,
			&action.ModelVersion,
			&action.ResourceID,
			&action.Action,
			&action.Level,
			&action.Message,
			&action.Details,
			&action.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource action: %w", err)
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource actions: %w", err)
	}

	return actions, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func ensureEnvironment(ctx context.Context, tx *sql.Tx, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment name is required")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO environments (name, last_processed_version, updated_at)
		VALUES (?, NULL, ?)
		ON CONFLICT(name) DO NOTHING
	`, environment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to register environment: %w", err)
	}
	return nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
