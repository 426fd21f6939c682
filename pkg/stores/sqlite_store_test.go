package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func boolRef(b bool) *bool { return &b }

func stringRef(s string) *string { return &s }

func sampleRecords(now time.Time) []ResourceRecord {
	return []ResourceRecord{
		{
			ResourceID:                "file[web,path=/etc/motd]",
			AttributeHash:             "h1",
			Attributes:                `{"content":"hello"}`,
			LastDeployedAttributeHash: stringRef("h1"),
			LastDeployResult:          "successful",
			LastHandlerRunCompliant:   boolRef(true),
			Blocked:                   "not_blocked",
			LastDeployed:              &now,
			LastSuccess:               &now,
			SendEvent:                 true,
			ReceiveEvents:             true,
		},
		{
			ResourceID:       "service[web,name=nginx]",
			ResourceSet:      "frontend",
			AttributeHash:    "h2",
			Attributes:       `{"state":"running"}`,
			LastDeployResult: "new",
			Blocked:          "not_blocked",
			Requires:         []string{"file[web,path=/etc/motd]"},
			ReceiveEvents:    true,
		},
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	require.Error(t, err)
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

func TestHealthCheckBeforeInit(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)
	require.Error(t, store.HealthCheck(context.Background()))
	require.Error(t, store.Migrate(context.Background()))
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"environments", "model_versions", "resource_state", "resource_actions"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}

	// Running migrations twice is a no-op.
	require.NoError(t, store.Migrate(ctx))
}

func TestLastProcessedVersionUnknownEnvironment(t *testing.T) {
	store := setupTestStore(t)

	version, ok, err := store.GetLastProcessedModelVersion(context.Background(), "prod")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, version)
}

func TestModelVersionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateModelVersion(ctx, &ModelVersion{Environment: "prod", Version: 1, TotalResources: 3}))
	require.NoError(t, store.CreateModelVersion(ctx, &ModelVersion{Environment: "prod", Version: 2, TotalResources: 4}))

	mv, err := store.GetModelVersion(ctx, "prod", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, mv.TotalResources)
	assert.False(t, mv.Released)
	assert.Nil(t, mv.ProcessedAt)

	_, err = store.GetModelVersion(ctx, "prod", 9)
	require.ErrorIs(t, err, ErrNotFound)

	versions, err := store.ListModelVersions(ctx, "prod", 10, 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)

	// A registered but unprocessed version does not move the pointer.
	_, ok, err := store.GetLastProcessedModelVersion(ctx, "prod")
	require.NoError(t, err)
	assert.False(t, ok)

	envs, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "prod", envs[0].Name)
	assert.Nil(t, envs[0].LastProcessedVersion)
}

func TestSaveAndListModelState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.SaveModelState(ctx, "prod", 1, sampleRecords(now)))

	version, ok, err := store.GetLastProcessedModelVersion(ctx, "prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, version)

	records, err := store.ListResourcesForVersion(ctx, "prod", 1)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]ResourceRecord{}
	for _, rec := range records {
		byID[rec.ResourceID] = rec
	}

	file := byID["file[web,path=/etc/motd]"]
	assert.False(t, file.IsOrphan)
	assert.Equal(t, "h1", file.AttributeHash)
	require.NotNil(t, file.LastDeployedAttributeHash)
	assert.Equal(t, "h1", *file.LastDeployedAttributeHash)
	require.NotNil(t, file.LastHandlerRunCompliant)
	assert.True(t, *file.LastHandlerRunCompliant)
	require.NotNil(t, file.LastSuccess)
	assert.True(t, now.Equal(*file.LastSuccess))
	assert.True(t, file.SendEvent)
	assert.Empty(t, file.Requires)

	svc := byID["service[web,name=nginx]"]
	assert.Equal(t, "frontend", svc.ResourceSet)
	assert.Nil(t, svc.LastDeployedAttributeHash)
	assert.Nil(t, svc.LastHandlerRunCompliant)
	assert.Nil(t, svc.LastDeployed)
	assert.Equal(t, []string{"file[web,path=/etc/motd]"}, svc.Requires)

	mv, err := store.GetModelVersion(ctx, "prod", 1)
	require.NoError(t, err)
	assert.True(t, mv.Released)
	assert.NotNil(t, mv.ProcessedAt)
}

func TestSaveModelStateOrphansMissingResources(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := sampleRecords(now)
	require.NoError(t, store.SaveModelState(ctx, "prod", 1, records))
	require.NoError(t, store.SaveModelState(ctx, "prod", 2, records[:1]))

	listed, err := store.ListResourcesForVersion(ctx, "prod", 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, rec := range listed {
		if rec.ResourceID == "service[web,name=nginx]" {
			assert.True(t, rec.IsOrphan)
		} else {
			assert.False(t, rec.IsOrphan)
		}
	}

	// Listing against an older version orphans everything saved for a newer one.
	listed, err = store.ListResourcesForVersion(ctx, "prod", 1)
	require.NoError(t, err)
	for _, rec := range listed {
		assert.True(t, rec.IsOrphan, rec.ResourceID)
	}
}

func TestSaveModelStateRejectsStaleVersion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveModelState(ctx, "prod", 5, nil))
	err := store.SaveModelState(ctx, "prod", 4, nil)
	require.ErrorIs(t, err, ErrStaleVersion)

	// Saving the same version again is allowed.
	require.NoError(t, store.SaveModelState(ctx, "prod", 5, nil))

	version, _, err := store.GetLastProcessedModelVersion(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 5, version)
}

func TestEnvironmentsAreIsolated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveModelState(ctx, "prod", 1, sampleRecords(time.Now())))
	require.NoError(t, store.SaveModelState(ctx, "dev", 1, nil))

	records, err := store.ListResourcesForVersion(ctx, "dev", 1)
	require.NoError(t, err)
	assert.Empty(t, records)

	envs, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "dev", envs[0].Name)
}

func TestResourceActions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := "file[web,path=/etc/motd]"
	for _, action := range []ActionType{ActionBlocked, ActionUnblocked, ActionDeploy} {
		entry := &ResourceAction{
			Environment:  "prod",
			ModelVersion: 1,
			ResourceID:   id,
			Action:       action,
			Level:        EventLevelInfo,
			Message:      string(action),
		}
		require.NoError(t, store.AppendResourceAction(ctx, entry))
		assert.NotZero(t, entry.ID)
	}
	require.NoError(t, store.AppendResourceAction(ctx, &ResourceAction{
		Environment: "prod",
		ResourceID:  "service[web,name=nginx]",
		Action:      ActionDropped,
		Level:       EventLevelWarning,
		Message:     "dropped",
		Details:     stringRef(`{"version":2}`),
	}))

	all, err := store.ListResourceActions(ctx, "prod", nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, ActionDropped, all[0].Action)

	filtered, err := store.ListResourceActions(ctx, "prod", &id, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	assert.Equal(t, ActionDeploy, filtered[0].Action)

	page, err := store.ListResourceActions(ctx, "prod", &id, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ActionUnblocked, page[0].Action)
}

func TestFileBackedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "froyo.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.SaveModelState(ctx, "prod", 3, sampleRecords(time.Now())))
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := NewSQLiteStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, reopened.Init(ctx))
	defer reopened.Close()
	require.NoError(t, reopened.Migrate(ctx))

	version, ok, err := reopened.GetLastProcessedModelVersion(ctx, "prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, version)
}

func TestTransactionRollback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO environments (name, updated_at) VALUES (?, ?)`, "tmp", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.RollbackTx(tx))

	envs, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Empty(t, envs)
}
