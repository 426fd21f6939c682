package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/orchestrator/pkg/config"
	"github.com/openfroyo/orchestrator/pkg/engine"
	"github.com/openfroyo/orchestrator/pkg/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	baseModel = `
version: 1
resources: {
	"std::File[web1,path=/etc/motd]": attributes: {path: "/etc/motd", content: string}
	"std::Service[web1,name=nginx]": {
		attributes: {name: "nginx"}
		requires: ["std::File[web1,path=/etc/motd]"]
	}
}
`
	definedModel = `
version: 2
resources: {
	"std::File[web1,path=/etc/motd]": attributes: {path: "/etc/motd", content: "welcome"}
	"std::Service[web1,name=nginx]": {
		attributes: {name: "nginx"}
		requires: ["std::File[web1,path=/etc/motd]"]
	}
}
`
	cyclicModel = `
version: 1
resources: {
	"std::File[web1,path=/a]": requires: ["std::File[web1,path=/b]"]
	"std::File[web1,path=/b]": requires: ["std::File[web1,path=/a]"]
}
`
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// workspace initializes a settings file and database in a temporary directory.
func workspace(t *testing.T) (dir, settings string) {
	t.Helper()
	dir = t.TempDir()
	settings = filepath.Join(dir, "froyo.yaml")
	require.NoError(t, runCLI(t, "init", "--config", settings, "--db", filepath.Join(dir, "data", "froyo.db"), "--env", "staging"))
	return dir, settings
}

func restoredStatus(t *testing.T, settingsPath string) *engine.StatusReport {
	t.Helper()
	settings, err := config.LoadSettings(settingsPath)
	require.NoError(t, err)

	store, err := stores.NewSQLiteStore(settings.StoreConfig())
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	orch, err := engine.NewOrchestrator(settings.Environment, engine.OrchestratorOptions{Store: store})
	require.NoError(t, err)
	_, err = orch.Restore(context.Background())
	require.NoError(t, err)

	report, err := orch.Status()
	require.NoError(t, err)
	return report
}

func TestInitWritesSettings(t *testing.T) {
	dir, settingsPath := workspace(t)

	settings, err := config.LoadSettings(settingsPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", settings.Environment)
	assert.Equal(t, filepath.Join(dir, "data", "froyo.db"), settings.Database.Path)
	assert.FileExists(t, settings.Database.Path)

	// A second init keeps the settings file.
	require.NoError(t, runCLI(t, "init", "--config", settingsPath, "--env", "other"))
	settings, err = config.LoadSettings(settingsPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", settings.Environment)
}

func TestApplyReportRestoreFlow(t *testing.T) {
	dir, settings := workspace(t)
	v1 := writeFile(t, dir, "v1.cue", baseModel)
	v2 := writeFile(t, dir, "v2.cue", definedModel)

	require.NoError(t, runCLI(t, "apply", "-c", settings, "-f", v1))

	report := restoredStatus(t, settings)
	assert.Equal(t, "staging", report.Environment)
	assert.Equal(t, 1, report.Version)
	require.Len(t, report.Resources, 2)
	for _, res := range report.Resources {
		assert.Equal(t, engine.BlockedBlocked, res.Blocked, "%s depends on an undefined value", res.ID)
	}
	assert.Empty(t, report.Dirty)

	require.Error(t, runCLI(t, "apply", "-c", settings, "-f", v1), "versions only move forward")
	require.NoError(t, runCLI(t, "apply", "-c", settings, "-f", v2, "--json"))

	report = restoredStatus(t, settings)
	assert.Equal(t, 2, report.Version)
	assert.Len(t, report.Dirty, 2)

	require.NoError(t, runCLI(t, "report", "-c", settings, "std::File[web1,path=/etc/motd]", "--result", "successful"))
	require.NoError(t, runCLI(t, "report", "-c", settings, "std::Service[web1,name=nginx]", "-r", "failed", "--json"))

	report = restoredStatus(t, settings)
	states := make(map[engine.ResourceID]engine.HandlerState)
	for _, res := range report.Resources {
		states[res.ID] = res.HandlerState
	}
	assert.Equal(t, engine.HandlerStateDeployed, states["std::File[web1,path=/etc/motd]"])
	assert.Equal(t, engine.HandlerStateFailed, states["std::Service[web1,name=nginx]"])

	require.NoError(t, runCLI(t, "status", "-c", settings))
	require.NoError(t, runCLI(t, "status", "-c", settings, "--json"))
	require.NoError(t, runCLI(t, "status", "-c", settings, "--dot"))
	require.NoError(t, runCLI(t, "restore", "-c", settings))
	require.NoError(t, runCLI(t, "restore", "-c", settings, "--json"))
	require.NoError(t, runCLI(t, "history", "-c", settings))
	require.NoError(t, runCLI(t, "history", "-c", settings, "std::File[web1,path=/etc/motd]", "--limit", "0", "--json"))
	require.NoError(t, runCLI(t, "history", "-c", settings, "--versions"))
}

func TestReportRejectsBadInput(t *testing.T) {
	dir, settings := workspace(t)
	require.NoError(t, runCLI(t, "apply", "-c", settings, "-f", writeFile(t, dir, "v2.cue", definedModel)))

	tests := []struct {
		name string
		args []string
	}{
		{"malformed id", []string{"report", "-c", settings, "not-an-id", "-r", "successful"}},
		{"unknown resource", []string{"report", "-c", settings, "std::File[web1,path=/nope]", "-r", "successful"}},
		{"invalid result", []string{"report", "-c", settings, "std::File[web1,path=/etc/motd]", "-r", "new"}},
		{"missing result", []string{"report", "-c", settings, "std::File[web1,path=/etc/motd]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, runCLI(t, tt.args...))
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runCLI(t, "validate", writeFile(t, dir, "model.cue", baseModel)))
	require.NoError(t, runCLI(t, "validate", "--json", writeFile(t, dir, "model2.cue", definedModel)))
	require.Error(t, runCLI(t, "validate", writeFile(t, dir, "cyclic.cue", cyclicModel)))
	require.Error(t, runCLI(t, "validate", writeFile(t, dir, "bad-id.yaml", "version: 1\nresources:\n  - id: web\n")))
	require.Error(t, runCLI(t, "validate", filepath.Join(dir, "missing.cue")))
}

func TestRestoreEmptyEnvironment(t *testing.T) {
	_, settings := workspace(t)
	require.NoError(t, runCLI(t, "restore", "-c", settings, "--env", "unknown"))
}

func TestOpenStoreFailures(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"database path is a directory", dir},
		{"parent is a file", filepath.Join(writeFile(t, dir, "plain", ""), "froyo.db")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.DefaultSettings()
			settings.Database.Path = tt.path
			store, err := openStore(context.Background(), settings)
			require.Error(t, err)
			assert.Nil(t, store)
		})
	}
}
