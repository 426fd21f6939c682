package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deployReport(intent ResourceIntent, result HandlerResult, finished time.Time) DeployReport {
	return DeployReport{
		ResourceID:    intent.ID(),
		AttributeHash: intent.AttributeHash(),
		Result:        result,
		Finished:      finished,
	}
}

func TestRecordDeployResult(t *testing.T) {
	finished := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		result         HandlerResult
		wantCompliance Compliance
		wantState      HandlerState
		wantBlocked    Blocked
		wantDirty      bool
	}{
		{
			name:           "successful",
			result:         HandlerResultSuccessful,
			wantCompliance: ComplianceCompliant,
			wantState:      HandlerStateDeployed,
			wantBlocked:    BlockedNotBlocked,
		},
		{
			name:           "failed",
			result:         HandlerResultFailed,
			wantCompliance: ComplianceNonCompliant,
			wantState:      HandlerStateFailed,
			wantBlocked:    BlockedNotBlocked,
			wantDirty:      true,
		},
		{
			name:           "skipped",
			result:         HandlerResultSkipped,
			wantCompliance: ComplianceNonCompliant,
			wantState:      HandlerStateSkipped,
			wantBlocked:    BlockedTemporarily,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModelState(1)
			intent := mustUpdate(t, m, rid("a"), UpdateOptions{})

			outcome, err := m.RecordDeployResult(deployReport(intent, tt.result, finished))
			require.NoError(t, err)

			assert.False(t, outcome.Stale)
			assert.Equal(t, tt.wantState, outcome.HandlerState)

			state, _ := m.State(intent.ID())
			assert.Equal(t, tt.wantCompliance, state.Compliance)
			assert.Equal(t, tt.result, state.LastHandlerRun)
			assert.Equal(t, tt.wantBlocked, state.Blocked)
			require.NotNil(t, state.LastDeployed)
			assert.True(t, finished.Equal(*state.LastDeployed))
			require.NotNil(t, state.LastHandlerRunCompliant)
			assert.Equal(t, tt.result == HandlerResultSuccessful, *state.LastHandlerRunCompliant)
			assert.Equal(t, tt.wantDirty, m.IsDirty(intent.ID()))
			require.NoError(t, m.CheckConsistency())
		})
	}
}

func TestRecordDeployResultForStaleIntent(t *testing.T) {
	m := NewModelState(1)
	a := rid("a")
	old := newIntent(t, a, map[string]any{"v": 1})
	require.NoError(t, m.UpdateResource(old, UpdateOptions{}))
	require.NoError(t, m.UpdateResource(newIntent(t, a, map[string]any{"v": 2}), UpdateOptions{}))

	outcome, err := m.RecordDeployResult(deployReport(old, HandlerResultSuccessful, time.Now()))
	require.NoError(t, err)

	assert.True(t, outcome.Stale)
	assert.Equal(t, HandlerStateAvailable, outcome.HandlerState)
	assert.Equal(t, ComplianceHasUpdate, complianceOf(t, m, a))
	assert.True(t, m.IsDirty(a))
}

func TestRecordDeployResultRejectsInvalidReports(t *testing.T) {
	m := NewModelState(1)
	a, u := rid("a"), rid("u")
	intent := mustUpdate(t, m, a, UpdateOptions{})
	undefined := mustUpdate(t, m, u, UpdateOptions{Undefined: true})

	_, err := m.RecordDeployResult(deployReport(intent, HandlerResultNew, time.Now()))
	assert.True(t, IsValidation(err))

	_, err = m.RecordDeployResult(deployReport(intent, HandlerResult("exploded"), time.Now()))
	assert.True(t, IsValidation(err))

	_, err = m.RecordDeployResult(deployReport(undefined, HandlerResultSuccessful, time.Now()))
	assert.True(t, IsValidation(err))

	_, err = m.RecordDeployResult(deployReport(newIntent(t, rid("missing"), nil), HandlerResultSuccessful, time.Now()))
	assert.True(t, IsNotFound(err))

	state, _ := m.State(a)
	assert.Equal(t, HandlerResultNew, state.LastHandlerRun, "rejected reports must not change the model")
}

func TestSuccessfulDeployReleasesDependents(t *testing.T) {
	m := NewModelState(1)
	a, b := rid("a"), rid("b")
	intentA := mustUpdate(t, m, a, UpdateOptions{})
	mustUpdate(t, m, b, UpdateOptions{})
	require.NoError(t, m.UpdateRequires(b, NewIDSet(a)))

	_, err := m.RecordDeployResult(deployReport(intentA, HandlerResultFailed, time.Now()))
	require.NoError(t, err)
	_, err = m.MarkTemporarilyBlocked(b)
	require.NoError(t, err)

	outcome, err := m.RecordDeployResult(deployReport(intentA, HandlerResultSuccessful, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(b), outcome.Released)
	assert.Equal(t, BlockedNotBlocked, blockedOf(t, m, b))
	assert.True(t, m.IsDirty(b))

	_, _, err = m.UpdateTransitiveState(nil, NewIDSet(a, b), NewIDSet(a, b))
	require.NoError(t, err)
	requireConverged(t, m)
}

func TestSuccessfulDeployTriggersReceivers(t *testing.T) {
	finished := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	earlier := finished.Add(-time.Hour)

	setup := func(t *testing.T, receive bool) (*ModelState, ResourceIntent, ResourceID) {
		m := NewModelState(1)
		sender := newIntent(t, rid("sender"), map[string]any{AttributeSendEvent: true})
		receiver := newIntent(t, rid("receiver"), map[string]any{AttributeReceiveEvents: receive})
		require.NoError(t, m.UpdateResource(sender, UpdateOptions{}))
		require.NoError(t, m.UpdateResource(receiver, UpdateOptions{KnownCompliant: true, LastDeployed: &earlier}))
		require.NoError(t, m.UpdateRequires(receiver.ID(), NewIDSet(sender.ID())))
		return m, sender, receiver.ID()
	}

	t.Run("changed", func(t *testing.T) {
		m, sender, receiver := setup(t, true)
		report := deployReport(sender, HandlerResultSuccessful, finished)
		report.Changed = true

		outcome, err := m.RecordDeployResult(report)
		require.NoError(t, err)
		assert.Equal(t, NewIDSet(receiver), outcome.Triggered)
		assert.Equal(t, ComplianceHasUpdate, complianceOf(t, m, receiver))
		assert.True(t, m.IsDirty(receiver))
	})

	t.Run("unchanged", func(t *testing.T) {
		m, sender, receiver := setup(t, true)

		outcome, err := m.RecordDeployResult(deployReport(sender, HandlerResultSuccessful, finished))
		require.NoError(t, err)
		assert.Empty(t, outcome.Triggered)
		assert.Equal(t, ComplianceCompliant, complianceOf(t, m, receiver))
	})

	t.Run("receiver opted out", func(t *testing.T) {
		m, sender, receiver := setup(t, false)
		report := deployReport(sender, HandlerResultSuccessful, finished)
		report.Changed = true

		outcome, err := m.RecordDeployResult(report)
		require.NoError(t, err)
		assert.Empty(t, outcome.Triggered)
		assert.False(t, m.IsDirty(receiver))
	})

	t.Run("receiver deployed after the event", func(t *testing.T) {
		m, sender, receiver := setup(t, true)
		report := deployReport(sender, HandlerResultSuccessful, earlier.Add(-time.Minute))
		report.Changed = true

		outcome, err := m.RecordDeployResult(report)
		require.NoError(t, err)
		assert.Empty(t, outcome.Triggered)
		assert.False(t, m.IsDirty(receiver))
	})
}

func TestSkippedDeployOfBlockedResourceKeepsHardBlock(t *testing.T) {
	m := NewModelState(1)
	u, a := rid("u"), rid("a")
	mustUpdate(t, m, u, UpdateOptions{Undefined: true})
	intentA := mustUpdate(t, m, a, UpdateOptions{})
	require.NoError(t, m.UpdateRequires(a, NewIDSet(u)))
	_, _, err := m.UpdateTransitiveState(NewIDSet(u), NewIDSet(a), NewIDSet(a))
	require.NoError(t, err)

	outcome, err := m.RecordDeployResult(deployReport(intentA, HandlerResultSkipped, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, HandlerStateSkippedForUndefined, outcome.HandlerState)
	assert.Equal(t, BlockedBlocked, blockedOf(t, m, a))
}
