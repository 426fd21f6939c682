package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// rid builds a resource id owned by agent1.
func rid(name string) ResourceID {
	return ResourceID(fmt.Sprintf("test::Resource[agent1,key=%s]", name))
}

func newIntent(t testing.TB, id ResourceID, attrs map[string]any) ResourceIntent {
	t.Helper()
	if attrs == nil {
		attrs = map[string]any{"key": string(id)}
	}
	hash, err := HashAttributes(attrs)
	require.NoError(t, err)
	intent, err := NewResourceIntent(id, hash, attrs)
	require.NoError(t, err)
	return intent
}

func mustUpdate(t testing.TB, m *ModelState, id ResourceID, opts UpdateOptions) ResourceIntent {
	t.Helper()
	intent := newIntent(t, id, nil)
	require.NoError(t, m.UpdateResource(intent, opts))
	return intent
}

func blockedOf(t testing.TB, m *ModelState, id ResourceID) Blocked {
	t.Helper()
	state, ok := m.State(id)
	require.True(t, ok, "resource %s missing", id)
	return state.Blocked
}

func complianceOf(t testing.TB, m *ModelState, id ResourceID) Compliance {
	t.Helper()
	state, ok := m.State(id)
	require.True(t, ok, "resource %s missing", id)
	return state.Compliance
}

// taintedResources computes, by brute force, the resources that must be blocked: undefined
// resources and everything that requires one of them at any depth.
func taintedResources(m *ModelState) IDSet {
	tainted := make(IDSet)
	for changed := true; changed; {
		changed = false
		for _, id := range m.ResourceIDs() {
			if tainted.Has(id) {
				continue
			}
			state, _ := m.State(id)
			hit := state.Compliance == ComplianceUndefined
			for req := range m.Requires(id) {
				if tainted.Has(req) {
					hit = true
					break
				}
			}
			if hit {
				tainted.Add(id)
				changed = true
			}
		}
	}
	return tainted
}

// requireConverged asserts every model-wide invariant of a converged model.
func requireConverged(t testing.TB, m *ModelState) {
	t.Helper()
	require.NoError(t, m.CheckConsistency())

	tainted := taintedResources(m)
	for _, id := range m.ResourceIDs() {
		state, _ := m.State(id)
		if tainted.Has(id) {
			require.Equal(t, BlockedBlocked, state.Blocked, "%s depends on an undefined resource", id)
		} else {
			require.NotEqual(t, BlockedBlocked, state.Blocked, "%s has no undefined ancestor", id)
		}
		if state.Blocked == BlockedNotBlocked {
			for req := range m.Requires(id) {
				if m.Has(req) {
					require.NotEqual(t, BlockedBlocked, blockedOf(t, m, req),
						"%s is not blocked but requires blocked %s", id, req)
				}
			}
		}
	}
}
