package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitiveChain(t *testing.T) {
	m := NewModelState(1)
	ids := []ResourceID{rid("a"), rid("b"), rid("c"), rid("d")}

	mustUpdate(t, m, ids[0], UpdateOptions{Undefined: true})
	for i := 1; i < len(ids); i++ {
		mustUpdate(t, m, ids[i], UpdateOptions{})
		require.NoError(t, m.UpdateRequires(ids[i], NewIDSet(ids[i-1])))
	}
	touched := NewIDSet(ids...)

	_, blocked, err := m.UpdateTransitiveState(NewIDSet(ids[0]), touched, touched)
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(ids[1:]...), blocked)
	requireConverged(t, m)

	// Cutting the chain in the middle releases the tail only.
	require.NoError(t, m.UpdateRequires(ids[2], NewIDSet()))
	unblocked, blocked, err := m.UpdateTransitiveState(nil, NewIDSet(ids[2]), NewIDSet(ids[2]))
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(ids[2], ids[3]), unblocked)
	assert.Empty(t, blocked)
	assert.Equal(t, BlockedBlocked, blockedOf(t, m, ids[1]))
	requireConverged(t, m)

	// Reconnecting blocks the tail again.
	require.NoError(t, m.UpdateRequires(ids[2], NewIDSet(ids[1])))
	unblocked, blocked, err = m.UpdateTransitiveState(nil, NewIDSet(ids[2]), NewIDSet(ids[2]))
	require.NoError(t, err)
	assert.Empty(t, unblocked)
	assert.Equal(t, NewIDSet(ids[2], ids[3]), blocked)
	requireConverged(t, m)
}

func TestTransitiveDiamond(t *testing.T) {
	m := NewModelState(1)
	u1, u2, left, right, sink := rid("u1"), rid("u2"), rid("left"), rid("right"), rid("sink")

	mustUpdate(t, m, u1, UpdateOptions{Undefined: true})
	mustUpdate(t, m, u2, UpdateOptions{Undefined: true})
	mustUpdate(t, m, left, UpdateOptions{})
	mustUpdate(t, m, right, UpdateOptions{})
	mustUpdate(t, m, sink, UpdateOptions{})
	require.NoError(t, m.UpdateRequires(left, NewIDSet(u1)))
	require.NoError(t, m.UpdateRequires(right, NewIDSet(u2)))
	require.NoError(t, m.UpdateRequires(sink, NewIDSet(left, right)))
	all := NewIDSet(u1, u2, left, right, sink)

	_, blocked, err := m.UpdateTransitiveState(NewIDSet(u1, u2), all, all)
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(left, right, sink), blocked)
	requireConverged(t, m)

	// Defining one root releases its branch but the sink is still held by the other one.
	require.NoError(t, m.UpdateResource(newIntent(t, u1, map[string]any{"v": 1}), UpdateOptions{}))
	unblocked, blocked, err := m.UpdateTransitiveState(nil, NewIDSet(u1), NewIDSet(u1))
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(u1, left), unblocked)
	assert.Empty(t, blocked)
	assert.Equal(t, BlockedBlocked, blockedOf(t, m, sink))
	requireConverged(t, m)

	require.NoError(t, m.UpdateResource(newIntent(t, u2, map[string]any{"v": 1}), UpdateOptions{}))
	unblocked, _, err = m.UpdateTransitiveState(nil, NewIDSet(u2), NewIDSet(u2))
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(u2, right, sink), unblocked)
	assert.Equal(t, NewIDSet(u1, u2, left, right, sink), m.Dirty())
	requireConverged(t, m)
}

func TestTransitiveStaleBlockerCache(t *testing.T) {
	m := NewModelState(1)
	u1, u2, x := rid("u1"), rid("u2"), rid("x")

	mustUpdate(t, m, u1, UpdateOptions{Undefined: true})
	mustUpdate(t, m, u2, UpdateOptions{Undefined: true})
	mustUpdate(t, m, x, UpdateOptions{})
	require.NoError(t, m.UpdateRequires(x, NewIDSet(u1, u2)))
	all := NewIDSet(u1, u2, x)
	_, _, err := m.UpdateTransitiveState(NewIDSet(u1, u2), all, all)
	require.NoError(t, err)

	// Whichever root the cache remembers, dropping it must not release x while the other remains.
	cached := m.blockerCache[x]
	require.True(t, cached == u1 || cached == u2)
	remaining := u1
	if cached == u1 {
		remaining = u2
	}
	require.NoError(t, m.UpdateRequires(x, NewIDSet(remaining)))
	require.NoError(t, m.Drop(cached))
	unblocked, blocked, err := m.UpdateTransitiveState(nil, NewIDSet(cached, x), NewIDSet(cached, x))
	require.NoError(t, err)
	assert.Empty(t, unblocked)
	assert.Empty(t, blocked)
	assert.Equal(t, BlockedBlocked, blockedOf(t, m, x))
	assert.Equal(t, remaining, m.blockerCache[x])
	requireConverged(t, m)
}

func TestTransitiveNewDependentOfBlockedResource(t *testing.T) {
	m := NewModelState(1)
	u, a := rid("u"), rid("a")

	mustUpdate(t, m, u, UpdateOptions{Undefined: true})
	_, _, err := m.UpdateTransitiveState(NewIDSet(u), NewIDSet(u), NewIDSet(u))
	require.NoError(t, err)

	// u is not new undefined in this batch, but its new dependent must still be blocked.
	mustUpdate(t, m, a, UpdateOptions{})
	require.NoError(t, m.UpdateRequires(a, NewIDSet(u)))
	_, blocked, err := m.UpdateTransitiveState(nil, NewIDSet(a), NewIDSet(a))
	require.NoError(t, err)
	assert.Equal(t, NewIDSet(a), blocked)
	requireConverged(t, m)
}

func TestTransitiveReachesDependentsOfReaddedResource(t *testing.T) {
	tests := []struct {
		name   string
		rewire bool
	}{
		{name: "dangling requirement", rewire: false},
		{name: "requirement set again", rewire: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModelState(1)
			b, c := rid("b"), rid("c")

			intentB := mustUpdate(t, m, b, UpdateOptions{})
			mustUpdate(t, m, c, UpdateOptions{})
			require.NoError(t, m.UpdateRequires(c, NewIDSet(b)))
			_, _, err := m.UpdateTransitiveState(nil, NewIDSet(b, c), NewIDSet(b, c))
			require.NoError(t, err)

			require.NoError(t, m.Drop(b))
			_, _, err = m.UpdateTransitiveState(nil, NewIDSet(b, c), NewIDSet(b, c))
			require.NoError(t, err)
			assert.Equal(t, NewIDSet(b), m.Requires(c))
			assert.Equal(t, NewIDSet(c), m.Provides(b), "c still requires the dropped b")
			requireConverged(t, m)

			require.NoError(t, m.UpdateResource(intentB, UpdateOptions{ForceNew: true}))
			if tt.rewire {
				require.NoError(t, m.UpdateRequires(c, NewIDSet(b)))
			}
			assert.Equal(t, NewIDSet(c), m.Provides(b))

			require.NoError(t, m.UpdateResource(intentB, UpdateOptions{Undefined: true}))
			_, blocked, err := m.UpdateTransitiveState(NewIDSet(b), NewIDSet(b), NewIDSet(b))
			require.NoError(t, err)
			assert.Equal(t, NewIDSet(c), blocked)
			assert.Equal(t, BlockedBlocked, blockedOf(t, m, c))
			requireConverged(t, m)
		})
	}
}

func TestRequiresProvidesVerify(t *testing.T) {
	a, b := rid("a"), rid("b")
	rp := NewRequiresProvidesMapping()
	rp.Set(b, NewIDSet(a))
	require.NoError(t, rp.Verify())

	rp.Provides(a).Remove(b)
	assert.Error(t, rp.Verify())

	rp.Set(b, NewIDSet(a))
	require.NoError(t, rp.Verify(), "setting the same requirements repairs the reverse view")

	rp.provides[b] = NewIDSet(a)
	assert.Error(t, rp.Verify())
}

func TestTransitiveIgnoresDroppedResources(t *testing.T) {
	m := NewModelState(1)
	a := rid("a")
	mustUpdate(t, m, a, UpdateOptions{})
	require.NoError(t, m.Drop(a))

	unblocked, blocked, err := m.UpdateTransitiveState(nil, NewIDSet(a), NewIDSet(a))
	require.NoError(t, err)
	assert.Empty(t, unblocked)
	assert.Empty(t, blocked)
}

// TestTransitiveRandomBatches applies random batches to a small model and checks after every
// batch that the blocked status converged, that the pass is idempotent and that a snapshot
// restores to the same state.
func TestTransitiveRandomBatches(t *testing.T) {
	const (
		nodes   = 8
		batches = 300
	)
	rng := rand.New(rand.NewSource(42))
	ids := make([]ResourceID, nodes)
	for i := range ids {
		ids[i] = rid(fmt.Sprintf("n%d", i))
	}

	m := NewModelState(1)
	for batch := 0; batch < batches; batch++ {
		newUndefined := make(IDSet)
		touched := make(IDSet)

		ops := 1 + rng.Intn(4)
		for op := 0; op < ops; op++ {
			i := rng.Intn(nodes)
			id := ids[i]

			switch rng.Intn(4) {
			case 0:
				undefined := rng.Intn(4) == 0
				intent := newIntent(t, id, map[string]any{"key": string(id), "rev": rng.Intn(3)})
				require.NoError(t, m.UpdateResource(intent, UpdateOptions{Undefined: undefined}))
				if undefined {
					newUndefined.Add(id)
				} else {
					newUndefined.Remove(id)
				}
				touched.Add(id)

			case 1:
				if !m.Has(id) {
					continue
				}
				requires := make(IDSet)
				// Requirements only point to lower indices so the graph stays acyclic.
				for j := 0; j < i; j++ {
					if m.Has(ids[j]) && rng.Intn(3) == 0 {
						requires.Add(ids[j])
					}
				}
				require.NoError(t, m.UpdateRequires(id, requires))
				touched.Add(id)

			case 2:
				if !m.Has(id) {
					continue
				}
				// Dependents are sometimes left with a dangling requirement, which a later
				// batch may satisfy by adding the resource again.
				rewire := rng.Intn(2) == 0
				for dep := range m.Provides(id) {
					if rewire {
						requires := m.Requires(dep)
						requires.Remove(id)
						require.NoError(t, m.UpdateRequires(dep, requires))
					}
					touched.Add(dep)
				}
				require.NoError(t, m.Drop(id))
				newUndefined.Remove(id)
				touched.Add(id)

			case 3:
				if !m.IsDirty(id) {
					continue
				}
				intent, _ := m.Intent(id)
				result := HandlerResultSuccessful
				if rng.Intn(3) == 0 {
					result = HandlerResultFailed
				}
				outcome, err := m.RecordDeployResult(DeployReport{
					ResourceID:    id,
					AttributeHash: intent.AttributeHash(),
					Result:        result,
				})
				require.NoError(t, err)
				touched.Add(id)
				for dep := range outcome.Released {
					touched.Add(dep)
				}
				for dep := range outcome.Triggered {
					touched.Add(dep)
				}
			}
		}

		_, _, err := m.UpdateTransitiveState(newUndefined, touched, touched)
		require.NoError(t, err, "batch %d", batch)
		requireConverged(t, m)

		unblocked, blocked, err := m.UpdateTransitiveState(newUndefined, touched, touched)
		require.NoError(t, err)
		require.Empty(t, unblocked, "batch %d: second pass unblocked resources", batch)
		require.Empty(t, blocked, "batch %d: second pass blocked resources", batch)

		records, err := m.Snapshot()
		require.NoError(t, err)
		restored, err := restoreFromRecords(m.Version, records)
		require.NoError(t, err)
		require.Equal(t, m.Dirty(), restored.Dirty(), "batch %d", batch)
		require.Equal(t, m.ResourceIDs(), restored.ResourceIDs())
		for _, id := range m.ResourceIDs() {
			require.Equal(t, blockedOf(t, m, id), blockedOf(t, restored, id), "batch %d: %s", batch, id)
			require.Equal(t, complianceOf(t, m, id), complianceOf(t, restored, id), "batch %d: %s", batch, id)
		}
	}
}
