package engine

import "fmt"

// RequiresProvidesMapping is a many-to-many index of dependency edges.
// If A requires B, then B provides to A. Both views are kept in sync on every mutation.
type RequiresProvidesMapping struct {
	requires map[ResourceID]IDSet
	provides map[ResourceID]IDSet
}

// NewRequiresProvidesMapping creates an empty mapping.
func NewRequiresProvidesMapping() *RequiresProvidesMapping {
	return &RequiresProvidesMapping{
		requires: make(map[ResourceID]IDSet),
		provides: make(map[ResourceID]IDSet),
	}
}

// Set replaces the requirements of id and returns the requirements that were removed.
func (m *RequiresProvidesMapping) Set(id ResourceID, requires IDSet) IDSet {
	old := m.requires[id]
	removed := make(IDSet)
	for req := range old {
		if !requires.Has(req) {
			removed.Add(req)
			m.unlinkProvider(req, id)
		}
	}

	next := make(IDSet, len(requires))
	for req := range requires {
		next.Add(req)
		p, ok := m.provides[req]
		if !ok {
			p = make(IDSet)
			m.provides[req] = p
		}
		p.Add(id)
	}
	m.requires[id] = next
	return removed
}

// Delete removes every edge out of id.
// Dependents of id keep their requirement on it, and id keeps providing to them, until the caller
// replaces their requirements. A resource re-added under the same id is wired to them again.
func (m *RequiresProvidesMapping) Delete(id ResourceID) {
	for req := range m.requires[id] {
		m.unlinkProvider(req, id)
	}
	delete(m.requires, id)
}

// Requires returns the requirements of id. The returned set must not be modified.
func (m *RequiresProvidesMapping) Requires(id ResourceID) IDSet {
	return m.requires[id]
}

// Provides returns the dependents of id. The returned set must not be modified.
func (m *RequiresProvidesMapping) Provides(id ResourceID) IDSet {
	return m.provides[id]
}

// Has reports whether a requires entry exists for id.
func (m *RequiresProvidesMapping) Has(id ResourceID) bool {
	_, ok := m.requires[id]
	return ok
}

// Verify checks that the provides view is exactly the reverse of the requires view.
func (m *RequiresProvidesMapping) Verify() error {
	edges := 0
	for id, reqs := range m.requires {
		for req := range reqs {
			if !m.provides[req].Has(id) {
				return fmt.Errorf("%s requires %s but is missing from its provides", id, req)
			}
			edges++
		}
	}
	for id, deps := range m.provides {
		if len(deps) == 0 {
			return fmt.Errorf("empty provides entry for %s", id)
		}
		edges -= len(deps)
	}
	if edges != 0 {
		return fmt.Errorf("provides holds %d edges without a matching requirement", -edges)
	}
	return nil
}

// Reset drops all edges.
func (m *RequiresProvidesMapping) Reset() {
	m.requires = make(map[ResourceID]IDSet)
	m.provides = make(map[ResourceID]IDSet)
}

func (m *RequiresProvidesMapping) unlinkProvider(provider, dependent ResourceID) {
	p, ok := m.provides[provider]
	if !ok {
		return
	}
	p.Remove(dependent)
	if len(p) == 0 {
		delete(m.provides, provider)
	}
}
