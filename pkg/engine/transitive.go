package engine

// propagation is one entry of the blocked-propagation worklist.
type propagation struct {
	id   ResourceID
	from ResourceID
	hard bool
}

// transitivePass holds the working state of one UpdateTransitiveState call.
type transitivePass struct {
	m *ModelState

	// hardBlocked holds resources known to have an undefined resource upstream.
	hardBlocked IDSet

	// original records the blocked status of every resource the pass changed, before the change.
	original map[ResourceID]Blocked

	worklist []propagation
}

// UpdateTransitiveState restores transitive consistency of the blocked status after a batch of
// direct updates.
//
// newUndefined names resources that became undefined in the batch; the caller has already set
// them to BLOCKED. verifyBlocked and verifyUnblocked name every resource directly touched by the
// batch. The call returns the resources whose blocked status it changed, excluding newUndefined.
//
// Resources in verifyBlocked or verifyUnblocked that are no longer part of the model are ignored.
func (m *ModelState) UpdateTransitiveState(
	newUndefined, verifyBlocked, verifyUnblocked IDSet,
) (unblocked IDSet, blocked IDSet, err error) {
	pass := &transitivePass{
		m:           m,
		hardBlocked: make(IDSet),
		original:    make(map[ResourceID]Blocked),
	}

	for _, id := range newUndefined.Sorted() {
		state, ok := m.resourceState[id]
		if !ok {
			return nil, nil, NewNotFoundError(id).WithOperation("update_transitive_state")
		}
		if state.Blocked != BlockedBlocked {
			return nil, nil, NewValidationError("new undefined resource must already be blocked").
				WithResource(string(id)).
				WithOperation("update_transitive_state")
		}
		pass.hardBlocked.Add(id)
	}

	// Seed hard blocks and propagate them forward.
	for _, id := range newUndefined.Sorted() {
		pass.pushDependents(id, true)
	}
	pass.propagateBlocked()

	// Re-check the touched resources for a blocked requirement.
	for _, id := range verifyBlocked.Sorted() {
		state, ok := m.resourceState[id]
		if !ok || pass.hardBlocked.Has(id) {
			continue
		}
		if state.Blocked == BlockedBlocked {
			// A blocked resource may have gained dependents in this batch.
			pass.pushDependents(id, state.Compliance == ComplianceUndefined)
			if state.Compliance == ComplianceUndefined {
				pass.hardBlocked.Add(id)
			}
			pass.propagateBlocked()
			continue
		}
		blocker, found := m.findBlocker(id)
		if !found {
			continue
		}
		pass.worklist = append(pass.worklist, propagation{
			id:   id,
			from: blocker,
			hard: pass.hardBlocked.Has(blocker),
		})
		pass.propagateBlocked()
	}

	// Propagate unblocking forward from the touched resources.
	pass.propagateUnblocked(verifyUnblocked)

	unblocked = make(IDSet)
	blocked = make(IDSet)
	for id, before := range pass.original {
		if newUndefined.Has(id) {
			continue
		}
		state, ok := m.resourceState[id]
		if !ok {
			continue
		}
		switch {
		case before != BlockedBlocked && state.Blocked == BlockedBlocked:
			blocked.Add(id)
		case before == BlockedBlocked && state.Blocked != BlockedBlocked:
			unblocked.Add(id)
		}
	}
	return unblocked, blocked, nil
}

func (p *transitivePass) pushDependents(id ResourceID, hard bool) {
	for _, dep := range p.m.requires.Provides(id).Sorted() {
		p.worklist = append(p.worklist, propagation{id: dep, from: id, hard: hard})
	}
}

func (p *transitivePass) setBlocked(id ResourceID, state *ResourceState, value Blocked) {
	if _, seen := p.original[id]; !seen {
		p.original[id] = state.Blocked
	}
	state.Blocked = value
	p.m.refreshDirty(id)
}

// propagateBlocked drains the worklist, blocking every resource it reaches.
// Hard entries are propagated through resources that are already blocked so that the whole
// subtree is marked hard; soft entries stop at resources that are already blocked.
func (p *transitivePass) propagateBlocked() {
	for len(p.worklist) > 0 {
		item := p.worklist[len(p.worklist)-1]
		p.worklist = p.worklist[:len(p.worklist)-1]

		state, ok := p.m.resourceState[item.id]
		if !ok {
			continue
		}
		if item.hard {
			if p.hardBlocked.Has(item.id) {
				continue
			}
			p.hardBlocked.Add(item.id)
		}

		if state.Blocked == BlockedBlocked {
			if item.hard {
				p.pushDependents(item.id, true)
			}
			continue
		}

		p.setBlocked(item.id, state, BlockedBlocked)
		p.m.blockerCache[item.id] = item.from
		p.pushDependents(item.id, item.hard)
	}
}

// propagateUnblocked clears the block of every reachable resource whose requirements are no
// longer blocked.
func (p *transitivePass) propagateUnblocked(seeds IDSet) {
	queue := seeds.Sorted()
	expanded := make(IDSet)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		state, ok := p.m.resourceState[id]
		if !ok || p.hardBlocked.Has(id) || state.Compliance == ComplianceUndefined {
			continue
		}

		if state.Blocked != BlockedBlocked {
			// A touched resource that is not blocked may still have stale blocked dependents.
			if seeds.Has(id) && !expanded.Has(id) {
				expanded.Add(id)
				queue = append(queue, p.m.requires.Provides(id).Sorted()...)
			}
			continue
		}

		if _, found := p.m.findBlocker(id); found {
			continue
		}

		p.setBlocked(id, state, BlockedNotBlocked)
		queue = append(queue, p.m.requires.Provides(id).Sorted()...)
	}
}

// findBlocker returns a direct requirement of id that is currently blocked.
// The last blocker found for each resource is cached and re-validated on every lookup.
func (m *ModelState) findBlocker(id ResourceID) (ResourceID, bool) {
	requires := m.requires.Requires(id)

	if cached, ok := m.blockerCache[id]; ok {
		if requires.Has(cached) {
			if state, ok := m.resourceState[cached]; ok && state.Blocked == BlockedBlocked {
				return cached, true
			}
		}
		delete(m.blockerCache, id)
	}

	for req := range requires {
		state, ok := m.resourceState[req]
		if !ok {
			continue
		}
		if state.Blocked == BlockedBlocked {
			m.blockerCache[id] = req
			return req, true
		}
	}
	return "", false
}
