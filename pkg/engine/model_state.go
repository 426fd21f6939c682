package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultResourceSet is the name of the shared resource set.
const DefaultResourceSet = ""

// UpdateOptions controls how UpdateResource folds new intent into the model.
type UpdateOptions struct {
	// ForceNew treats the resource as brand new even if its id is already known.
	ForceNew bool

	// Undefined marks the intent as incomplete. Mutually exclusive with KnownCompliant.
	Undefined bool

	// KnownCompliant seeds the resource as successfully deployed with the given intent.
	KnownCompliant bool

	// LastDeployed is the time of the last deploy, if known.
	LastDeployed *time.Time

	// ResourceSet is the named partition the resource belongs to.
	ResourceSet string
}

// resourceHistory tracks the deploy bookkeeping that is persisted but not part of ResourceState.
type resourceHistory struct {
	deployedHash       *string
	lastSuccess        *time.Time
	lastProducedEvents *time.Time
}

// ModelState tracks intent and operational state for every resource of one model version.
//
// ModelState is not safe for concurrent use. A single owner applies a batch of UpdateResource,
// UpdateRequires and Drop calls and then exactly one UpdateTransitiveState call naming every
// resource it touched. Readers must only observe the state between batches.
type ModelState struct {
	// Version is the model version this state was built for.
	Version int

	intent           map[ResourceID]ResourceIntent
	resourceState    map[ResourceID]*ResourceState
	requires         *RequiresProvidesMapping
	resourceSets     map[string]IDSet
	resourceSetOf    map[ResourceID]string
	resourcesByAgent map[string]IDSet
	dirty            IDSet

	blockerCache map[ResourceID]ResourceID
	history      map[ResourceID]*resourceHistory
}

// NewModelState creates an empty model state for the given version.
func NewModelState(version int) *ModelState {
	m := &ModelState{}
	m.Reset(version)
	return m
}

// Reset discards every resource and starts over at the given version.
func (m *ModelState) Reset(version int) {
	m.Version = version
	m.intent = make(map[ResourceID]ResourceIntent)
	m.resourceState = make(map[ResourceID]*ResourceState)
	m.requires = NewRequiresProvidesMapping()
	m.resourceSets = make(map[string]IDSet)
	m.resourceSetOf = make(map[ResourceID]string)
	m.resourcesByAgent = make(map[string]IDSet)
	m.dirty = make(IDSet)
	m.blockerCache = make(map[ResourceID]ResourceID)
	m.history = make(map[ResourceID]*resourceHistory)
}

// UpdateResource registers new or changed intent for one resource.
//
// The blocked status it sets is provisional: the caller must follow up with UpdateTransitiveState
// once every direct update of the batch has been applied.
func (m *ModelState) UpdateResource(intent ResourceIntent, opts UpdateOptions) error {
	id := intent.ID()
	if id == "" {
		return NewValidationError("resource intent has no id")
	}
	if opts.Undefined && opts.KnownCompliant {
		return NewValidationError("a resource cannot be both undefined and known compliant").
			WithResource(string(id)).
			WithOperation("update_resource")
	}

	compliance := ComplianceHasUpdate
	switch {
	case opts.KnownCompliant:
		compliance = ComplianceCompliant
	case opts.Undefined:
		compliance = ComplianceUndefined
	}
	blocked := BlockedNotBlocked
	if opts.Undefined {
		blocked = BlockedBlocked
	}

	state, known := m.resourceState[id]
	if _, hasIntent := m.intent[id]; hasIntent != known {
		return NewInternalError("intent and resource state are out of sync").WithResource(string(id))
	}

	if !known || opts.ForceNew {
		if known {
			m.removeFromAgent(id)
		}
		state = &ResourceState{
			Compliance:     compliance,
			LastHandlerRun: HandlerResultNew,
			Blocked:        blocked,
		}
		if opts.KnownCompliant {
			state.LastHandlerRun = HandlerResultSuccessful
			state.LastHandlerRunCompliant = boolPtr(true)
		}
		m.resourceState[id] = state
		m.requires.Set(id, nil)
		m.history[id] = &resourceHistory{}
		delete(m.blockerCache, id)

		agent := intent.AgentName()
		bucket, ok := m.resourcesByAgent[agent]
		if !ok {
			bucket = make(IDSet)
			m.resourcesByAgent[agent] = bucket
		}
		bucket.Add(id)
	} else {
		state.Compliance = compliance
		if opts.KnownCompliant {
			state.LastHandlerRun = HandlerResultSuccessful
			state.LastHandlerRunCompliant = boolPtr(true)
		}
		if opts.Undefined {
			state.LastHandlerRunCompliant = nil
		}
		// New intent with the hash of the last deploy still needs a deploy.
		if compliance == ComplianceHasUpdate {
			if hist := m.historyFor(id); hist.deployedHash != nil && *hist.deployedHash == intent.AttributeHash() {
				hist.deployedHash = nil
			}
		}
		// Only the transitive algorithm may clear a hard block.
		if state.Blocked != BlockedBlocked {
			state.Blocked = blocked
		}
	}

	if opts.LastDeployed != nil {
		state.LastDeployed = timePtr(*opts.LastDeployed)
	}
	if opts.KnownCompliant {
		hash := intent.AttributeHash()
		hist := m.historyFor(id)
		hist.deployedHash = &hash
		if opts.LastDeployed != nil {
			hist.lastSuccess = timePtr(*opts.LastDeployed)
		} else {
			hist.lastSuccess = timePtr(time.Now().UTC())
		}
	}

	m.intent[id] = intent
	m.setResourceSet(id, opts.ResourceSet)
	m.refreshDirty(id)
	return nil
}

// UpdateRequires replaces the requirements of a resource.
//
// A temporarily blocked resource that loses a requirement is re-checked immediately and cleared
// when none of its remaining requirements failed.
func (m *ModelState) UpdateRequires(id ResourceID, requires IDSet) error {
	state, ok := m.resourceState[id]
	if !ok {
		return NewNotFoundError(id).WithOperation("update_requires")
	}
	if requires.Has(id) {
		return NewValidationError("a resource cannot require itself").WithResource(string(id))
	}

	removed := m.requires.Set(id, requires)
	if cached, ok := m.blockerCache[id]; ok && removed.Has(cached) {
		delete(m.blockerCache, id)
	}

	if state.Blocked == BlockedTemporarily && len(removed) > 0 {
		skip, err := m.ShouldSkipForDependencies(id)
		if err != nil {
			return err
		}
		if !skip {
			state.Blocked = BlockedNotBlocked
			m.refreshDirty(id)
		}
	}
	return nil
}

// Drop removes a resource entirely.
//
// Dependents keep their requirement on the dropped id until the caller replaces their requirements.
func (m *ModelState) Drop(id ResourceID) error {
	if _, ok := m.intent[id]; !ok {
		return NewNotFoundError(id).WithOperation("drop")
	}
	if _, ok := m.resourceState[id]; !ok {
		return NewInternalError("resource has intent but no state").WithResource(string(id))
	}

	m.removeFromAgent(id)
	delete(m.intent, id)
	delete(m.resourceState, id)
	m.requires.Delete(id)
	m.removeFromResourceSet(id)
	m.dirty.Remove(id)
	delete(m.blockerCache, id)
	delete(m.history, id)
	return nil
}

// DropResourceSet drops every member of a named resource set. It returns the dropped ids and the
// surviving dependents of those ids, which the caller must name in the following
// UpdateTransitiveState call.
func (m *ModelState) DropResourceSet(name string) (dropped IDSet, dependents IDSet, err error) {
	members := m.resourceSets[name].Clone()
	dependents = make(IDSet)
	for id := range members {
		for dep := range m.requires.Provides(id) {
			if !members.Has(dep) {
				dependents.Add(dep)
			}
		}
	}
	for _, id := range members.Sorted() {
		if err := m.Drop(id); err != nil {
			return nil, nil, err
		}
	}
	return members, dependents, nil
}

// ShouldSkipForDependencies reports whether a direct requirement of the resource has a known,
// unsuccessful last deploy.
func (m *ModelState) ShouldSkipForDependencies(id ResourceID) (bool, error) {
	if _, ok := m.resourceState[id]; !ok {
		return false, NewNotFoundError(id).WithOperation("should_skip_for_dependencies")
	}
	for req := range m.requires.Requires(id) {
		reqState, ok := m.resourceState[req]
		if !ok {
			continue
		}
		if reqState.LastHandlerRunCompliant != nil && !*reqState.LastHandlerRunCompliant {
			return true, nil
		}
	}
	return false, nil
}

// Has reports whether the resource is part of the model.
func (m *ModelState) Has(id ResourceID) bool {
	_, ok := m.intent[id]
	return ok
}

// Len returns the number of resources in the model.
func (m *ModelState) Len() int {
	return len(m.intent)
}

// Intent returns the intent of a resource.
func (m *ModelState) Intent(id ResourceID) (ResourceIntent, bool) {
	intent, ok := m.intent[id]
	return intent, ok
}

// State returns a copy of the operational state of a resource.
func (m *ModelState) State(id ResourceID) (ResourceState, bool) {
	state, ok := m.resourceState[id]
	if !ok {
		return ResourceState{}, false
	}
	return *state.clone(), true
}

// HandlerState derives the externally reported status of a resource.
func (m *ModelState) HandlerState(id ResourceID) (HandlerState, error) {
	state, ok := m.resourceState[id]
	if !ok {
		if _, known := m.intent[id]; known {
			return "", NewInternalError("resource has intent but no state").WithResource(string(id))
		}
		return "", NewNotFoundError(id)
	}
	hs, err := state.ToHandlerState()
	if err != nil {
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			return "", engineErr.WithResource(string(id))
		}
		return "", err
	}
	return hs, nil
}

// ResourceIDs returns every resource id in lexical order.
func (m *ModelState) ResourceIDs() []ResourceID {
	ids := make(IDSet, len(m.intent))
	for id := range m.intent {
		ids.Add(id)
	}
	return ids.Sorted()
}

// Requires returns a copy of the requirements of a resource.
func (m *ModelState) Requires(id ResourceID) IDSet {
	return m.requires.Requires(id).Clone()
}

// Provides returns a copy of the dependents of a resource.
func (m *ModelState) Provides(id ResourceID) IDSet {
	return m.requires.Provides(id).Clone()
}

// Dirty returns a copy of the set of deployable resources.
func (m *ModelState) Dirty() IDSet {
	return m.dirty.Clone()
}

// IsDirty reports whether the resource is currently deployable.
func (m *ModelState) IsDirty(id ResourceID) bool {
	return m.dirty.Has(id)
}

// Agents returns the names of every agent owning at least one resource.
func (m *ModelState) Agents() []string {
	agents := make([]string, 0, len(m.resourcesByAgent))
	for agent := range m.resourcesByAgent {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	return agents
}

// ResourcesForAgent returns a copy of the resources owned by an agent.
func (m *ModelState) ResourcesForAgent(agent string) IDSet {
	return m.resourcesByAgent[agent].Clone()
}

// ResourceSets returns the names of all non-empty resource sets.
func (m *ModelState) ResourceSets() []string {
	names := make([]string, 0, len(m.resourceSets))
	for name := range m.resourceSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourceSet returns a copy of the members of a resource set.
func (m *ModelState) ResourceSet(name string) IDSet {
	return m.resourceSets[name].Clone()
}

// ResourceSetOf returns the resource set a resource belongs to.
func (m *ModelState) ResourceSetOf(id ResourceID) string {
	return m.resourceSetOf[id]
}

// CheckConsistency verifies the model-wide invariants. It is used by tests and by the
// orchestrator after restoring from storage.
func (m *ModelState) CheckConsistency() error {
	if len(m.intent) != len(m.resourceState) {
		return NewInternalError(fmt.Sprintf("intent has %d resources, state has %d", len(m.intent), len(m.resourceState)))
	}

	inBuckets := 0
	for agent, bucket := range m.resourcesByAgent {
		if len(bucket) == 0 {
			return NewInternalError(fmt.Sprintf("empty agent bucket %q", agent))
		}
		for id := range bucket {
			intent, ok := m.intent[id]
			if !ok || intent.AgentName() != agent {
				return NewInternalError("agent bucket out of sync with intent").WithResource(string(id))
			}
			inBuckets++
		}
	}
	if inBuckets != len(m.intent) {
		return NewInternalError("resource missing from agent buckets")
	}

	for id := range m.intent {
		state, ok := m.resourceState[id]
		if !ok {
			return NewInternalError("resource has intent but no state").WithResource(string(id))
		}
		if err := state.Validate(); err != nil {
			return NewInternalError(err.Error()).WithResource(string(id))
		}
		want := state.Blocked == BlockedNotBlocked && state.Compliance.IsDirty()
		if want != m.dirty.Has(id) {
			return NewInternalError(fmt.Sprintf("dirty membership is %t, want %t", m.dirty.Has(id), want)).
				WithResource(string(id))
		}
	}
	for id := range m.dirty {
		if _, ok := m.intent[id]; !ok {
			return NewInternalError("dirty resource is not part of the model").WithResource(string(id))
		}
	}
	if err := m.requires.Verify(); err != nil {
		return NewInternalError(err.Error())
	}
	return nil
}

func (m *ModelState) refreshDirty(id ResourceID) {
	state, ok := m.resourceState[id]
	if ok && state.Blocked == BlockedNotBlocked && state.Compliance.IsDirty() {
		m.dirty.Add(id)
		return
	}
	m.dirty.Remove(id)
}

func (m *ModelState) setResourceSet(id ResourceID, name string) {
	if current, ok := m.resourceSetOf[id]; ok {
		if current == name {
			return
		}
		m.removeFromResourceSet(id)
	}
	set, ok := m.resourceSets[name]
	if !ok {
		set = make(IDSet)
		m.resourceSets[name] = set
	}
	set.Add(id)
	m.resourceSetOf[id] = name
}

func (m *ModelState) removeFromResourceSet(id ResourceID) {
	name, ok := m.resourceSetOf[id]
	if !ok {
		return
	}
	delete(m.resourceSets[name], id)
	if len(m.resourceSets[name]) == 0 {
		delete(m.resourceSets, name)
	}
	delete(m.resourceSetOf, id)
}

func (m *ModelState) removeFromAgent(id ResourceID) {
	intent, ok := m.intent[id]
	if !ok {
		return
	}
	agent := intent.AgentName()
	bucket, ok := m.resourcesByAgent[agent]
	if !ok {
		return
	}
	bucket.Remove(id)
	if len(bucket) == 0 {
		delete(m.resourcesByAgent, agent)
	}
}
