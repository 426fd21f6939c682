package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/orchestrator/pkg/stores"
	"github.com/openfroyo/orchestrator/pkg/telemetry"
)

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	// Store persists converged state after every batch. Optional.
	Store ModelStore

	// Telemetry receives logs, spans, metrics and events. Defaults to a no-op instance.
	Telemetry *telemetry.Telemetry
}

// Orchestrator is the single writer of the model state of one environment. Every batch runs
// under its mutex and ends with exactly one transitive update, so readers always observe a
// converged model.
type Orchestrator struct {
	environment string
	store       ModelStore
	tel         *telemetry.Telemetry
	logger      *telemetry.Logger
	validate    *validator.Validate

	mu        sync.Mutex
	model     *ModelState
	agents    map[string]AgentStatus
	deploying IDSet
	batches   int

	// unsaved is set while the in-memory model is ahead of the store.
	unsaved error
}

// NewOrchestrator creates an orchestrator with an empty model for an environment.
func NewOrchestrator(environment string, opts OrchestratorOptions) (*Orchestrator, error) {
	if environment == "" {
		return nil, NewValidationError("environment name is required")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Orchestrator{
		environment: environment,
		store:       opts.Store,
		tel:         tel,
		logger:      tel.Logger.NewComponentLogger("orchestrator").WithEnvironment(environment),
		validate:    validator.New(),
		model:       NewModelState(0),
		agents:      make(map[string]AgentStatus),
		deploying:   make(IDSet),
	}, nil
}

// Environment returns the environment the orchestrator owns.
func (o *Orchestrator) Environment() string {
	return o.environment
}

// Version returns the model version currently loaded.
func (o *Orchestrator) Version() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model.Version
}

// Intent returns the current intent of a resource.
func (o *Orchestrator) Intent(id ResourceID) (ResourceIntent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model.Intent(id)
}

// Restore loads the last processed model version from the store. It must run before the first
// batch. Without a store, or when nothing was ever processed, the model stays empty.
func (o *Orchestrator) Restore(ctx context.Context) (result *BatchResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.batches > 0 {
		return nil, NewConflictError("restore must happen before the first batch", nil).
			WithOperation("restore")
	}

	batchID := uuid.New().String()
	ic := o.tel.StartBatch(ctx, batchID, o.environment, string(BatchKindRestore), 0)
	defer func() { ic.End(err) }()

	if o.store == nil {
		o.tel.Metrics.RecordRestore(o.environment, "empty")
		return &BatchResult{ID: batchID, Kind: BatchKindRestore, Environment: o.environment}, nil
	}

	restored, err := RestoreModelState(ic.Ctx, o.store, o.environment)
	if err != nil {
		o.tel.Metrics.RecordRestore(o.environment, "failed")
		o.recordError(err)
		ic.Logger.WithError(err).Error("restore failed")
		return nil, err
	}
	if restored == nil {
		o.tel.Metrics.RecordRestore(o.environment, "empty")
		ic.Logger.Info("nothing to restore")
		return &BatchResult{ID: batchID, Kind: BatchKindRestore, Environment: o.environment}, nil
	}

	o.model = restored
	o.batches++
	o.tel.Metrics.RecordRestore(o.environment, "restored")
	o.updateGauges()
	_ = o.tel.Events.PublishModelRestored(o.environment, restored.Version, restored.Len())

	result = &BatchResult{
		ID:          batchID,
		Kind:        BatchKindRestore,
		Environment: o.environment,
		Version:     restored.Version,
		Dirty:       len(restored.Dirty()),
		Duration:    ic.Timer.Duration(),
	}
	ic.Logger.Zerolog().Info().
		Int("version", restored.Version).
		Int("resources", restored.Len()).
		Int("dirty", result.Dirty).
		Msg("model state restored")
	return result, nil
}

// ApplyModel applies a new model version: changed intent, changed requirements and removed
// resources, followed by one transitive update over every touched resource.
func (o *Orchestrator) ApplyModel(ctx context.Context, def ModelDefinition) (result *BatchResult, err error) {
	if err := o.validate.Struct(def); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid model definition: %v", err)).
			WithOperation("apply_model")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	batchID := uuid.New().String()
	ic := o.tel.StartBatch(ctx, batchID, o.environment, string(BatchKindApplyModel), def.Version)
	defer func() {
		ic.End(err)
		o.finishBatch(batchID, BatchKindApplyModel, ic, err)
	}()

	if def.Version <= o.model.Version {
		return nil, NewConflictError(
			fmt.Sprintf("model version %d is not newer than version %d", def.Version, o.model.Version), nil).
			WithOperation("apply_model").
			WithDetail("version", def.Version).
			WithDetail("current_version", o.model.Version)
	}

	plan, err := o.planModel(def)
	if err != nil {
		return nil, err
	}

	result = &BatchResult{
		ID:          batchID,
		Kind:        BatchKindApplyModel,
		Environment: o.environment,
		Version:     def.Version,
	}
	newUndefined := make(IDSet)
	touched := make(IDSet)

	for _, rd := range plan.upserts {
		id := rd.def.ID
		if !rd.changed {
			continue
		}
		if err := o.model.UpdateResource(rd.intent, UpdateOptions{
			Undefined:   rd.def.Undefined,
			ResourceSet: rd.def.ResourceSet,
		}); err != nil {
			return nil, err
		}
		touched.Add(id)
		if rd.def.Undefined {
			newUndefined.Add(id)
		}
		if rd.existed {
			result.Updated = append(result.Updated, id)
		} else {
			result.Added = append(result.Added, id)
		}
	}

	for _, rd := range plan.upserts {
		if !rd.requiresChanged {
			continue
		}
		if err := o.model.UpdateRequires(rd.def.ID, NewIDSet(rd.def.Requires...)); err != nil {
			return nil, err
		}
		touched.Add(rd.def.ID)
	}

	for _, id := range plan.drops.Sorted() {
		for dep := range o.model.Provides(id) {
			if !plan.drops.Has(dep) {
				touched.Add(dep)
			}
		}
		if err := o.model.Drop(id); err != nil {
			return nil, err
		}
		o.deploying.Remove(id)
		result.Dropped = append(result.Dropped, id)
	}

	unblocked, blocked, err := o.model.UpdateTransitiveState(newUndefined, touched, touched)
	if err != nil {
		ic.Logger.WithError(err).Error("transitive update failed")
		return nil, err
	}
	o.model.Version = def.Version

	result.Unblocked = unblocked.Sorted()
	result.Blocked = blocked.Sorted()
	result.Dirty = len(o.model.Dirty())
	result.Persisted = o.persistBatch(ic)

	o.logActions(ic.Ctx, result)
	o.publishTransitions(batchID, result)
	result.Duration = ic.Timer.Duration()
	return result, nil
}

// ReportDeploy folds the outcome of one deploy into the model.
func (o *Orchestrator) ReportDeploy(ctx context.Context, report DeployReport) (result *BatchResult, err error) {
	if err := o.validate.Struct(report); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid deploy report: %v", err)).
			WithResource(string(report.ResourceID)).
			WithOperation("report_deploy")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	batchID := uuid.New().String()
	ic := o.tel.StartBatch(ctx, batchID, o.environment, string(BatchKindDeployReport), o.model.Version)
	defer func() {
		ic.End(err)
		o.finishBatch(batchID, BatchKindDeployReport, ic, err)
	}()

	outcome, err := o.model.RecordDeployResult(report)
	if err != nil {
		return nil, err
	}
	o.deploying.Remove(report.ResourceID)
	o.tel.Metrics.RecordDeployResult(o.environment, string(report.Result))

	touched := NewIDSet(report.ResourceID)
	for id := range outcome.Released {
		touched.Add(id)
	}
	for id := range outcome.Triggered {
		touched.Add(id)
	}
	unblocked, blocked, err := o.model.UpdateTransitiveState(nil, touched, touched)
	if err != nil {
		return nil, err
	}

	result = &BatchResult{
		ID:          batchID,
		Kind:        BatchKindDeployReport,
		Environment: o.environment,
		Version:     o.model.Version,
		Updated:     []ResourceID{report.ResourceID},
		Unblocked:   unblocked.Sorted(),
		Blocked:     blocked.Sorted(),
		Dirty:       len(o.model.Dirty()),
	}
	result.Persisted = o.persistBatch(ic)

	o.appendAction(ic.Ctx, &stores.ResourceAction{
		ResourceID: string(report.ResourceID),
		Action:     stores.ActionDeploy,
		Level:      deployLevel(report.Result),
		Message:    fmt.Sprintf("deploy %s, handler state %s", report.Result, outcome.HandlerState),
	})
	for _, id := range outcome.Triggered.Sorted() {
		o.appendAction(ic.Ctx, &stores.ResourceAction{
			ResourceID: string(id),
			Action:     stores.ActionTriggered,
			Level:      stores.EventLevelInfo,
			Message:    fmt.Sprintf("event from %s", report.ResourceID),
		})
	}
	o.logActions(ic.Ctx, result)
	o.publishTransitions(batchID, result)
	_ = o.tel.Events.PublishDeployReported(o.environment, batchID, string(report.ResourceID),
		string(report.Result), string(outcome.HandlerState))

	if outcome.Stale {
		ic.Logger.WithResourceID(string(report.ResourceID)).Warn("deploy report for an outdated intent")
	}
	result.Duration = ic.Timer.Duration()
	return result, nil
}

// SetAgentStatus changes the lifecycle status of an agent.
func (o *Orchestrator) SetAgentStatus(agent string, status AgentStatus) error {
	if err := status.Validate(); err != nil {
		return NewValidationError(err.Error()).WithOperation("set_agent_status")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[agent] = status
	return nil
}

// AgentStatus returns the status of an agent. Agents are started until told otherwise.
func (o *Orchestrator) AgentStatus(agent string) AgentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agentStatus(agent)
}

func (o *Orchestrator) agentStatus(agent string) AgentStatus {
	if status, ok := o.agents[agent]; ok {
		return status
	}
	return AgentStatusStarted
}

// ReadyAgents lists the started agents that own at least one deployable resource.
func (o *Orchestrator) ReadyAgents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ready := make([]string, 0)
	for _, agent := range o.model.Agents() {
		if o.agentStatus(agent) != AgentStatusStarted {
			continue
		}
		for id := range o.model.ResourcesForAgent(agent) {
			if o.model.IsDirty(id) && !o.deploying.Has(id) {
				ready = append(ready, agent)
				break
			}
		}
	}
	sort.Strings(ready)
	return ready
}

// MarkDeploying records an in-flight deploy of a dirty resource.
func (o *Orchestrator) MarkDeploying(id ResourceID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.model.Has(id) {
		return NewNotFoundError(id).WithOperation("mark_deploying")
	}
	if !o.model.IsDirty(id) {
		return NewValidationError("only a deployable resource can start deploying").
			WithResource(string(id)).
			WithOperation("mark_deploying")
	}
	o.deploying.Add(id)
	return nil
}

// ClaimDeployable hands out the deployable resources of a started agent and marks them deploying.
//
// A resource is held back while one of its requirements is still deployable or deploying. A
// resource with a failed requirement is temporarily blocked instead of being handed out.
func (o *Orchestrator) ClaimDeployable(agent string) ([]ResourceIntent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.agentStatus(agent) != AgentStatusStarted {
		return nil, nil
	}

	claimed := make([]ResourceIntent, 0)
	for _, id := range o.model.ResourcesForAgent(agent).Sorted() {
		if !o.model.IsDirty(id) || o.deploying.Has(id) {
			continue
		}
		skip, err := o.model.ShouldSkipForDependencies(id)
		if err != nil {
			return nil, err
		}
		if skip {
			changed, err := o.model.MarkTemporarilyBlocked(id)
			if err != nil {
				return nil, err
			}
			if changed {
				o.logger.WithResourceID(string(id)).Debug("requirement failed, holding back")
			}
			continue
		}
		if o.waitsForRequirement(id) {
			continue
		}
		intent, _ := o.model.Intent(id)
		o.deploying.Add(id)
		claimed = append(claimed, intent)
	}
	o.tel.Metrics.SetDirtyResources(o.environment, len(o.model.Dirty()))
	return claimed, nil
}

func (o *Orchestrator) waitsForRequirement(id ResourceID) bool {
	for req := range o.model.Requires(id) {
		if o.model.IsDirty(req) || o.deploying.Has(req) {
			return true
		}
	}
	return false
}

// Status returns a consistent view of the environment.
func (o *Orchestrator) Status() (*StatusReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &StatusReport{
		Environment: o.environment,
		Version:     o.model.Version,
		Resources:   make([]ResourceStatus, 0, o.model.Len()),
		Dirty:       o.model.Dirty().Sorted(),
		Agents:      make([]AgentReport, 0),
		Counts:      make(map[HandlerState]int),
		GeneratedAt: time.Now().UTC(),
	}

	for _, id := range o.model.ResourceIDs() {
		hs, err := o.handlerState(id)
		if err != nil {
			return nil, err
		}
		intent, _ := o.model.Intent(id)
		state, _ := o.model.State(id)
		report.Resources = append(report.Resources, ResourceStatus{
			ID:           id,
			Agent:        intent.AgentName(),
			ResourceSet:  o.model.ResourceSetOf(id),
			HandlerState: hs,
			Compliance:   state.Compliance,
			Blocked:      state.Blocked,
			Dirty:        o.model.IsDirty(id),
			Requires:     o.model.Requires(id).Sorted(),
			LastDeployed: state.LastDeployed,
		})
		report.Counts[hs]++
	}

	for _, agent := range o.model.Agents() {
		ar := AgentReport{Name: agent, Status: o.agentStatus(agent)}
		for id := range o.model.ResourcesForAgent(agent) {
			ar.Resources++
			if o.model.IsDirty(id) {
				ar.Dirty++
			}
		}
		report.Agents = append(report.Agents, ar)
	}
	return report, nil
}

// handlerState overlays in-flight deploys on the derived handler state.
func (o *Orchestrator) handlerState(id ResourceID) (HandlerState, error) {
	if o.deploying.Has(id) {
		return HandlerStateDeploying, nil
	}
	return o.model.HandlerState(id)
}

// Graph returns the deploy order of the current model. Requirements on resources that are no
// longer part of the model are left out.
func (o *Orchestrator) Graph() (*DependencyGraph, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.graph()
}

func (o *Orchestrator) graph() (*DependencyGraph, error) {
	requires := make(map[ResourceID][]ResourceID, o.model.Len())
	for _, id := range o.model.ResourceIDs() {
		reqs := make([]ResourceID, 0)
		for _, req := range o.model.Requires(id).Sorted() {
			if o.model.Has(req) {
				reqs = append(reqs, req)
			}
		}
		requires[id] = reqs
	}
	return BuildDependencyGraph(requires)
}

// DOT renders the current model as a Graphviz graph colored by handler state.
func (o *Orchestrator) DOT() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	g, err := o.graph()
	if err != nil {
		return "", err
	}
	return g.ToDOT(func(id ResourceID) HandlerState {
		hs, err := o.handlerState(id)
		if err != nil {
			return ""
		}
		return hs
	}), nil
}

// Check verifies the internal consistency of the model.
func (o *Orchestrator) Check() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model.CheckConsistency()
}

// plannedResource is one resource definition of a model version with its computed intent.
type plannedResource struct {
	def             ResourceDefinition
	intent          ResourceIntent
	existed         bool
	changed         bool
	requiresChanged bool
}

type modelPlan struct {
	upserts []plannedResource
	drops   IDSet
}

// planModel diffs a model definition against the current model without changing it.
func (o *Orchestrator) planModel(def ModelDefinition) (*modelPlan, error) {
	plan := &modelPlan{drops: make(IDSet)}
	incoming := make(IDSet, len(def.Resources))

	for _, rd := range def.Resources {
		if _, err := ParseResourceID(rd.ID); err != nil {
			return nil, err
		}
		if incoming.Has(rd.ID) {
			return nil, NewValidationError("duplicate resource in model definition").
				WithResource(string(rd.ID)).
				WithOperation("apply_model")
		}
		incoming.Add(rd.ID)

		hash, err := HashAttributes(rd.Attributes)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("attributes cannot be hashed: %v", err)).
				WithResource(string(rd.ID))
		}
		intent, err := NewResourceIntent(rd.ID, hash, rd.Attributes)
		if err != nil {
			return nil, err
		}

		pr := plannedResource{def: rd, intent: intent, changed: true, requiresChanged: true}
		if current, ok := o.model.Intent(rd.ID); ok {
			state, _ := o.model.State(rd.ID)
			pr.existed = true
			pr.changed = current.AttributeHash() != hash ||
				(state.Compliance == ComplianceUndefined) != rd.Undefined ||
				o.model.ResourceSetOf(rd.ID) != rd.ResourceSet
			pr.requiresChanged = !sameIDs(o.model.Requires(rd.ID), NewIDSet(rd.Requires...))
		}
		plan.upserts = append(plan.upserts, pr)
	}
	sort.Slice(plan.upserts, func(i, j int) bool { return plan.upserts[i].def.ID < plan.upserts[j].def.ID })

	if def.Partial {
		scope := make(map[string]bool)
		for _, rd := range def.Resources {
			if rd.ResourceSet != DefaultResourceSet {
				scope[rd.ResourceSet] = true
			}
		}
		for _, name := range def.RemovedResourceSets {
			scope[name] = true
		}
		for name := range scope {
			for id := range o.model.ResourceSet(name) {
				if !incoming.Has(id) {
					plan.drops.Add(id)
				}
			}
		}
	} else {
		if len(def.RemovedResourceSets) > 0 {
			return nil, NewValidationError("removed resource sets require a partial model").
				WithOperation("apply_model")
		}
		for _, id := range o.model.ResourceIDs() {
			if !incoming.Has(id) {
				plan.drops.Add(id)
			}
		}
	}

	// The resulting model must form a valid dependency graph.
	requires := make(map[ResourceID][]ResourceID)
	for _, id := range o.model.ResourceIDs() {
		if plan.drops.Has(id) || incoming.Has(id) {
			continue
		}
		requires[id] = o.model.Requires(id).Sorted()
	}
	for _, pr := range plan.upserts {
		requires[pr.def.ID] = pr.def.Requires
	}
	if _, err := BuildDependencyGraph(requires); err != nil {
		return nil, err
	}

	return plan, nil
}

// persist saves the converged model when a store is attached.
// persistBatch writes the model after a batch was applied in memory. The batch stays applied when
// the write fails; the failure is kept until a later write succeeds.
func (o *Orchestrator) persistBatch(ic *telemetry.InstrumentedContext) bool {
	if err := o.persist(ic.Ctx); err != nil {
		o.unsaved = err
		ic.Logger.WithError(err).Error("batch applied but not persisted")
		return false
	}
	o.unsaved = nil
	return true
}

// Sync writes the in-memory model to the store if an earlier batch failed to persist it.
func (o *Orchestrator) Sync(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unsaved == nil {
		return nil
	}
	if err := o.persist(ctx); err != nil {
		o.unsaved = err
		return err
	}
	o.logger.WithField("version", o.model.Version).Info("model state persisted")
	o.unsaved = nil
	return nil
}

// Unsaved returns the last persistence error while the in-memory model is ahead of the store.
func (o *Orchestrator) Unsaved() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unsaved
}

func (o *Orchestrator) persist(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	records, err := o.model.Snapshot()
	if err != nil {
		return err
	}
	if err := o.store.SaveModelState(ctx, o.environment, o.model.Version, records); err != nil {
		if errors.Is(err, stores.ErrStaleVersion) {
			return NewConflictError("a newer model version was already persisted", err).
				WithOperation("persist")
		}
		return NewTransientError("failed to persist model state", err).
			WithCode(ErrCodeStorage).
			WithOperation("persist")
	}
	return nil
}

// logActions records blocked status changes and drops in the action log.
func (o *Orchestrator) logActions(ctx context.Context, result *BatchResult) {
	for _, id := range result.Blocked {
		o.appendAction(ctx, &stores.ResourceAction{
			ResourceID: string(id),
			Action:     stores.ActionBlocked,
			Level:      stores.EventLevelWarning,
			Message:    "blocked by a requirement",
		})
	}
	for _, id := range result.Unblocked {
		o.appendAction(ctx, &stores.ResourceAction{
			ResourceID: string(id),
			Action:     stores.ActionUnblocked,
			Level:      stores.EventLevelInfo,
			Message:    "no longer blocked",
		})
	}
	for _, id := range result.Dropped {
		o.appendAction(ctx, &stores.ResourceAction{
			ResourceID: string(id),
			Action:     stores.ActionDropped,
			Level:      stores.EventLevelInfo,
			Message:    fmt.Sprintf("removed in version %d", result.Version),
		})
	}
}

// appendAction writes one action log entry. The action log is best effort: failures are logged.
func (o *Orchestrator) appendAction(ctx context.Context, action *stores.ResourceAction) {
	if o.store == nil {
		return
	}
	action.Environment = o.environment
	action.ModelVersion = o.model.Version
	if err := o.store.AppendResourceAction(ctx, action); err != nil {
		o.logger.WithError(err).WithResourceID(action.ResourceID).Warn("failed to append resource action")
	}
}

func (o *Orchestrator) publishTransitions(batchID string, result *BatchResult) {
	for _, id := range result.Blocked {
		_ = o.tel.Events.PublishResourceBlocked(o.environment, batchID, string(id))
	}
	for _, id := range result.Unblocked {
		_ = o.tel.Events.PublishResourceUnblocked(o.environment, batchID, string(id))
	}
	o.tel.Metrics.RecordBlockedTransitions(o.environment, len(result.Unblocked), len(result.Blocked))
	_ = o.tel.Events.PublishBatchApplied(o.environment, batchID, string(result.Kind), result.Version,
		len(result.Unblocked), len(result.Blocked), result.Dirty)
}

// finishBatch records the batch outcome. It runs with the mutex held.
func (o *Orchestrator) finishBatch(batchID string, kind BatchKind, ic *telemetry.InstrumentedContext, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
		o.recordError(err)
		ic.Logger.WithError(err).Error("batch rejected")
		_ = o.tel.Events.PublishBatchFailed(o.environment, batchID, string(kind), err.Error())
	} else {
		o.batches++
		ic.Logger.Zerolog().Debug().
			Int("version", o.model.Version).
			Int("resources", o.model.Len()).
			Int("dirty", len(o.model.Dirty())).
			Msg("batch applied")
	}
	o.tel.Metrics.RecordBatch(o.environment, string(kind), status, ic.Timer.Duration())
	o.updateGauges()
}

func (o *Orchestrator) updateGauges() {
	counts := make(map[string]int)
	for _, hs := range AllHandlerStates {
		counts[string(hs)] = 0
	}
	for _, id := range o.model.ResourceIDs() {
		hs, err := o.handlerState(id)
		if err != nil {
			continue
		}
		counts[string(hs)]++
	}
	o.tel.Metrics.SetResourceCounts(o.environment, counts)
	o.tel.Metrics.SetDirtyResources(o.environment, len(o.model.Dirty()))
	o.tel.Metrics.SetModelVersion(o.environment, o.model.Version)
}

func (o *Orchestrator) recordError(err error) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		o.tel.Metrics.RecordError(string(engineErr.Class), engineErr.Code)
		return
	}
	o.tel.Metrics.RecordError("unknown", "")
}

func deployLevel(result HandlerResult) stores.EventLevel {
	switch result {
	case HandlerResultSuccessful:
		return stores.EventLevelInfo
	case HandlerResultSkipped:
		return stores.EventLevelWarning
	default:
		return stores.EventLevelError
	}
}

func sameIDs(a, b IDSet) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b.Has(id) {
			return false
		}
	}
	return true
}
