package engine

import (
	"time"
)

// DeployReport is the outcome of one deploy, as reported by an agent.
type DeployReport struct {
	// ResourceID is the deployed resource.
	ResourceID ResourceID `json:"resource_id" validate:"required"`

	// AttributeHash is the hash of the intent the agent deployed.
	AttributeHash string `json:"attribute_hash" validate:"required"`

	// Result is the handler outcome. NEW is not a valid outcome.
	Result HandlerResult `json:"result" validate:"required,oneof=successful failed skipped"`

	// Finished is when the deploy finished.
	Finished time.Time `json:"finished"`

	// Changed indicates the deploy changed the managed resource.
	Changed bool `json:"changed"`
}

// DeployOutcome lists the side effects of folding one deploy report into the model.
type DeployOutcome struct {
	// HandlerState is the state of the deployed resource afterwards.
	HandlerState HandlerState

	// Stale indicates the report was for an older intent than the current one.
	Stale bool

	// Released lists dependents whose temporary block was cleared.
	Released IDSet

	// Triggered lists dependents that received an event and became dirty.
	Triggered IDSet
}

// RecordDeployResult folds a deploy outcome into the model.
//
// A report for an intent that changed while the deploy ran is recorded, but the resource keeps
// its HAS_UPDATE compliance. The caller must name ResourceID and the returned Released and
// Triggered sets in the following UpdateTransitiveState call.
func (m *ModelState) RecordDeployResult(report DeployReport) (DeployOutcome, error) {
	id := report.ResourceID
	if report.Result == HandlerResultNew {
		return DeployOutcome{}, NewValidationError("deploy result cannot be new").
			WithResource(string(id)).
			WithOperation("record_deploy_result")
	}
	if err := report.Result.Validate(); err != nil {
		return DeployOutcome{}, NewValidationError(err.Error()).WithResource(string(id))
	}
	intent, ok := m.intent[id]
	if !ok {
		return DeployOutcome{}, NewNotFoundError(id).WithOperation("record_deploy_result")
	}
	state, ok := m.resourceState[id]
	if !ok {
		return DeployOutcome{}, NewInternalError("resource has intent but no state").WithResource(string(id))
	}
	if state.Compliance == ComplianceUndefined {
		return DeployOutcome{}, NewValidationError("undefined resource cannot be deployed").
			WithResource(string(id)).
			WithOperation("record_deploy_result")
	}

	hist := m.historyFor(id)
	outcome := DeployOutcome{
		Released:  make(IDSet),
		Triggered: make(IDSet),
	}
	finished := report.Finished
	if finished.IsZero() {
		finished = time.Now().UTC()
	}

	success := report.Result == HandlerResultSuccessful
	state.LastHandlerRun = report.Result
	state.LastDeployed = timePtr(finished)
	state.LastHandlerRunCompliant = boolPtr(success)
	hash := report.AttributeHash
	hist.deployedHash = &hash

	if report.AttributeHash != intent.AttributeHash() {
		outcome.Stale = true
		state.Compliance = ComplianceHasUpdate
	} else {
		switch report.Result {
		case HandlerResultSuccessful:
			state.Compliance = ComplianceCompliant
		case HandlerResultFailed:
			state.Compliance = ComplianceNonCompliant
		case HandlerResultSkipped:
			state.Compliance = ComplianceNonCompliant
		}
	}

	if report.Result == HandlerResultSkipped && state.Blocked == BlockedNotBlocked {
		state.Blocked = BlockedTemporarily
	}
	m.refreshDirty(id)

	if success {
		hist.lastSuccess = timePtr(finished)
		if err := m.releaseDependents(id, outcome.Released); err != nil {
			return DeployOutcome{}, err
		}
		if report.Changed && intent.SendsEvents() {
			hist.lastProducedEvents = timePtr(finished)
			m.triggerDependents(id, finished, outcome.Triggered)
		}
	}

	hs, err := state.ToHandlerState()
	if err != nil {
		return DeployOutcome{}, err
	}
	outcome.HandlerState = hs
	return outcome, nil
}

// MarkTemporarilyBlocked holds back a resource because a requirement failed.
// Only a resource that is not blocked changes; it reports whether it did.
func (m *ModelState) MarkTemporarilyBlocked(id ResourceID) (bool, error) {
	state, ok := m.resourceState[id]
	if !ok {
		return false, NewNotFoundError(id).WithOperation("mark_temporarily_blocked")
	}
	if state.Blocked != BlockedNotBlocked {
		return false, nil
	}
	state.Blocked = BlockedTemporarily
	m.refreshDirty(id)
	return true, nil
}

// releaseDependents clears the temporary block of dependents that no longer have a failed requirement.
func (m *ModelState) releaseDependents(id ResourceID, released IDSet) error {
	for dep := range m.requires.Provides(id) {
		state, ok := m.resourceState[dep]
		if !ok || state.Blocked != BlockedTemporarily {
			continue
		}
		skip, err := m.ShouldSkipForDependencies(dep)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		state.Blocked = BlockedNotBlocked
		m.refreshDirty(dep)
		released.Add(dep)
	}
	return nil
}

// triggerDependents marks compliant dependents that receive events as having an update.
// Blocked dependents are marked too, so the event is not lost once they are unblocked.
func (m *ModelState) triggerDependents(id ResourceID, at time.Time, triggered IDSet) {
	for dep := range m.requires.Provides(id) {
		state, ok := m.resourceState[dep]
		if !ok || state.Compliance != ComplianceCompliant {
			continue
		}
		if !m.intent[dep].ReceivesEvents() {
			continue
		}
		hist := m.historyFor(dep)
		if hist.lastSuccess != nil && !hist.lastSuccess.Before(at) {
			continue
		}
		state.Compliance = ComplianceHasUpdate
		m.refreshDirty(dep)
		triggered.Add(dep)
	}
}

func (m *ModelState) historyFor(id ResourceID) *resourceHistory {
	hist, ok := m.history[id]
	if !ok {
		hist = &resourceHistory{}
		m.history[id] = hist
	}
	return hist
}
