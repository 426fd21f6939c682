package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfroyo/orchestrator/pkg/stores"
)

// Snapshot returns the persisted projection of every resource, ordered by resource id.
func (m *ModelState) Snapshot() ([]stores.ResourceRecord, error) {
	records := make([]stores.ResourceRecord, 0, len(m.intent))
	for _, id := range m.ResourceIDs() {
		intent := m.intent[id]
		state, ok := m.resourceState[id]
		if !ok {
			return nil, NewInternalError("resource has intent but no state").WithResource(string(id))
		}

		attributes, err := json.Marshal(intent.attributes)
		if err != nil {
			return nil, NewPermanentError("failed to serialize attributes", err).
				WithCode(ErrCodeInternal).
				WithResource(string(id))
		}

		requires := make([]string, 0, len(m.requires.Requires(id)))
		for _, req := range m.requires.Requires(id).Sorted() {
			requires = append(requires, string(req))
		}

		hist := m.historyFor(id)
		rec := stores.ResourceRecord{
			ResourceID:         string(id),
			ResourceSet:        m.resourceSetOf[id],
			AttributeHash:      intent.AttributeHash(),
			Attributes:         string(attributes),
			IsUndefined:        state.Compliance == ComplianceUndefined,
			LastDeployResult:   string(state.LastHandlerRun),
			Blocked:            string(state.Blocked),
			LastDeployed:       copyTime(state.LastDeployed),
			LastSuccess:        copyTime(hist.lastSuccess),
			LastProducedEvents: copyTime(hist.lastProducedEvents),
			Requires:           requires,
			SendEvent:          intent.SendsEvents(),
			ReceiveEvents:      intent.ReceivesEvents(),
		}
		if hist.deployedHash != nil {
			hash := *hist.deployedHash
			rec.LastDeployedAttributeHash = &hash
		}
		if state.LastHandlerRunCompliant != nil {
			rec.LastHandlerRunCompliant = boolPtr(*state.LastHandlerRunCompliant)
		}
		records = append(records, rec)
	}
	return records, nil
}

// RestoreModelState rebuilds the model state of an environment for its last processed version.
//
// It returns nil without error when no version was ever processed: there is nothing to restore,
// which is different from an empty model.
func RestoreModelState(ctx context.Context, reader ModelStateReader, environment string) (*ModelState, error) {
	version, ok, err := reader.GetLastProcessedModelVersion(ctx, environment)
	if err != nil {
		return nil, NewTransientError("failed to read last processed model version", err).
			WithCode(ErrCodeStorage).
			WithOperation("restore")
	}
	if !ok {
		return nil, nil
	}

	records, err := reader.ListResourcesForVersion(ctx, environment, version)
	if err != nil {
		return nil, NewTransientError("failed to list resources", err).
			WithCode(ErrCodeStorage).
			WithOperation("restore")
	}

	return restoreFromRecords(version, records)
}

func restoreFromRecords(version int, records []stores.ResourceRecord) (*ModelState, error) {
	m := NewModelState(version)

	live := make([]stores.ResourceRecord, 0, len(records))
	for _, rec := range records {
		lastRunCompliant := rec.LastHandlerRunCompliant != nil && *rec.LastHandlerRunCompliant
		compliance, ok := ComplianceStatus(
			rec.IsOrphan,
			rec.IsUndefined,
			rec.LastDeployedAttributeHash,
			rec.AttributeHash,
			lastRunCompliant,
		)
		if !ok {
			continue
		}

		id := ResourceID(rec.ResourceID)
		attributes := map[string]interface{}{}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &attributes); err != nil {
				return nil, NewPermanentError("failed to decode persisted attributes", err).
					WithCode(ErrCodeStorage).
					WithResource(rec.ResourceID)
			}
		}
		intent, err := NewResourceIntent(id, rec.AttributeHash, attributes)
		if err != nil {
			return nil, err
		}
		if m.Has(id) {
			return nil, NewInternalError("duplicate persisted resource").WithResource(rec.ResourceID)
		}

		state, err := restoredState(rec, compliance)
		if err != nil {
			return nil, err
		}

		m.intent[id] = intent
		m.resourceState[id] = state
		m.setResourceSet(id, rec.ResourceSet)
		bucket, ok := m.resourcesByAgent[intent.AgentName()]
		if !ok {
			bucket = make(IDSet)
			m.resourcesByAgent[intent.AgentName()] = bucket
		}
		bucket.Add(id)

		hist := &resourceHistory{
			lastSuccess:        copyTime(rec.LastSuccess),
			lastProducedEvents: copyTime(rec.LastProducedEvents),
		}
		if rec.LastDeployedAttributeHash != nil {
			hash := *rec.LastDeployedAttributeHash
			hist.deployedHash = &hash
		}
		m.history[id] = hist
		live = append(live, rec)
	}

	for _, rec := range live {
		requires := make(IDSet, len(rec.Requires))
		for _, req := range rec.Requires {
			requires.Add(ResourceID(req))
		}
		m.requires.Set(ResourceID(rec.ResourceID), requires)
	}

	byID := make(map[ResourceID]stores.ResourceRecord, len(live))
	for _, rec := range live {
		byID[ResourceID(rec.ResourceID)] = rec
	}
	for _, rec := range live {
		id := ResourceID(rec.ResourceID)
		if m.eventPending(id, byID) {
			m.resourceState[id].Compliance = ComplianceHasUpdate
		}
		m.refreshDirty(id)
	}

	if err := m.CheckConsistency(); err != nil {
		return nil, err
	}
	return m, nil
}

func restoredState(rec stores.ResourceRecord, compliance Compliance) (*ResourceState, error) {
	state := &ResourceState{
		Compliance:     compliance,
		LastHandlerRun: HandlerResult(rec.LastDeployResult),
		Blocked:        Blocked(rec.Blocked),
		LastDeployed:   copyTime(rec.LastDeployed),
	}
	if state.LastHandlerRun == "" {
		state.LastHandlerRun = HandlerResultNew
	}
	if state.Blocked == "" {
		state.Blocked = BlockedNotBlocked
	}
	if compliance != ComplianceUndefined && rec.LastHandlerRunCompliant != nil {
		state.LastHandlerRunCompliant = boolPtr(*rec.LastHandlerRunCompliant)
	}
	if err := state.Validate(); err != nil {
		return nil, NewPermanentError(fmt.Sprintf("invalid persisted state: %v", err), nil).
			WithCode(ErrCodeStorage).
			WithResource(rec.ResourceID)
	}
	return state, nil
}

// eventPending reports whether a compliant resource has a requirement that produced an event
// after the resource was last deployed successfully.
func (m *ModelState) eventPending(id ResourceID, records map[ResourceID]stores.ResourceRecord) bool {
	state := m.resourceState[id]
	if state.Compliance != ComplianceCompliant || !records[id].ReceiveEvents {
		return false
	}
	lastSuccess := m.history[id].lastSuccess
	for req := range m.requires.Requires(id) {
		reqRecord, ok := records[req]
		if !ok || !reqRecord.SendEvent || reqRecord.LastProducedEvents == nil {
			continue
		}
		if lastSuccess == nil || lastSuccess.Before(*reqRecord.LastProducedEvents) {
			return true
		}
	}
	return false
}
