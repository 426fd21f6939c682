package engine

import (
	"encoding/json"
	"fmt"
)

// Compliance tells whether the last known operational state of a resource matches its latest intent.
type Compliance string

const (
	// ComplianceCompliant indicates the last deploy of the current intent succeeded and was judged compliant.
	ComplianceCompliant Compliance = "compliant"

	// ComplianceHasUpdate indicates the intent changed since the last deploy (or was never deployed).
	ComplianceHasUpdate Compliance = "has_update"

	// ComplianceNonCompliant indicates the current intent was deployed but is not known to comply.
	ComplianceNonCompliant Compliance = "non_compliant"

	// ComplianceUndefined indicates the intent itself is incomplete (it contains an unknown value).
	ComplianceUndefined Compliance = "undefined"
)

// IsDirty returns true if the resource needs a deploy to reach its intent.
func (c Compliance) IsDirty() bool {
	return c == ComplianceHasUpdate || c == ComplianceNonCompliant
}

// Validate checks if the compliance value is valid.
func (c Compliance) Validate() error {
	switch c {
	case ComplianceCompliant, ComplianceHasUpdate, ComplianceNonCompliant, ComplianceUndefined:
		return nil
	default:
		return fmt.Errorf("invalid compliance: %s", c)
	}
}

// HandlerResult is the outcome of the last handler run for a resource.
type HandlerResult string

const (
	// HandlerResultNew indicates the resource was never deployed.
	HandlerResultNew HandlerResult = "new"

	// HandlerResultSuccessful indicates the last deploy succeeded.
	HandlerResultSuccessful HandlerResult = "successful"

	// HandlerResultFailed indicates the last deploy failed.
	HandlerResultFailed HandlerResult = "failed"

	// HandlerResultSkipped indicates the last deploy was skipped, usually because a dependency failed.
	HandlerResultSkipped HandlerResult = "skipped"
)

// Validate checks if the handler result is valid.
func (r HandlerResult) Validate() error {
	switch r {
	case HandlerResultNew, HandlerResultSuccessful, HandlerResultFailed, HandlerResultSkipped:
		return nil
	default:
		return fmt.Errorf("invalid handler result: %s", r)
	}
}

// Blocked tells whether a resource is currently eligible for deployment, and why not.
type Blocked string

const (
	// BlockedBlocked indicates the resource is not deployable because an undefined resource sits
	// somewhere upstream in its dependency chain (or the resource is undefined itself).
	BlockedBlocked Blocked = "blocked"

	// BlockedNotBlocked indicates the resource may be deployed.
	BlockedNotBlocked Blocked = "not_blocked"

	// BlockedTemporarily indicates the resource is not deployable right now because a dependency
	// failed. It may recover without new intent.
	BlockedTemporarily Blocked = "temporarily_blocked"
)

// IsBlocked returns true for a hard block.
func (b Blocked) IsBlocked() bool {
	return b == BlockedBlocked
}

// Validate checks if the blocked status is valid.
func (b Blocked) Validate() error {
	switch b {
	case BlockedBlocked, BlockedNotBlocked, BlockedTemporarily:
		return nil
	default:
		return fmt.Errorf("invalid blocked status: %s", b)
	}
}

// AgentStatus represents the lifecycle status of an agent that owns a bucket of resources.
type AgentStatus string

const (
	// AgentStatusStarted indicates the agent accepts deploy work.
	AgentStatusStarted AgentStatus = "started"

	// AgentStatusPaused indicates the agent is halted by an operator and must not receive work.
	AgentStatusPaused AgentStatus = "paused"

	// AgentStatusStopped indicates the agent is gone.
	AgentStatusStopped AgentStatus = "stopped"
)

// Validate checks if the agent status is valid.
func (s AgentStatus) Validate() error {
	switch s {
	case AgentStatusStarted, AgentStatusPaused, AgentStatusStopped:
		return nil
	default:
		return fmt.Errorf("invalid agent status: %s", s)
	}
}

// HandlerState is the simplified, externally reported status of a resource.
// Its values are a stable contract for status APIs and dashboards.
type HandlerState string

const (
	HandlerStateDeployed            HandlerState = "deployed"
	HandlerStateSkipped             HandlerState = "skipped"
	HandlerStateFailed              HandlerState = "failed"
	HandlerStateNonCompliant        HandlerState = "non_compliant"
	HandlerStateAvailable           HandlerState = "available"
	HandlerStateUndefined           HandlerState = "undefined"
	HandlerStateSkippedForUndefined HandlerState = "skipped_for_undefined"

	// HandlerStateDeploying is never derived from a ResourceState. The orchestrator reports it
	// for resources that have a deploy in flight.
	HandlerStateDeploying HandlerState = "deploying"
)

// AllHandlerStates lists every handler state in a stable order.
var AllHandlerStates = []HandlerState{
	HandlerStateDeployed,
	HandlerStateSkipped,
	HandlerStateFailed,
	HandlerStateNonCompliant,
	HandlerStateAvailable,
	HandlerStateUndefined,
	HandlerStateSkippedForUndefined,
	HandlerStateDeploying,
}

// Validate checks if the handler state is valid.
func (s HandlerState) Validate() error {
	for _, known := range AllHandlerStates {
		if s == known {
			return nil
		}
	}
	return fmt.Errorf("invalid handler state: %s", s)
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (b Blocked) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(b))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (b *Blocked) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*b = Blocked(str)
	return b.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (r *HandlerResult) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*r = HandlerResult(str)
	return r.Validate()
}
