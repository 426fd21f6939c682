package engine

import (
	"time"
)

// ResourceDefinition is one resource of a model version, as produced by the compiler.
type ResourceDefinition struct {
	// ID is the resource id.
	ID ResourceID `json:"id" yaml:"id" validate:"required"`

	// Attributes are the desired attribute values.
	Attributes map[string]interface{} `json:"attributes" yaml:"attributes"`

	// Requires lists the resources this resource depends on.
	Requires []ResourceID `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive,required"`

	// Undefined marks intent that still contains an unknown value.
	Undefined bool `json:"undefined,omitempty" yaml:"undefined,omitempty"`

	// ResourceSet is the named partition the resource belongs to. Empty means the shared set.
	ResourceSet string `json:"resource_set,omitempty" yaml:"resource_set,omitempty"`
}

// ModelDefinition is one version of the desired model of an environment.
type ModelDefinition struct {
	// Version is the model version. Versions of an environment only move forward.
	Version int `json:"version" yaml:"version" validate:"gte=1"`

	// Resources is the full list of resources of this version.
	Resources []ResourceDefinition `json:"resources" yaml:"resources" validate:"dive"`

	// Partial restricts the update to the resource sets named by Resources and RemovedResourceSets.
	// Resources of other sets are carried over from the previous version.
	Partial bool `json:"partial,omitempty" yaml:"partial,omitempty"`

	// RemovedResourceSets names resource sets to drop entirely in a partial update.
	RemovedResourceSets []string `json:"removed_resource_sets,omitempty" yaml:"removed_resource_sets,omitempty"`
}

// BatchKind identifies the kind of a batch applied to a model state.
type BatchKind string

const (
	BatchKindApplyModel   BatchKind = "apply_model"
	BatchKindDeployReport BatchKind = "deploy_report"
	BatchKindRestore      BatchKind = "restore"
)

// BatchResult summarizes one batch applied to a model state.
type BatchResult struct {
	// ID is the unique identifier of the batch.
	ID string `json:"id"`

	// Kind is the kind of batch.
	Kind BatchKind `json:"kind"`

	// Environment is the environment the batch was applied to.
	Environment string `json:"environment"`

	// Version is the model version after the batch.
	Version int `json:"version"`

	// Added, Updated and Dropped list the resources whose intent changed.
	Added   []ResourceID `json:"added,omitempty"`
	Updated []ResourceID `json:"updated,omitempty"`
	Dropped []ResourceID `json:"dropped,omitempty"`

	// Unblocked and Blocked list the resources whose blocked status the batch changed.
	Unblocked []ResourceID `json:"unblocked,omitempty"`
	Blocked   []ResourceID `json:"blocked,omitempty"`

	// Dirty is the number of deployable resources after the batch.
	Dirty int `json:"dirty"`

	// Persisted is false when the batch was applied in memory but the store write failed.
	// The next batch or Sync writes the whole model again.
	Persisted bool `json:"persisted"`

	// Duration is how long the batch took.
	Duration time.Duration `json:"duration"`
}

// ResourceStatus is the externally reported status of one resource.
type ResourceStatus struct {
	ID           ResourceID   `json:"id"`
	Agent        string       `json:"agent"`
	ResourceSet  string       `json:"resource_set,omitempty"`
	HandlerState HandlerState `json:"handler_state"`
	Compliance   Compliance   `json:"compliance"`
	Blocked      Blocked      `json:"blocked"`
	Dirty        bool         `json:"dirty"`
	Requires     []ResourceID `json:"requires,omitempty"`
	LastDeployed *time.Time   `json:"last_deployed,omitempty"`
}

// AgentReport is the status of one agent and its resources.
type AgentReport struct {
	Name      string      `json:"name"`
	Status    AgentStatus `json:"status"`
	Resources int         `json:"resources"`
	Dirty     int         `json:"dirty"`
}

// StatusReport is a consistent view of an environment taken between batches.
type StatusReport struct {
	Environment string               `json:"environment"`
	Version     int                  `json:"version"`
	Resources   []ResourceStatus     `json:"resources"`
	Dirty       []ResourceID         `json:"dirty"`
	Agents      []AgentReport        `json:"agents"`
	Counts      map[HandlerState]int `json:"counts"`
	GeneratedAt time.Time            `json:"generated_at"`
}
