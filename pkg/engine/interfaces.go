package engine

import (
	"context"

	"github.com/openfroyo/orchestrator/pkg/stores"
)

// ModelStateReader loads persisted model state. It is consumed once per environment, before the
// environment accepts batches.
type ModelStateReader interface {
	// GetLastProcessedModelVersion returns the last model version processed for an environment.
	// The boolean is false when no version was ever processed.
	GetLastProcessedModelVersion(ctx context.Context, environment string) (int, bool, error)

	// ListResourcesForVersion returns the persisted projection of every resource of an environment,
	// with resources that are not part of the version flagged as orphans.
	ListResourcesForVersion(ctx context.Context, environment string, version int) ([]stores.ResourceRecord, error)
}

// ModelStateWriter persists the converged state of a model version.
type ModelStateWriter interface {
	// SaveModelState persists the records and moves the last processed version pointer.
	SaveModelState(ctx context.Context, environment string, version int, records []stores.ResourceRecord) error
}

// ActionLogger records resource actions for auditing.
type ActionLogger interface {
	// AppendResourceAction appends one entry to the action log.
	AppendResourceAction(ctx context.Context, action *stores.ResourceAction) error
}

// ModelStore is the storage collaborator of the orchestrator.
type ModelStore interface {
	ModelStateReader
	ModelStateWriter
	ActionLogger
}

var _ ModelStore = (*stores.SQLiteStore)(nil)
