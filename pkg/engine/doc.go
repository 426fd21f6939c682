// Package engine implements the deployment model state of the froyo orchestrator.
//
// # Overview
//
// A model is the set of resources the compiler wants deployed in an environment, together
// with the requires edges between them. ModelState keeps, for every resource, the intent
// (attribute hash and attributes) and the operational state (compliance, last handler run,
// blocked status) and derives from them the dirty set: the resources that must be deployed.
//
// # Batches
//
// Callers change a model in batches. A batch is any number of UpdateResource, UpdateRequires
// and Drop calls followed by exactly one UpdateTransitiveState call naming the resources the
// batch touched directly:
//
//	_ = m.UpdateResource(intent, engine.UpdateOptions{})
//	_ = m.UpdateRequires(intent.ID(), engine.NewIDSet(dep))
//	unblocked, blocked, err := m.UpdateTransitiveState(nil, touched, touched)
//
// Between the direct updates and the transitive update the blocked status of the model is
// provisional. Orchestrator runs every batch under a mutex so that no reader ever sees it.
//
// # Blocked status
//
// A resource is BLOCKED when its intent is undefined or when one of its requirements,
// directly or transitively, is BLOCKED. TEMPORARILY_BLOCKED is a softer hold: the resource
// is not deployed because a requirement failed, and it is released once the requirement
// succeeds or is removed.
//
// # Persistence
//
// Snapshot produces the stores.ResourceRecord projection of a model and RestoreModelState
// rebuilds a model from it, so that an orchestrator restarted on the same storage
// reproduces the same dirty and blocked sets.
//
// # Error Handling
//
// Errors are returned as *EngineError classified as transient, conflict or permanent:
//
//   - VALIDATION_ERROR: the caller broke the contract of an operation
//   - NOT_FOUND: an operation named a resource that is not part of the model
//   - INTERNAL_ERROR: the model detected an internal inconsistency
//   - CONFLICT: a model version is not newer than the current one
//   - STORAGE_ERROR: persisted state could not be read or written
//
// Use IsValidation, IsNotFound, IsInternal, IsConflict and IsRetryable to classify errors.
package engine
