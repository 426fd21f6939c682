// Package stores provides the persistence layer of the orchestrator.
// It includes a SQLite-based store with WAL mode and embedded migrations that keeps,
// per environment, the last processed model version, the released model versions,
// the operational state of every resource and an append-only resource action log.
package stores
