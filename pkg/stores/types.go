package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleVersion is returned when persisting a model version older than the last processed one.
	ErrStaleVersion = errors.New("stale model version")
)

// ActionType represents the kind of a logged resource action
type ActionType string

const (
	ActionDeploy    ActionType = "deploy"
	ActionBlocked   ActionType = "blocked"
	ActionUnblocked ActionType = "unblocked"
	ActionDropped   ActionType = "dropped"
	ActionTriggered ActionType = "triggered"
)

// EventLevel represents the severity level of an action log entry
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Environment tracks the last model version processed for one environment
type Environment struct {
	Name                 string    `json:"name"`
	LastProcessedVersion *int      `json:"last_processed_version,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ModelVersion represents one released version of the model of an environment
type ModelVersion struct {
	Environment    string     `json:"environment"`
	Version        int        `json:"version"`
	TotalResources int        `json:"total_resources"`
	Released       bool       `json:"released"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ResourceRecord is the persisted projection of one resource: intent plus operational state
type ResourceRecord struct {
	ResourceID    string `json:"resource_id"`
	ResourceSet   string `json:"resource_set"`
	AttributeHash string `json:"attribute_hash"`
	Attributes    string `json:"attributes"` // JSON blob

	// IsOrphan is set for resources that are not part of the requested model version.
	IsOrphan    bool `json:"is_orphan"`
	IsUndefined bool `json:"is_undefined"`

	LastDeployedAttributeHash *string `json:"last_deployed_attribute_hash,omitempty"`
	LastDeployResult          string  `json:"last_deploy_result"`
	LastHandlerRunCompliant   *bool   `json:"last_handler_run_compliant,omitempty"`
	Blocked                   string  `json:"blocked"`

	LastDeployed       *time.Time `json:"last_deployed,omitempty"`
	LastSuccess        *time.Time `json:"last_success,omitempty"`
	LastProducedEvents *time.Time `json:"last_produced_events,omitempty"`

	Requires      []string `json:"requires"`
	SendEvent     bool     `json:"send_event"`
	ReceiveEvents bool     `json:"receive_events"`
}

// ResourceAction represents an append-only log entry about one resource
type ResourceAction struct {
	ID           int64      `json:"id"`
	Environment  string     `json:"environment"`
	ModelVersion int        `json:"model_version"`
	ResourceID   string     `json:"resource_id"`
	Action       ActionType `json:"action"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	Details      *string    `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Environment operations
	ListEnvironments(ctx context.Context) ([]*Environment, error)
	GetLastProcessedModelVersion(ctx context.Context, environment string) (int, bool, error)

	// ModelVersion operations
	CreateModelVersion(ctx context.Context, version *ModelVersion) error
	GetModelVersion(ctx context.Context, environment string, version int) (*ModelVersion, error)
	ListModelVersions(ctx context.Context, environment string, limit, offset int) ([]*ModelVersion, error)

	// Resource state operations
	SaveModelState(ctx context.Context, environment string, version int, records []ResourceRecord) error
	ListResourcesForVersion(ctx context.Context, environment string, version int) ([]ResourceRecord, error)

	// Action log operations
	AppendResourceAction(ctx context.Context, action *ResourceAction) error
	ListResourceActions(ctx context.Context, environment string, resourceID *string, limit, offset int) ([]*ResourceAction, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
