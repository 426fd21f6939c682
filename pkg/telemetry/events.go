package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable change in a model state.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// Environment is the environment the event belongs to.
	Environment string `json:"environment,omitempty"`

	// BatchID is the batch that caused the event, if applicable.
	BatchID string `json:"batch_id,omitempty"`

	// ResourceID is the associated resource ID, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeBatchApplied      = "batch.applied"
	EventTypeBatchFailed       = "batch.failed"
	EventTypeResourceBlocked   = "resource.blocked"
	EventTypeResourceUnblocked = "resource.unblocked"
	EventTypeDeployReported    = "deploy.reported"
	EventTypeModelRestored     = "model.restored"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, either inline or from a buffered goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishBatchApplied publishes the summary of an applied batch.
func (ep *EventPublisher) PublishBatchApplied(environment, batchID, kind string, version, unblocked, blocked, dirty int) error {
	return ep.Publish(Event{
		Type:        EventTypeBatchApplied,
		Source:      "engine",
		Environment: environment,
		BatchID:     batchID,
		Message:     fmt.Sprintf("Batch %s (%s) applied to %s at version %d", batchID, kind, environment, version),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"kind":      kind,
			"version":   version,
			"unblocked": unblocked,
			"blocked":   blocked,
			"dirty":     dirty,
		},
	})
}

// PublishBatchFailed publishes a rejected batch.
func (ep *EventPublisher) PublishBatchFailed(environment, batchID, kind, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeBatchFailed,
		Source:      "engine",
		Environment: environment,
		BatchID:     batchID,
		Message:     fmt.Sprintf("Batch %s (%s) rejected for %s: %s", batchID, kind, environment, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"kind":   kind,
			"reason": reason,
		},
	})
}

// PublishResourceBlocked publishes a resource that became blocked.
func (ep *EventPublisher) PublishResourceBlocked(environment, batchID, resourceID string) error {
	return ep.Publish(Event{
		Type:        EventTypeResourceBlocked,
		Source:      "engine",
		Environment: environment,
		BatchID:     batchID,
		ResourceID:  resourceID,
		Message:     fmt.Sprintf("Resource %s is blocked", resourceID),
		Level:       EventLevelWarning,
	})
}

// PublishResourceUnblocked publishes a resource that is no longer blocked.
func (ep *EventPublisher) PublishResourceUnblocked(environment, batchID, resourceID string) error {
	return ep.Publish(Event{
		Type:        EventTypeResourceUnblocked,
		Source:      "engine",
		Environment: environment,
		BatchID:     batchID,
		ResourceID:  resourceID,
		Message:     fmt.Sprintf("Resource %s is unblocked", resourceID),
		Level:       EventLevelInfo,
	})
}

// PublishDeployReported publishes a deploy result folded into the model.
func (ep *EventPublisher) PublishDeployReported(environment, batchID, resourceID, result, handlerState string) error {
	level := EventLevelInfo
	if result != "successful" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:        EventTypeDeployReported,
		Source:      "engine",
		Environment: environment,
		BatchID:     batchID,
		ResourceID:  resourceID,
		Message:     fmt.Sprintf("Resource %s deployed: %s", resourceID, result),
		Level:       level,
		Data: map[string]interface{}{
			"result":        result,
			"handler_state": handlerState,
		},
	})
}

// PublishModelRestored publishes a model state rebuilt from storage.
func (ep *EventPublisher) PublishModelRestored(environment string, version, resources int) error {
	return ep.Publish(Event{
		Type:        EventTypeModelRestored,
		Source:      "engine",
		Environment: environment,
		Message:     fmt.Sprintf("Restored %d resources of %s at version %d", resources, environment, version),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"version":   version,
			"resources": resources,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer in batches until shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent hands an event to every subscriber whose filter accepts it.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByEnvironment creates a filter that only allows events of one environment.
func FilterByEnvironment(environment string) EventFilter {
	return func(event Event) bool {
		return event.Environment == environment
	}
}

// FilterByResourceID creates a filter that only allows events for a specific resource.
func FilterByResourceID(resourceID string) EventFilter {
	return func(event Event) bool {
		return event.ResourceID == resourceID
	}
}
