package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is an engine lifecycle event.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	ZapID       string                 `json:"zap_id,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	StepID      string                 `json:"step_id,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Event types emitted by the engine.
const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeExecutionDiscarded = "execution.discarded"
	EventTypeStepCompleted      = "step.completed"
	EventTypeStepFailed         = "step.failed"
	EventTypeSweepCompleted     = "sweep.completed"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, optionally through a
// buffered channel drained by a background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
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
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}
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

	return ep
}

// Publish delivers an event to all matching subscribers. Async publishers
// drop the event and return an error when the buffer is full.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents drains the buffer in batches of up to MaxBatchSize so a
// burst of events takes the subscriber lock once.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch[:0], event)
			batch = ep.fillBatch(batch)
			ep.deliverBatch(batch)
		case <-ep.ctx.Done():
			for {
				batch = ep.fillBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				ep.deliverBatch(batch)
			}
		}
	}
}

// fillBatch appends buffered events to batch without blocking.
func (ep *EventPublisher) fillBatch(batch []Event) []Event {
	for len(batch) < ep.config.MaxBatchSize {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

// deliverBatch calls subscribers in registration order for each event so
// every subscriber observes events in publish order.
func (ep *EventPublisher) deliverBatch(batch []Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, event := range batch {
		ep.dispatch(event)
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	ep.dispatch(event)
}

func (ep *EventPublisher) dispatch(event Event) {
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
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

// FilterByLevel only passes events at or above minLevel.
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

// FilterByType only passes events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByZapID only passes events for one zap.
func FilterByZapID(zapID string) EventFilter {
	return func(event Event) bool {
		return event.ZapID == zapID
	}
}

// LogSubscriber writes each event to logger at debug level. Error events are
// logged at warn so failures show up at the default level.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(event Event) {
		level := zerolog.DebugLevel
		if event.Level == EventLevelError {
			level = zerolog.WarnLevel
		}
		zl := logger.zlog.WithLevel(level)
		zl = zl.Str("event_id", event.ID).
			Str("event_type", event.Type)
		if event.ZapID != "" {
			zl = zl.Str("zap_id", event.ZapID)
		}
		if event.ExecutionID != "" {
			zl = zl.Str("execution_id", event.ExecutionID)
		}
		if event.StepID != "" {
			zl = zl.Str("step_id", event.StepID)
		}
		if len(event.Data) > 0 {
			zl = zl.Interface("data", event.Data)
		}
		zl.Msg(event.Message)
	}
}
