// ABOUTME: The pipeline run's event bus: strongly-typed lifecycle events delivered to subscribers in emission order.
// ABOUTME: Event IDs are ULIDs so consumers can sort and dedupe without a separate sequence counter.
package runtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind identifies one of the 11 recognized pipeline event kinds.
type EventKind string

const (
	EventPipelineStarted   EventKind = "pipeline_started"
	EventPipelineCompleted EventKind = "pipeline_completed"
	EventPipelineFailed    EventKind = "pipeline_failed"
	EventStageStarted      EventKind = "stage_started"
	EventStageCompleted    EventKind = "stage_completed"
	EventStageRetrying     EventKind = "stage_retrying"
	EventStageFailed       EventKind = "stage_failed"
	EventCheckpointSaved   EventKind = "checkpoint_saved"
	EventCheckpointResumed EventKind = "checkpoint_resumed"
	EventLoopRestarted     EventKind = "loop_restarted"
	EventInterviewStarted  EventKind = "interview_started"
)

// Event is a single emitted lifecycle notification.
type Event struct {
	ID        string
	Kind      EventKind
	RunID     string
	NodeID    string
	Data      map[string]any
	Timestamp time.Time
}

// EventHandler receives events in emission order. It must not block; an
// implementation that streams to HTTP/SSE should buffer internally.
type EventHandler func(Event)

// EventBus fans a run's events out to zero or more subscribers, synchronously
// from the emitting goroutine's perspective.
type EventBus struct {
	runID       string
	subscribers []EventHandler
}

// NewEventBus creates a bus that stamps every emitted event with runID.
func NewEventBus(runID string) *EventBus {
	return &EventBus{runID: runID}
}

// Subscribe registers a handler; handlers are invoked in registration order.
func (b *EventBus) Subscribe(h EventHandler) {
	if h != nil {
		b.subscribers = append(b.subscribers, h)
	}
}

// Emit stamps an ID and timestamp (if unset) and delivers the event to every
// subscriber in order.
func (b *EventBus) Emit(kind EventKind, nodeID string, data map[string]any) {
	evt := Event{
		ID:        newEventID(),
		Kind:      kind,
		RunID:     b.runID,
		NodeID:    nodeID,
		Data:      data,
		Timestamp: time.Now(),
	}
	for _, sub := range b.subscribers {
		sub(evt)
	}
}

func newEventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
