package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventTurnStarted   EventType = "turn.started"
	EventTurnDelta     EventType = "turn.delta"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnFailed    EventType = "turn.failed"
	EventTurnCancelled EventType = "turn.cancelled"
)

// TurnStartedPayload is the payload for EventTurnStarted events.
type TurnStartedPayload struct {
	Content string `json:"content"`
}

// TurnDeltaPayload is the payload for EventTurnDelta events.
// Published after every folded chunk; State reflects all chunks so far.
type TurnDeltaPayload struct {
	Tag   ChunkTag  `json:"tag"`
	State TurnState `json:"state"`
}

// TurnCompletedPayload is the payload for EventTurnCompleted events.
type TurnCompletedPayload struct {
	Content        string `json:"content"`
	ToolExecutions int    `json:"tool_executions"`
}

// TurnFailedPayload is the payload for EventTurnFailed events.
type TurnFailedPayload struct {
	Error string `json:"error"`
}

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for turn lifecycle events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
