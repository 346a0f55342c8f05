package session

import (
	"time"

	"github.com/arin/xx-chat/internal/chat"
)

// State is the engine's position in a submission.
type State int

const (
	StateIdle State = iota
	StateAwaitingConversation
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConversation:
		return "awaiting_conversation"
	case StateStreaming:
		return "streaming"
	}
	return "unknown"
}

// EventType identifies what an Event reports.
type EventType string

const (
	// EventState reports a state transition.
	EventState EventType = "state"
	// EventMessage reports a message appended to the conversation: the
	// user's message, or the frozen assistant message.
	EventMessage EventType = "message"
	// EventDelta carries one text fragment and the live assistant message.
	EventDelta EventType = "delta"
	// EventWarning reports a non-fatal failure, such as a failed save.
	EventWarning EventType = "warning"
	// EventFailed reports the error that ended a submission.
	EventFailed EventType = "failed"
	// EventCompleted reports a finished exchange with its metrics.
	EventCompleted EventType = "completed"
)

// Event is delivered to observers synchronously, in order.
type Event struct {
	Type           EventType
	ConversationID string
	State          State
	// Message is the appended message for EventMessage and a snapshot of
	// the live assistant message for EventDelta.
	Message chat.Message
	Delta   string
	Err     error
	Metrics *Metrics
}

// Observer receives engine events. It runs on the goroutine that caused
// the event and must not block for long.
type Observer func(Event)

// Metrics describes one exchange.
type Metrics struct {
	Provider chat.Provider
	Model    string
	// TTFT is the time from sending the request to the first delta.
	TTFT     time.Duration
	Duration time.Duration
	Deltas   int
}

// Result is returned by a successful Submit.
type Result struct {
	ConversationID string
	Message        chat.Message
	Metrics        Metrics
	// Warnings holds persistence failures. The in-memory conversation is
	// correct even when these are set, but it may not have been saved.
	Warnings []error
}
