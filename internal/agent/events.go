package agent

import "time"

// EventType names a broadcast event. Consumers match on these strings.
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventChatStreaming      EventType = "chat_streaming"
	EventApprovalRequest    EventType = "approval_request"
	EventCycleStart         EventType = "cycle_start"
	EventOrientationUpdate  EventType = "orientation_update"
	EventJournalWritten     EventType = "journal_written"
	EventAttentionNeeded    EventType = "attention_needed"
	EventDreamCycleStarted  EventType = "dream_cycle_started"
	EventDreamCycleComplete EventType = "dream_cycle_completed"
	EventError              EventType = "error"
	EventToolProgress       EventType = "tool_progress"
)

// Event is one message on the agent event stream.
type Event struct {
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}
