package schema

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the domain event type carried by a BrowserEvent.
type EventType string

const (
	// EventTabCreated announces a new tab.
	EventTabCreated EventType = "tab.created"
	// EventTabDestroyed announces tab removal; dependent state must be released.
	EventTabDestroyed EventType = "tab.destroyed"
	// EventTabNavigated announces the start of a navigation.
	EventTabNavigated EventType = "tab.navigated"
	// EventTabLoaded announces a completed navigation.
	EventTabLoaded EventType = "tab.loaded"
	// EventTabError announces a failed navigation.
	EventTabError EventType = "tab.error"
	// EventTabSuspended announces a tab suspension.
	EventTabSuspended EventType = "tab.suspended"
	// EventTabRestored announces a tab restoration.
	EventTabRestored EventType = "tab.restored"
	// EventTabMoved announces a tab moving between groups.
	EventTabMoved EventType = "tab.moved"
	// EventTabUpdated announces metadata or pin changes.
	EventTabUpdated EventType = "tab.updated"
	// EventTabActivated announces a tab becoming active in its space.
	EventTabActivated EventType = "tab.activated"
	// EventSpaceCreated announces a new space.
	EventSpaceCreated EventType = "space.created"
	// EventSpaceActivated announces the active space changing.
	EventSpaceActivated EventType = "space.activated"
	// EventSpaceImported announces a space reconstructed from a snapshot.
	EventSpaceImported EventType = "space.imported"
	// EventGroupCreated announces a new group.
	EventGroupCreated EventType = "group.created"
	// EventGroupDeleted announces group removal; member tabs are ungrouped.
	EventGroupDeleted EventType = "group.deleted"
	// EventMessage carries a delivered cross-tab message.
	EventMessage EventType = "comms.message"
	// EventMessageFailed reports a message dropped by a permission check.
	EventMessageFailed EventType = "comms.message_failed"
	// EventContextCreated announces a new shared context.
	EventContextCreated EventType = "comms.context_created"
	// EventContextUpdated announces a shared data write.
	EventContextUpdated EventType = "comms.context_updated"
	// EventContextConflict announces concurrent writes awaiting resolution.
	EventContextConflict EventType = "comms.context_conflict"
	// EventSessionCreated announces a new collaboration session.
	EventSessionCreated EventType = "comms.session_created"
	// EventSessionUpdated announces participant state changes.
	EventSessionUpdated EventType = "comms.session_updated"
	// EventMemoryPressure reports optimizer activity and unresolved pressure.
	EventMemoryPressure EventType = "memory.pressure"
	// EventBusError reports a handler or processor failure, isolated per invocation.
	EventBusError EventType = "bus.error"
)

// Priority is delivery metadata for filtering; the bus never reorders by it.
type Priority string

const (
	// PriorityLow marks background noise.
	PriorityLow Priority = "low"
	// PriorityNormal is the default.
	PriorityNormal Priority = "normal"
	// PriorityHigh marks user-visible changes.
	PriorityHigh Priority = "high"
	// PriorityCritical marks failures and pressure signals.
	PriorityCritical Priority = "critical"
)

// BrowserEvent is an immutable record published on the event bus. Consumers
// receive a reference to the same payload and must not mutate it.
type BrowserEvent struct {
	ID            EventID
	Type          EventType
	Timestamp     time.Time
	Source        string
	Payload       map[string]any
	Priority      Priority
	TTL           time.Duration
	CorrelationID string
	Target        string
}

// NewEvent constructs a BrowserEvent with a fresh id and timestamp.
func NewEvent(eventType EventType, source string, payload map[string]any) BrowserEvent {
	return BrowserEvent{
		ID:        EventID(uuid.NewString()),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
		Priority:  PriorityNormal,
	}
}

// Expired reports whether the event's TTL has elapsed at the given instant.
// A zero TTL never expires.
func (e BrowserEvent) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(e.TTL))
}
