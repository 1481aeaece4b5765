package schema

import (
	"time"

	"github.com/google/uuid"
)

// Message is a cross-tab message. An empty To means broadcast.
type Message struct {
	ID        MessageID      `json:"id"`
	From      TabID          `json:"from"`
	To        TabID          `json:"to,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  Priority       `json:"priority,omitempty"`
}

// NewMessage constructs a message with a fresh id and timestamp.
func NewMessage(from, to TabID, msgType string, payload map[string]any) Message {
	return Message{
		ID:        MessageID(uuid.NewString()),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  PriorityNormal,
	}
}

// DeliveryFailure records a recipient a message could not be delivered to.
type DeliveryFailure struct {
	MessageID MessageID `json:"message_id"`
	From      TabID     `json:"from"`
	To        TabID     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastResult summarizes a broadcast's per-recipient outcome.
type BroadcastResult struct {
	Delivered []TabID
	Failures  []DeliveryFailure
}

// ValueVersion is one entry in a shared key's version history.
type ValueVersion struct {
	Value     any       `json:"value"`
	WrittenBy TabID     `json:"written_by"`
	Timestamp time.Time `json:"timestamp"`
}

// SharedContextInfo is a read-only view of a shared context.
type SharedContextInfo struct {
	ID           ContextID `json:"id"`
	Name         string    `json:"name"`
	Participants []TabID   `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConflictPolicy selects how concurrent shared-data writes are resolved.
type ConflictPolicy string

const (
	// ConflictLastWriterWins picks the candidate with the latest timestamp.
	ConflictLastWriterWins ConflictPolicy = "last-writer-wins"
	// ConflictManual holds the key at its pre-conflict value until resolved.
	ConflictManual ConflictPolicy = "manual"
)

// ConflictRecord is one resolved or pending conflict in a context's history.
type ConflictRecord struct {
	ContextID  ContextID      `json:"context_id"`
	Key        string         `json:"key"`
	Candidates []ValueVersion `json:"candidates"`
	Winner     *ValueVersion  `json:"winner,omitempty"`
	Policy     ConflictPolicy `json:"policy"`
	ResolvedAt time.Time      `json:"resolved_at,omitzero"`
	Manual     bool           `json:"manual,omitempty"`
}

// SessionType categorizes a collaboration session.
type SessionType string

const (
	// SessionTypeCoBrowse shares navigation state.
	SessionTypeCoBrowse SessionType = "co-browse"
	// SessionTypeCoEdit shares cursor and selection state.
	SessionTypeCoEdit SessionType = "co-edit"
	// SessionTypePresence shares only presence indicators.
	SessionTypePresence SessionType = "presence"
)

// SessionPolicy configures a collaboration session. ConflictPolicy is
// reserved: session state is participant-scoped, so writes never cross
// writers and no conflict resolution applies yet.
type SessionPolicy struct {
	RealTimeUpdates bool           `json:"real_time_updates"`
	ConflictPolicy  ConflictPolicy `json:"conflict_policy,omitempty"`
	MaxParticipants int            `json:"max_participants,omitempty"`
}

// Participant is one member of a collaboration session with its ephemeral
// state slice. A participant only ever overwrites its own state.
type Participant struct {
	TabID    TabID          `json:"tab_id"`
	State    map[string]any `json:"state,omitempty"`
	JoinedAt time.Time      `json:"joined_at"`
}

// CollaborationSession is a read-only view of a session.
type CollaborationSession struct {
	ID           SessionID     `json:"id"`
	Name         string        `json:"name"`
	Type         SessionType   `json:"type"`
	Policy       SessionPolicy `json:"policy"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// TabConnections describes a tab's live communication surface.
type TabConnections struct {
	TabID    TabID       `json:"tab_id"`
	Granted  []TabID     `json:"granted,omitempty"`
	Contexts []ContextID `json:"contexts,omitempty"`
	Sessions []SessionID `json:"sessions,omitempty"`
}
