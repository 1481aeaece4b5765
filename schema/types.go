package schema

// TabID identifies a browsing tab.
type TabID string

// GroupID identifies a tab group within a space.
type GroupID string

// SpaceID identifies a workspace.
type SpaceID string

// ContextID identifies a shared cross-tab context.
type ContextID string

// SessionID identifies a collaboration session.
type SessionID string

// MessageID identifies a cross-tab message.
type MessageID string

// EventID identifies a published browser event.
type EventID string

// SubscriptionID identifies an event bus subscription.
type SubscriptionID string

// Capability names a permission that can be granted between tabs.
type Capability string

// CapabilityMessage gates direct and broadcast messaging.
const CapabilityMessage Capability = "message"

// ThemeName identifies a UI theme for a space.
type ThemeName string

// DefaultTheme is used when a space does not set one.
const DefaultTheme ThemeName = "outrun"

// LayoutName identifies a tab layout mode for a space.
type LayoutName string

const (
	// LayoutGrid arranges tabs in a grid.
	LayoutGrid LayoutName = "grid"
	// LayoutStack arranges tabs in a vertical stack.
	LayoutStack LayoutName = "stack"
)

// TabStatus describes the lifecycle state of a tab.
type TabStatus string

const (
	// TabStatusLoading indicates navigation is in flight.
	TabStatusLoading TabStatus = "loading"
	// TabStatusComplete indicates the tab finished loading.
	TabStatusComplete TabStatus = "complete"
	// TabStatusError indicates the last navigation failed.
	TabStatusError TabStatus = "error"
	// TabStatusSuspended indicates the tab's resources were released.
	TabStatusSuspended TabStatus = "suspended"
)

// TabMetadata is the free-form enrichment record carried by a tab.
type TabMetadata struct {
	Description    string   `json:"description,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Topics         []string `json:"topics,omitempty"`
	Sentiment      string   `json:"sentiment,omitempty"`
	SecurityRating float64  `json:"security_rating,omitempty"`
	PrivacyScore   float64  `json:"privacy_score,omitempty"`
}

// Tab is a read-only view of tab state for transports and consumers.
type Tab struct {
	ID          TabID       `json:"id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Favicon     string      `json:"favicon,omitempty"`
	Status      TabStatus   `json:"status"`
	SpaceID     SpaceID     `json:"space_id"`
	GroupID     GroupID     `json:"group_id,omitempty"`
	Suspended   bool        `json:"suspended,omitempty"`
	Pinned      bool        `json:"pinned,omitempty"`
	LastActive  int64       `json:"last_active"`
	MemoryBytes int64       `json:"memory_bytes"`
	Tags        []string    `json:"tags,omitempty"`
	Metadata    TabMetadata `json:"metadata"`
	Active      bool        `json:"-"`
}

// Group is a read-only view of a tab group.
type Group struct {
	ID        GroupID `json:"id"`
	SpaceID   SpaceID `json:"space_id"`
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	Collapsed bool    `json:"collapsed,omitempty"`
}

// SpaceSettings holds space-scoped preferences.
type SpaceSettings struct {
	Theme       ThemeName  `json:"theme,omitempty"`
	Layout      LayoutName `json:"layout,omitempty"`
	AutoSuspend bool       `json:"auto_suspend"`
	AIEnabled   bool       `json:"ai_enabled"`
}

// Space is a read-only view of a workspace.
type Space struct {
	ID        SpaceID       `json:"id"`
	Name      string        `json:"name"`
	Settings  SpaceSettings `json:"settings"`
	CreatedAt int64         `json:"created_at"`
	Active    bool          `json:"-"`
}
