package schema

// TabRestorePoint is the minimal state kept while a tab is suspended,
// sufficient to restore it without the engine.
type TabRestorePoint struct {
	URL       string         `json:"url"`
	Title     string         `json:"title,omitempty"`
	ScrollY   int            `json:"scroll_y,omitempty"`
	FormState map[string]any `json:"form_state,omitempty"`
	Metadata  TabMetadata    `json:"metadata"`
}

// TabStateRecord is one entry in a tab's bounded state history.
type TabStateRecord struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Status    TabStatus `json:"status"`
	Timestamp int64     `json:"timestamp"`
}

// TabExport is one tab entry in a space snapshot. It carries the full
// metadata record so exports round-trip losslessly.
type TabExport struct {
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	Favicon     string      `json:"favicon,omitempty"`
	GroupName   string      `json:"group_name,omitempty"`
	Pinned      bool        `json:"pinned,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Metadata    TabMetadata `json:"metadata"`
	MemoryBytes int64       `json:"memory_bytes,omitempty"`
}

// GroupExport is one group entry in a space snapshot.
type GroupExport struct {
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// SpaceSnapshot is the canonical interchange document for a space.
// Imports re-assign fresh ids, so the document carries none.
type SpaceSnapshot struct {
	Name     string        `json:"name"`
	Settings SpaceSettings `json:"settings"`
	Groups   []GroupExport `json:"groups"`
	Tabs     []TabExport   `json:"tabs"`
}
