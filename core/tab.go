package core

import (
	"time"

	"pkt.systems/vela/schema"
)

// tab tracks the live state of a single browsing tab.
type tab struct {
	ID          schema.TabID
	URL         string
	Title       string
	Favicon     string
	Status      schema.TabStatus
	SpaceID     schema.SpaceID
	GroupID     schema.GroupID
	Suspended   bool
	Pinned      bool
	LastActive  time.Time
	MemoryBytes int64
	AccessCount int64
	Tags        []string
	Metadata    schema.TabMetadata
	Engine      EngineHandle
	Restore     *schema.TabRestorePoint
	history     *stateHistory
}

// Snapshot returns a transport-friendly view of the tab.
func (t *tab) Snapshot(active bool) schema.Tab {
	return schema.Tab{
		ID:          t.ID,
		URL:         t.URL,
		Title:       t.Title,
		Favicon:     t.Favicon,
		Status:      t.Status,
		SpaceID:     t.SpaceID,
		GroupID:     t.GroupID,
		Suspended:   t.Suspended,
		Pinned:      t.Pinned,
		LastActive:  t.LastActive.UnixMilli(),
		MemoryBytes: t.MemoryBytes,
		Tags:        append([]string(nil), t.Tags...),
		Metadata:    t.Metadata,
		Active:      active,
	}
}

func (t *tab) record(now time.Time) {
	if t.history == nil {
		return
	}
	t.history.Append(schema.TabStateRecord{
		URL:       t.URL,
		Title:     t.Title,
		Status:    t.Status,
		Timestamp: now.UnixMilli(),
	})
}

// group is a named cluster of tabs within one space.
type group struct {
	ID        schema.GroupID
	SpaceID   schema.SpaceID
	Name      string
	Color     string
	Collapsed bool
}

func (g *group) Snapshot() schema.Group {
	return schema.Group{
		ID:        g.ID,
		SpaceID:   g.SpaceID,
		Name:      g.Name,
		Color:     g.Color,
		Collapsed: g.Collapsed,
	}
}

// space is a top-level workspace holding groups and tabs.
type space struct {
	ID        schema.SpaceID
	Name      string
	Settings  schema.SpaceSettings
	CreatedAt time.Time
	order     []schema.TabID
	activeTab schema.TabID
}

func (s *space) Snapshot(active bool) schema.Space {
	return schema.Space{
		ID:        s.ID,
		Name:      s.Name,
		Settings:  s.Settings,
		CreatedAt: s.CreatedAt.UnixMilli(),
		Active:    active,
	}
}

func removeTabID(order []schema.TabID, id schema.TabID) []schema.TabID {
	for i, current := range order {
		if current == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// stateHistory is a bounded log of past tab states.
type stateHistory struct {
	entries []schema.TabStateRecord
	max     int
}

func newStateHistory(max int) *stateHistory {
	if max <= 0 {
		max = schema.DefaultHistoryMax
	}
	return &stateHistory{max: max}
}

func (h *stateHistory) Append(record schema.TabStateRecord) {
	if h == nil {
		return
	}
	if n := len(h.entries); n > 0 {
		last := h.entries[n-1]
		if last.URL == record.URL && last.Status == record.Status && last.Title == record.Title {
			return
		}
	}
	h.entries = append(h.entries, record)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

func (h *stateHistory) Entries() []schema.TabStateRecord {
	if h == nil {
		return nil
	}
	return append([]schema.TabStateRecord(nil), h.entries...)
}
