package core

import (
	"sync"
	"time"

	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/schema"
)

// TabStateView is a stateful event processor that folds tab lifecycle events
// into a queryable last-known-state view, independent of the registry's own
// locks. Register it for each tab event type it should fold.
type TabStateView struct {
	mu    sync.Mutex
	tabs  map[schema.TabID]TabViewEntry
	total map[schema.EventType]int
}

// TabViewEntry is the last observed state of one tab.
type TabViewEntry struct {
	URL     string
	Space   schema.SpaceID
	Last    schema.EventType
	Updated time.Time
	Gone    bool
}

// NewTabStateView builds an empty view.
func NewTabStateView() *TabStateView {
	return &TabStateView{
		tabs:  make(map[schema.TabID]TabViewEntry),
		total: make(map[schema.EventType]int),
	}
}

// Register attaches the view to the bus for all tab lifecycle event types.
func (v *TabStateView) Register(bus *eventbus.Bus) {
	for _, eventType := range []schema.EventType{
		schema.EventTabCreated,
		schema.EventTabNavigated,
		schema.EventTabLoaded,
		schema.EventTabError,
		schema.EventTabSuspended,
		schema.EventTabRestored,
		schema.EventTabMoved,
		schema.EventTabDestroyed,
	} {
		bus.RegisterProcessor(eventType, v)
	}
}

// Process folds one event into the view.
func (v *TabStateView) Process(event schema.BrowserEvent) error {
	id, _ := event.Payload["tab"].(string)
	if id == "" {
		return nil
	}
	tabID := schema.TabID(id)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total[event.Type]++
	entry := v.tabs[tabID]
	entry.Last = event.Type
	entry.Updated = event.Timestamp
	if url, ok := event.Payload["url"].(string); ok && url != "" {
		entry.URL = url
	}
	if sp, ok := event.Payload["space"].(string); ok && sp != "" {
		entry.Space = schema.SpaceID(sp)
	}
	entry.Gone = event.Type == schema.EventTabDestroyed
	v.tabs[tabID] = entry
	return nil
}

// Entry returns the last observed state for the tab.
func (v *TabStateView) Entry(tabID schema.TabID) (TabViewEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.tabs[tabID]
	return entry, ok
}

// Count returns how many events of the type the view has folded.
func (v *TabStateView) Count(eventType schema.EventType) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total[eventType]
}
