package core

import (
	"context"
	"testing"
	"time"

	"pkt.systems/vela/schema"
)

func TestTabStateViewFoldsLifecycle(t *testing.T) {
	view := NewTabStateView()
	created := schema.NewEvent(schema.EventTabCreated, "registry", map[string]any{
		"tab":   "tab-1",
		"space": "space-1",
		"url":   "https://example.com",
	})
	if err := view.Process(created); err != nil {
		t.Fatalf("process: %v", err)
	}
	loaded := schema.NewEvent(schema.EventTabLoaded, "registry", map[string]any{"tab": "tab-1"})
	loaded.Timestamp = created.Timestamp.Add(time.Second)
	if err := view.Process(loaded); err != nil {
		t.Fatalf("process: %v", err)
	}

	entry, ok := view.Entry("tab-1")
	if !ok {
		t.Fatalf("expected an entry for tab-1")
	}
	if entry.Last != schema.EventTabLoaded || entry.URL != "https://example.com" || entry.Space != "space-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Gone {
		t.Fatalf("live tab marked gone")
	}
	if view.Count(schema.EventTabCreated) != 1 || view.Count(schema.EventTabLoaded) != 1 {
		t.Fatalf("event totals wrong")
	}

	destroyed := schema.NewEvent(schema.EventTabDestroyed, "registry", map[string]any{"tab": "tab-1"})
	if err := view.Process(destroyed); err != nil {
		t.Fatalf("process: %v", err)
	}
	entry, _ = view.Entry("tab-1")
	if !entry.Gone {
		t.Fatalf("destroyed tab not marked gone")
	}
}

func TestTabStateViewTracksRegistryEvents(t *testing.T) {
	svc, _, bus := newTestService(t)
	view := NewTabStateView()
	view.Register(bus)

	tab, err := svc.CreateTab(context.Background(), CreateTabRequest{URL: "example.com"})
	if err != nil {
		t.Fatalf("create tab: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry, ok := view.Entry(tab.ID); ok && entry.URL != "" {
			if entry.Space != tab.SpaceID {
				t.Fatalf("view recorded wrong space: %+v", entry)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("view never observed the created tab")
}
