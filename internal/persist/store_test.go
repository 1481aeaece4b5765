package persist

import (
	"testing"

	"pkt.systems/vela/schema"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	snapshot := schema.SpaceSnapshot{
		Name:     "work",
		Settings: schema.SpaceSettings{Theme: "outrun", AutoSuspend: true},
		Groups:   []schema.GroupExport{{Name: "docs", Color: "blue"}},
		Tabs: []schema.TabExport{
			{URL: "https://example.com", Title: "Example", GroupName: "docs", Metadata: schema.TabMetadata{Summary: "demo"}},
		},
	}
	if err := store.Save("work", snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := store.Load("work")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot present")
	}
	if loaded.Name != snapshot.Name || len(loaded.Tabs) != 1 || loaded.Tabs[0].Metadata.Summary != "demo" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	names, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != "work" {
		t.Fatalf("unexpected list: %v", names)
	}
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.Load("absent")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}
