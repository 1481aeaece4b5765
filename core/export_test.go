package core

import (
	"context"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/vela/internal/persist"
	"pkt.systems/vela/schema"
)

func TestExportImportRoundTripMintsFreshIDs(t *testing.T) {
	svc, recorder, _ := newTestService(t)
	ctx := context.Background()

	spaceID := svc.ActiveSpace().ID
	grp, err := svc.CreateGroup(ctx, spaceID, "research", "blue")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	grouped, err := svc.CreateTab(ctx, CreateTabRequest{URL: "grouped.example", GroupID: grp.ID, Pinned: true})
	if err != nil {
		t.Fatalf("create tab: %v", err)
	}
	if _, err := svc.SetTabTags(ctx, grouped.ID, []string{"paper"}); err != nil {
		t.Fatalf("tags: %v", err)
	}
	loose, err := svc.CreateTab(ctx, CreateTabRequest{URL: "loose.example", Background: true})
	if err != nil {
		t.Fatalf("create tab: %v", err)
	}
	svc.mu.Lock()
	svc.tabs[grouped.ID].Favicon = "https://grouped.example/favicon.ico"
	svc.tabs[grouped.ID].MemoryBytes = 123 << 20
	svc.tabs[loose.ID].MemoryBytes = 0
	svc.mu.Unlock()

	snapshot, err := svc.ExportSpace(spaceID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snapshot.Tabs) != 2 || len(snapshot.Groups) != 1 {
		t.Fatalf("snapshot shape wrong: %d tabs, %d groups", len(snapshot.Tabs), len(snapshot.Groups))
	}
	if snapshot.Tabs[0].Favicon != "https://grouped.example/favicon.ico" || snapshot.Tabs[0].MemoryBytes != 123<<20 {
		t.Fatalf("export dropped favicon or memory estimate: %+v", snapshot.Tabs[0])
	}

	imported, err := svc.ImportSpace(ctx, snapshot)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.ID == spaceID {
		t.Fatalf("import must mint a fresh space id")
	}
	tabs, err := svc.ListTabs(imported.ID)
	if err != nil {
		t.Fatalf("list imported: %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("imported %d tabs, want 2", len(tabs))
	}
	for _, tab := range tabs {
		if tab.ID == grouped.ID || tab.ID == loose.ID {
			t.Fatalf("imported tab reused id %s", tab.ID)
		}
		if !tab.Suspended {
			t.Fatalf("imported tabs start suspended")
		}
		if tab.SpaceID != imported.ID {
			t.Fatalf("imported tab in wrong space")
		}
		switch tab.URL {
		case "https://grouped.example":
			if tab.Favicon != "https://grouped.example/favicon.ico" || tab.MemoryBytes != 123<<20 {
				t.Fatalf("import lost favicon or memory estimate: %+v", tab)
			}
		case "https://loose.example":
			if tab.MemoryBytes != schema.DefaultTabMemoryBytes {
				t.Fatalf("zero memory estimate should fall back to the default, got %d", tab.MemoryBytes)
			}
		}
	}
	groups, err := svc.ListGroups(imported.ID)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 1 || groups[0].ID == grp.ID {
		t.Fatalf("imported group should be fresh, got %+v", groups)
	}
	if recorder.count(schema.EventSpaceImported) != 1 {
		t.Fatalf("expected a space.imported event")
	}
	if recorder.count(schema.EventTabCreated) != 4 {
		t.Fatalf("expected tab.created for each original and imported tab")
	}
}

func TestGroupOrderIsDeterministic(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	spaceID := svc.ActiveSpace().ID
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := svc.CreateGroup(ctx, spaceID, name, ""); err != nil {
			t.Fatalf("create group: %v", err)
		}
	}
	want := []string{"alpha", "mid", "zeta"}

	groups, err := svc.ListGroups(spaceID)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	for i, name := range want {
		if groups[i].Name != name {
			t.Fatalf("groups not ordered by name: %+v", groups)
		}
	}
	snapshot, err := svc.ExportSpace(spaceID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for i, name := range want {
		if snapshot.Groups[i].Name != name {
			t.Fatalf("exported groups not ordered by name: %+v", snapshot.Groups)
		}
	}
}

func TestSaveLoadSpaceThroughStore(t *testing.T) {
	ctx := context.Background()
	store, err := persist.NewStore(t.TempDir(), nil, pslog.Ctx(ctx))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc, _, _ := newTestService(t)
	svc.store = store

	spaceID := svc.ActiveSpace().ID
	if _, err := svc.CreateTab(ctx, CreateTabRequest{URL: "example.com"}); err != nil {
		t.Fatalf("create tab: %v", err)
	}
	if err := svc.SaveSpace(ctx, spaceID); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := svc.LoadSpace(ctx, svc.ActiveSpace().Name)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tabs, err := svc.ListTabs(loaded.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tabs) != 1 || tabs[0].URL != "https://example.com" {
		t.Fatalf("round trip lost tabs: %+v", tabs)
	}

	if _, err := svc.LoadSpace(ctx, "nonexistent"); err == nil {
		t.Fatalf("expected error for missing snapshot")
	}
}
