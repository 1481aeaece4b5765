package comms

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/vela/schema"
)

func setupConflict(t *testing.T, policy schema.ConflictPolicy, manualTimeout time.Duration) (*Layer, schema.ContextID, time.Time) {
	t.Helper()
	layer, _, _ := newTestLayer(t, schema.CommsConfig{
		ConflictPolicy: policy,
		CoalesceWindow: 2 * time.Second,
		ManualTimeout:  manualTimeout,
	}, "tab-a", "tab-b")
	ctx := context.Background()

	info, err := layer.CreateSharedContext(ctx, "tab-a", "doc")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	if _, err := layer.JoinSharedContext(ctx, "tab-b", info.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	base := time.Now()
	layer.now = func() time.Time { return base }
	if err := layer.UpdateSharedData(ctx, "tab-a", info.ID, "title", "from-a"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	layer.now = func() time.Time { return base.Add(time.Second) }
	if err := layer.UpdateSharedData(ctx, "tab-b", info.ID, "title", "from-b"); err != nil {
		t.Fatalf("second write: %v", err)
	}
	return layer, info.ID, base
}

func TestConflictLastWriterWins(t *testing.T) {
	layer, contextID, _ := setupConflict(t, schema.ConflictLastWriterWins, 0)

	version, ok, err := layer.GetSharedData("tab-b", contextID, "title")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if version.Value != "from-b" || version.WrittenBy != "tab-b" {
		t.Fatalf("later write should win, got %+v", version)
	}
	history, err := layer.GetConflictHistory(contextID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one conflict record, got %d", len(history))
	}
	record := history[0]
	if record.Policy != schema.ConflictLastWriterWins || record.Winner == nil {
		t.Fatalf("record should be auto-resolved: %+v", record)
	}
	if len(record.Candidates) != 2 {
		t.Fatalf("both writes should be recorded as candidates")
	}
	if record.Winner.Value != "from-b" {
		t.Fatalf("winner = %v", record.Winner.Value)
	}
}

func TestWritesOutsideCoalesceWindowAreNotConflicts(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{CoalesceWindow: 2 * time.Second}, "tab-a", "tab-b")
	ctx := context.Background()

	info, err := layer.CreateSharedContext(ctx, "tab-a", "doc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := layer.JoinSharedContext(ctx, "tab-b", info.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	base := time.Now()
	layer.now = func() time.Time { return base }
	if err := layer.UpdateSharedData(ctx, "tab-a", info.ID, "title", "first"); err != nil {
		t.Fatalf("write: %v", err)
	}
	layer.now = func() time.Time { return base.Add(10 * time.Second) }
	if err := layer.UpdateSharedData(ctx, "tab-b", info.ID, "title", "second"); err != nil {
		t.Fatalf("write: %v", err)
	}

	history, err := layer.GetConflictHistory(info.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("sequential writes must not conflict: %+v", history)
	}
	versions, err := layer.GetSharedDataHistory("tab-a", info.ID, "title")
	if err != nil {
		t.Fatalf("data history: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected two versions, got %d", len(versions))
	}
}

func TestManualConflictHoldsPreConflictValue(t *testing.T) {
	layer, contextID, _ := setupConflict(t, schema.ConflictManual, 0)
	ctx := context.Background()

	version, ok, err := layer.GetSharedData("tab-a", contextID, "title")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if version.Value != "from-a" {
		t.Fatalf("pending manual conflict must hold pre-conflict value, got %v", version.Value)
	}

	if err := layer.ResolveConflict(ctx, contextID, "title", "tab-b"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	version, _, err = layer.GetSharedData("tab-a", contextID, "title")
	if err != nil {
		t.Fatalf("get after resolve: %v", err)
	}
	if version.Value != "from-b" {
		t.Fatalf("chosen candidate not applied, got %v", version.Value)
	}
	history, err := layer.GetConflictHistory(contextID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || !history[0].Manual || history[0].ResolvedAt.IsZero() {
		t.Fatalf("manual resolution not recorded: %+v", history)
	}

	if err := layer.ResolveConflict(ctx, contextID, "title", "tab-b"); !errors.Is(err, schema.ErrNoPendingConflict) {
		t.Fatalf("expected ErrNoPendingConflict after resolution, got %v", err)
	}
}

func TestManualConflictTimesOutToLastWriterWins(t *testing.T) {
	layer, contextID, base := setupConflict(t, schema.ConflictManual, 30*time.Second)

	// Before the timeout the sweep leaves the conflict pending.
	layer.now = func() time.Time { return base.Add(10 * time.Second) }
	layer.Sweep()
	version, _, err := layer.GetSharedData("tab-a", contextID, "title")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version.Value != "from-a" {
		t.Fatalf("conflict resolved before timeout, got %v", version.Value)
	}

	layer.now = func() time.Time { return base.Add(2 * time.Minute) }
	layer.Sweep()
	version, _, err = layer.GetSharedData("tab-a", contextID, "title")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version.Value != "from-b" {
		t.Fatalf("timeout should apply last-writer-wins, got %v", version.Value)
	}
	history, err := layer.GetConflictHistory(contextID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Policy != schema.ConflictLastWriterWins {
		t.Fatalf("timeout resolution not recorded as last-writer-wins: %+v", history)
	}
}

func TestGetSharedDataAllReturnsFullMapping(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	info, err := layer.CreateSharedContext(ctx, "tab-a", "doc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := layer.UpdateSharedData(ctx, "tab-a", info.ID, "title", "draft"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := layer.UpdateSharedData(ctx, "tab-a", info.ID, "cursor", 42); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := layer.GetSharedDataAll("tab-a", info.ID)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected both keys, got %d", len(data))
	}
	if data["title"].Value != "draft" || data["cursor"].Value != 42 {
		t.Fatalf("unexpected mapping: %+v", data)
	}
	if data["title"].WrittenBy != "tab-a" {
		t.Fatalf("version attribution lost: %+v", data["title"])
	}

	// The returned map is a copy; mutating it must not touch the context.
	data["title"] = schema.ValueVersion{Value: "tampered"}
	version, _, err := layer.GetSharedData("tab-a", info.ID, "title")
	if err != nil || version.Value != "draft" {
		t.Fatalf("context data mutated through returned map: %v %v", version.Value, err)
	}

	if _, err := layer.GetSharedDataAll("tab-b", info.ID); !errors.Is(err, schema.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := layer.GetSharedDataAll("tab-a", "ctx-missing"); !errors.Is(err, schema.ErrContextNotFound) {
		t.Fatalf("expected ErrContextNotFound, got %v", err)
	}
}

func TestUpdateSharedDataRequiresParticipation(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	info, err := layer.CreateSharedContext(ctx, "tab-a", "doc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := layer.UpdateSharedData(ctx, "tab-b", info.ID, "k", "v"); !errors.Is(err, schema.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, _, err := layer.GetSharedData("tab-b", info.ID, "k"); !errors.Is(err, schema.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant on read, got %v", err)
	}
	if err := layer.UpdateSharedData(ctx, "tab-a", "ctx-missing", "k", "v"); !errors.Is(err, schema.ErrContextNotFound) {
		t.Fatalf("expected ErrContextNotFound, got %v", err)
	}
}
