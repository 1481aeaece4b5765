package comms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/schema"
)

type fakeRegistry struct {
	mu   sync.Mutex
	tabs []schema.TabID
}

func (r *fakeRegistry) TabExists(tabID schema.TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.tabs {
		if id == tabID {
			return true
		}
	}
	return false
}

func (r *fakeRegistry) LiveTabIDs() []schema.TabID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.TabID(nil), r.tabs...)
}

func (r *fakeRegistry) remove(tabID schema.TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.tabs {
		if id == tabID {
			r.tabs = append(r.tabs[:i], r.tabs[i+1:]...)
			return
		}
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []schema.BrowserEvent
}

func (r *eventRecorder) record(event schema.BrowserEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) count(eventType schema.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func newTestLayer(t *testing.T, cfg schema.CommsConfig, tabs ...schema.TabID) (*Layer, *fakeRegistry, *eventRecorder) {
	t.Helper()
	bus, err := eventbus.New(schema.BusConfig{QueueDepth: 64}, nil, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(bus.Close)
	recorder := &eventRecorder{}
	bus.OnPublished(recorder.record)
	registry := &fakeRegistry{tabs: tabs}
	layer, err := New(cfg, registry, nil, bus, nil)
	if err != nil {
		t.Fatalf("new layer: %v", err)
	}
	return layer, registry, recorder
}

func TestSendMessageIsDefaultDeny(t *testing.T) {
	layer, _, recorder := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	_, err := layer.SendMessage(ctx, "tab-a", "tab-b", "ping", nil)
	if !errors.Is(err, schema.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied without a grant, got %v", err)
	}
	if recorder.count(schema.EventMessageFailed) != 1 {
		t.Fatalf("expected a message_failed event")
	}

	if err := layer.GrantPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage); err != nil {
		t.Fatalf("grant: %v", err)
	}
	message, err := layer.SendMessage(ctx, "tab-a", "tab-b", "ping", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("send after grant: %v", err)
	}
	if message.From != "tab-a" || message.To != "tab-b" {
		t.Fatalf("message endpoints wrong: %+v", message)
	}
	if recorder.count(schema.EventMessage) != 1 {
		t.Fatalf("expected one delivered message event")
	}

	// Grants are directional; the reverse is still denied.
	if _, err := layer.SendMessage(ctx, "tab-b", "tab-a", "pong", nil); !errors.Is(err, schema.ErrPermissionDenied) {
		t.Fatalf("reverse direction should stay denied, got %v", err)
	}
}

func TestSendMessageToUnknownTab(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a")
	if _, err := layer.SendMessage(context.Background(), "tab-a", "tab-x", "ping", nil); !errors.Is(err, schema.ErrTabNotFound) {
		t.Fatalf("expected ErrTabNotFound, got %v", err)
	}
	if _, err := layer.SendMessage(context.Background(), "tab-x", "tab-a", "ping", nil); !errors.Is(err, schema.ErrTabNotFound) {
		t.Fatalf("expected ErrTabNotFound for unknown sender, got %v", err)
	}
}

func TestBroadcastPartialDelivery(t *testing.T) {
	layer, _, recorder := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b", "tab-c", "tab-d")
	ctx := context.Background()

	if err := layer.GrantPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := layer.GrantPermission(ctx, "tab-a", "tab-c", schema.CapabilityMessage); err != nil {
		t.Fatalf("grant: %v", err)
	}

	result, err := layer.BroadcastMessage(ctx, "tab-a", "tick", nil)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(result.Delivered) != 2 {
		t.Fatalf("delivered = %v, want tab-b and tab-c", result.Delivered)
	}
	if len(result.Failures) != 1 || result.Failures[0].To != "tab-d" {
		t.Fatalf("failures = %+v, want one for tab-d", result.Failures)
	}
	if recorder.count(schema.EventMessage) != 2 || recorder.count(schema.EventMessageFailed) != 1 {
		t.Fatalf("event counts wrong: %d delivered, %d failed",
			recorder.count(schema.EventMessage), recorder.count(schema.EventMessageFailed))
	}
}

func TestRevokePermission(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	if err := layer.GrantPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !layer.CheckPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage) {
		t.Fatalf("grant not effective")
	}
	if err := layer.RevokePermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if layer.CheckPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage) {
		t.Fatalf("revoked grant still effective")
	}
}

func TestTabDestroyedTearsDownCommsState(t *testing.T) {
	layer, registry, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	if err := layer.GrantPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage); err != nil {
		t.Fatalf("grant: %v", err)
	}
	info, err := layer.CreateSharedContext(ctx, "tab-a", "notes")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	if _, err := layer.JoinSharedContext(ctx, "tab-b", info.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	sess, err := layer.CreateCollaborationSession(ctx, "tab-a", "pairing", schema.SessionTypeCoBrowse, schema.SessionPolicy{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	registry.remove("tab-a")
	layer.removeTab("tab-a")

	if layer.CheckPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage) {
		t.Fatalf("destroyed tab's grant survived")
	}
	got, err := layer.GetSharedContext(info.ID)
	if err != nil {
		t.Fatalf("context should survive while tab-b remains: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants[0] != "tab-b" {
		t.Fatalf("participants = %v, want only tab-b", got.Participants)
	}
	if _, err := layer.GetCollaborationSession(sess.ID); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("empty session should be deleted, got %v", err)
	}
}

func TestContextGCRescueOnRejoin(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{SweepInterval: time.Minute}, "tab-a")
	ctx := context.Background()

	info, err := layer.CreateSharedContext(ctx, "tab-a", "scratch")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := layer.UpdateSharedData(ctx, "tab-a", info.ID, "draft", "v1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := layer.LeaveSharedContext(ctx, "tab-a", info.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	// An immediate sweep must not collect a freshly emptied context.
	layer.Sweep()
	if _, err := layer.GetSharedContext(info.ID); err != nil {
		t.Fatalf("context collected too early: %v", err)
	}

	// Rejoining rescues it; even an overdue sweep must keep it now.
	if _, err := layer.JoinSharedContext(ctx, "tab-a", info.ID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	layer.now = func() time.Time { return time.Now().Add(time.Hour) }
	layer.Sweep()
	version, ok, err := layer.GetSharedData("tab-a", info.ID, "draft")
	if err != nil || !ok {
		t.Fatalf("rescued context lost data: %v %v", ok, err)
	}
	if version.Value != "v1" {
		t.Fatalf("data = %v, want v1", version.Value)
	}
}

func TestContextCollectedAfterIdleWindow(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{SweepInterval: time.Minute}, "tab-a")
	ctx := context.Background()

	info, err := layer.CreateSharedContext(ctx, "tab-a", "scratch")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := layer.LeaveSharedContext(ctx, "tab-a", info.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	layer.now = func() time.Time { return time.Now().Add(time.Hour) }
	layer.Sweep()
	if _, err := layer.GetSharedContext(info.ID); !errors.Is(err, schema.ErrContextNotFound) {
		t.Fatalf("idle empty context should be collected, got %v", err)
	}
}

func TestConnectionsSurface(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b", "tab-c")
	ctx := context.Background()

	if err := layer.GrantPermission(ctx, "tab-a", "tab-b", schema.CapabilityMessage); err != nil {
		t.Fatalf("grant: %v", err)
	}
	info, err := layer.CreateSharedContext(ctx, "tab-a", "notes")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	if _, err := layer.JoinSharedContext(ctx, "tab-c", info.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	connected := layer.GetConnectedTabs("tab-a")
	if len(connected) != 2 {
		t.Fatalf("connected = %v, want tab-b and tab-c", connected)
	}
	connections := layer.GetTabConnections("tab-a")
	if len(connections.Granted) != 1 || connections.Granted[0] != "tab-b" {
		t.Fatalf("granted = %v", connections.Granted)
	}
	if len(connections.Contexts) != 1 || connections.Contexts[0] != info.ID {
		t.Fatalf("contexts = %v", connections.Contexts)
	}
	if len(connections.Sessions) != 0 {
		t.Fatalf("sessions = %v, want none", connections.Sessions)
	}
}
