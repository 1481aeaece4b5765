package comms

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/vela/schema"
)

func TestSessionParticipantLimit(t *testing.T) {
	layer, _, recorder := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b", "tab-c")
	ctx := context.Background()

	sess, err := layer.CreateCollaborationSession(ctx, "tab-a", "review", schema.SessionTypeCoEdit, schema.SessionPolicy{
		MaxParticipants: 2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.Participants) != 1 || sess.Participants[0].TabID != "tab-a" {
		t.Fatalf("creator not auto-joined: %+v", sess.Participants)
	}
	if _, err := layer.JoinCollaborationSession(ctx, "tab-b", sess.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := layer.JoinCollaborationSession(ctx, "tab-c", sess.ID); !errors.Is(err, schema.ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
	// Rejoining an existing participant is not a capacity violation.
	if _, err := layer.JoinCollaborationSession(ctx, "tab-b", sess.ID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if recorder.count(schema.EventSessionCreated) != 1 {
		t.Fatalf("expected one session_created event")
	}
}

func TestCollaborationStateIsParticipantScoped(t *testing.T) {
	layer, _, recorder := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	sess, err := layer.CreateCollaborationSession(ctx, "tab-a", "pairing", schema.SessionTypeCoBrowse, schema.SessionPolicy{
		RealTimeUpdates: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := layer.JoinCollaborationSession(ctx, "tab-b", sess.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := layer.UpdateCollaborationState(ctx, "tab-a", sess.ID, map[string]any{"cursor": 10}); err != nil {
		t.Fatalf("update a: %v", err)
	}
	if _, err := layer.UpdateCollaborationState(ctx, "tab-b", sess.ID, map[string]any{"cursor": 99}); err != nil {
		t.Fatalf("update b: %v", err)
	}
	snapshot, err := layer.UpdateCollaborationState(ctx, "tab-a", sess.ID, map[string]any{"cursor": 11})
	if err != nil {
		t.Fatalf("update a again: %v", err)
	}

	states := make(map[schema.TabID]map[string]any)
	for _, participant := range snapshot.Participants {
		states[participant.TabID] = participant.State
	}
	if states["tab-a"]["cursor"] != 11 {
		t.Fatalf("tab-a state = %v, want last write 11", states["tab-a"]["cursor"])
	}
	if states["tab-b"]["cursor"] != 99 {
		t.Fatalf("tab-b state clobbered: %v", states["tab-b"]["cursor"])
	}
	if recorder.count(schema.EventSessionUpdated) < 3 {
		t.Fatalf("real-time session should emit per update")
	}
}

func TestLeaveLastParticipantDeletesSession(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a")
	ctx := context.Background()

	sess, err := layer.CreateCollaborationSession(ctx, "tab-a", "solo", schema.SessionTypePresence, schema.SessionPolicy{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := layer.LeaveCollaborationSession(ctx, "tab-a", sess.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := layer.GetCollaborationSession(sess.ID); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if err := layer.LeaveCollaborationSession(ctx, "tab-a", sess.ID); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateStateRequiresParticipation(t *testing.T) {
	layer, _, _ := newTestLayer(t, schema.CommsConfig{}, "tab-a", "tab-b")
	ctx := context.Background()

	sess, err := layer.CreateCollaborationSession(ctx, "tab-a", "review", schema.SessionTypeCoEdit, schema.SessionPolicy{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := layer.UpdateCollaborationState(ctx, "tab-b", sess.ID, map[string]any{"x": 1}); !errors.Is(err, schema.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := layer.CreateCollaborationSession(ctx, "tab-a", "bad", "teleport", schema.SessionPolicy{}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown type, got %v", err)
	}
}
