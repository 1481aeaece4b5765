package comms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pkt.systems/vela/schema"
)

// session is a live collaboration session. Each participant owns a state
// slice only it may overwrite; updates within a slice are last-writer-wins.
type session struct {
	id           schema.SessionID
	name         string
	typ          schema.SessionType
	policy       schema.SessionPolicy
	participants map[schema.TabID]*participantState
	order        []schema.TabID
	createdAt    time.Time
}

type participantState struct {
	joinedAt time.Time
	state    map[string]any
}

func (s *session) remove(tabID schema.TabID) {
	delete(s.participants, tabID)
	for i, current := range s.order {
		if current == tabID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *session) snapshot() schema.CollaborationSession {
	participants := make([]schema.Participant, 0, len(s.order))
	for _, id := range s.order {
		ps := s.participants[id]
		if ps == nil {
			continue
		}
		state := make(map[string]any, len(ps.state))
		for key, value := range ps.state {
			state[key] = value
		}
		participants = append(participants, schema.Participant{
			TabID:    id,
			State:    state,
			JoinedAt: ps.joinedAt,
		})
	}
	return schema.CollaborationSession{
		ID:           s.id,
		Name:         s.name,
		Type:         s.typ,
		Policy:       s.policy,
		Participants: participants,
		CreatedAt:    s.createdAt,
	}
}

// CreateCollaborationSession starts a session with the creator as its first
// participant.
func (l *Layer) CreateCollaborationSession(ctx context.Context, creator schema.TabID, name string, sessionType schema.SessionType, policy schema.SessionPolicy) (schema.CollaborationSession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schema.CollaborationSession{}, fmt.Errorf("%w: session name is empty", schema.ErrInvalidRequest)
	}
	switch sessionType {
	case schema.SessionTypeCoBrowse, schema.SessionTypeCoEdit, schema.SessionTypePresence:
	default:
		return schema.CollaborationSession{}, fmt.Errorf("%w: unknown session type %q", schema.ErrInvalidRequest, sessionType)
	}
	if policy.MaxParticipants < 0 {
		return schema.CollaborationSession{}, fmt.Errorf("%w: negative participant limit", schema.ErrInvalidRequest)
	}
	if !l.registry.TabExists(creator) {
		return schema.CollaborationSession{}, fmt.Errorf("creator %s: %w", creator, schema.ErrTabNotFound)
	}
	now := l.now()
	sess := &session{
		id:     schema.SessionID(uuid.NewString()),
		name:   name,
		typ:    sessionType,
		policy: policy,
		participants: map[schema.TabID]*participantState{
			creator: {joinedAt: now, state: make(map[string]any)},
		},
		order:     []schema.TabID{creator},
		createdAt: now,
	}
	l.mu.Lock()
	l.sessions[sess.id] = sess
	snapshot := sess.snapshot()
	l.mu.Unlock()

	l.emit(schema.NewEvent(schema.EventSessionCreated, eventSource, map[string]any{
		"session": string(sess.id),
		"name":    name,
		"type":    string(sessionType),
		"creator": string(creator),
	}))
	l.log.Info("collaboration session created", "session", sess.id, "name", name, "type", sessionType)
	return snapshot, nil
}

// JoinCollaborationSession adds a participant, enforcing the session's
// participant limit.
func (l *Layer) JoinCollaborationSession(ctx context.Context, tabID schema.TabID, sessionID schema.SessionID) (schema.CollaborationSession, error) {
	if !l.registry.TabExists(tabID) {
		return schema.CollaborationSession{}, fmt.Errorf("tab %s: %w", tabID, schema.ErrTabNotFound)
	}
	l.mu.Lock()
	sess := l.sessions[sessionID]
	if sess == nil {
		l.mu.Unlock()
		return schema.CollaborationSession{}, schema.ErrSessionNotFound
	}
	if _, ok := sess.participants[tabID]; !ok {
		if sess.policy.MaxParticipants > 0 && len(sess.participants) >= sess.policy.MaxParticipants {
			l.mu.Unlock()
			return schema.CollaborationSession{}, schema.ErrSessionFull
		}
		sess.participants[tabID] = &participantState{joinedAt: l.now(), state: make(map[string]any)}
		sess.order = append(sess.order, tabID)
	}
	snapshot := sess.snapshot()
	l.mu.Unlock()

	l.emitSessionUpdated(sessionID, tabID, "joined")
	l.log.Debug("collaboration session joined", "session", sessionID, "tab", tabID)
	return snapshot, nil
}

// LeaveCollaborationSession removes a participant. A session with no
// participants left is deleted.
func (l *Layer) LeaveCollaborationSession(ctx context.Context, tabID schema.TabID, sessionID schema.SessionID) error {
	l.mu.Lock()
	sess := l.sessions[sessionID]
	if sess == nil {
		l.mu.Unlock()
		return schema.ErrSessionNotFound
	}
	if _, ok := sess.participants[tabID]; !ok {
		l.mu.Unlock()
		return schema.ErrNotParticipant
	}
	sess.remove(tabID)
	if len(sess.participants) == 0 {
		delete(l.sessions, sessionID)
	}
	l.mu.Unlock()

	l.emitSessionUpdated(sessionID, tabID, "left")
	l.log.Debug("collaboration session left", "session", sessionID, "tab", tabID)
	return nil
}

// UpdateCollaborationState merges updates into the participant's own state
// slice. Keys overwrite last-writer-wins within that slice; other
// participants' slices are untouched.
func (l *Layer) UpdateCollaborationState(ctx context.Context, tabID schema.TabID, sessionID schema.SessionID, updates map[string]any) (schema.CollaborationSession, error) {
	l.mu.Lock()
	sess := l.sessions[sessionID]
	if sess == nil {
		l.mu.Unlock()
		return schema.CollaborationSession{}, schema.ErrSessionNotFound
	}
	ps := sess.participants[tabID]
	if ps == nil {
		l.mu.Unlock()
		return schema.CollaborationSession{}, schema.ErrNotParticipant
	}
	for key, value := range updates {
		ps.state[key] = value
	}
	realTime := sess.policy.RealTimeUpdates
	snapshot := sess.snapshot()
	l.mu.Unlock()

	if realTime {
		l.emitSessionUpdated(sessionID, tabID, "state")
	}
	return snapshot, nil
}

// GetCollaborationSession returns a read-only view of the session.
func (l *Layer) GetCollaborationSession(sessionID schema.SessionID) (schema.CollaborationSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess := l.sessions[sessionID]
	if sess == nil {
		return schema.CollaborationSession{}, schema.ErrSessionNotFound
	}
	return sess.snapshot(), nil
}

func (l *Layer) emitSessionUpdated(sessionID schema.SessionID, tabID schema.TabID, change string) {
	l.emit(schema.NewEvent(schema.EventSessionUpdated, eventSource, map[string]any{
		"session": string(sessionID),
		"tab":     string(tabID),
		"change":  change,
	}))
}
