package comms

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pkt.systems/vela/schema"
)

// sharedContext is a named shared data area with per-key version history.
type sharedContext struct {
	id         schema.ContextID
	name       string
	owner      schema.TabID
	members    map[schema.TabID]time.Time
	data       map[string]schema.ValueVersion
	history    map[string][]schema.ValueVersion
	conflicts  []schema.ConflictRecord
	pending    map[string]*pendingConflict
	createdAt  time.Time
	emptySince time.Time
}

// pendingConflict holds a manually resolvable conflict. The key stays at its
// pre-conflict value until resolution or timeout.
type pendingConflict struct {
	base       *schema.ValueVersion
	candidates []schema.ValueVersion
	since      time.Time
}

func (sc *sharedContext) info() schema.SharedContextInfo {
	participants := make([]schema.TabID, 0, len(sc.members))
	for id := range sc.members {
		participants = append(participants, id)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
	return schema.SharedContextInfo{
		ID:           sc.id,
		Name:         sc.name,
		Participants: participants,
		CreatedAt:    sc.createdAt,
	}
}

// expirePending applies last-writer-wins to manual conflicts older than the
// timeout and returns their resolved records. Caller holds the layer mutex.
func (sc *sharedContext) expirePending(now time.Time, timeout time.Duration) []schema.ConflictRecord {
	var out []schema.ConflictRecord
	for key, pending := range sc.pending {
		if now.Sub(pending.since) < timeout {
			continue
		}
		winner := latestCandidate(pending.candidates)
		sc.apply(key, winner)
		record := schema.ConflictRecord{
			ContextID:  sc.id,
			Key:        key,
			Candidates: append([]schema.ValueVersion(nil), pending.candidates...),
			Winner:     &winner,
			Policy:     schema.ConflictLastWriterWins,
			ResolvedAt: now,
		}
		sc.conflicts = append(sc.conflicts, record)
		delete(sc.pending, key)
		out = append(out, record)
	}
	return out
}

func (sc *sharedContext) apply(key string, version schema.ValueVersion) {
	sc.data[key] = version
	sc.history[key] = append(sc.history[key], version)
}

func latestCandidate(candidates []schema.ValueVersion) schema.ValueVersion {
	winner := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.Timestamp.After(winner.Timestamp) {
			winner = candidate
		}
	}
	return winner
}

// CreateSharedContext creates a named shared data area with the creator as
// its first participant.
func (l *Layer) CreateSharedContext(ctx context.Context, creator schema.TabID, name string) (schema.SharedContextInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schema.SharedContextInfo{}, fmt.Errorf("%w: context name is empty", schema.ErrInvalidRequest)
	}
	if !l.registry.TabExists(creator) {
		return schema.SharedContextInfo{}, fmt.Errorf("creator %s: %w", creator, schema.ErrTabNotFound)
	}
	now := l.now()
	sc := &sharedContext{
		id:        schema.ContextID(uuid.NewString()),
		name:      name,
		owner:     creator,
		members:   map[schema.TabID]time.Time{creator: now},
		data:      make(map[string]schema.ValueVersion),
		history:   make(map[string][]schema.ValueVersion),
		pending:   make(map[string]*pendingConflict),
		createdAt: now,
	}
	l.mu.Lock()
	l.contexts[sc.id] = sc
	info := sc.info()
	l.mu.Unlock()

	l.emit(schema.NewEvent(schema.EventContextCreated, eventSource, map[string]any{
		"context": string(sc.id),
		"name":    name,
		"creator": string(creator),
	}))
	l.log.Info("shared context created", "context", sc.id, "name", name, "creator", creator)
	return info, nil
}

// JoinSharedContext adds the tab to the context. Joining an empty context
// rescues it from garbage collection.
func (l *Layer) JoinSharedContext(ctx context.Context, tabID schema.TabID, contextID schema.ContextID) (schema.SharedContextInfo, error) {
	if !l.registry.TabExists(tabID) {
		return schema.SharedContextInfo{}, fmt.Errorf("tab %s: %w", tabID, schema.ErrTabNotFound)
	}
	l.mu.Lock()
	sc := l.contexts[contextID]
	if sc == nil {
		l.mu.Unlock()
		return schema.SharedContextInfo{}, schema.ErrContextNotFound
	}
	sc.members[tabID] = l.now()
	sc.emptySince = time.Time{}
	info := sc.info()
	l.mu.Unlock()

	l.emitContextUpdated(contextID, tabID, "joined")
	l.log.Debug("shared context joined", "context", contextID, "tab", tabID)
	return info, nil
}

// LeaveSharedContext removes the tab. When the last participant leaves, the
// context is marked for idle collection rather than deleted, so a quick
// rejoin keeps its data.
func (l *Layer) LeaveSharedContext(ctx context.Context, tabID schema.TabID, contextID schema.ContextID) error {
	l.mu.Lock()
	sc := l.contexts[contextID]
	if sc == nil {
		l.mu.Unlock()
		return schema.ErrContextNotFound
	}
	if _, ok := sc.members[tabID]; !ok {
		l.mu.Unlock()
		return schema.ErrNotParticipant
	}
	delete(sc.members, tabID)
	if len(sc.members) == 0 {
		sc.emptySince = l.now()
	}
	l.mu.Unlock()

	l.emitContextUpdated(contextID, tabID, "left")
	l.log.Debug("shared context left", "context", contextID, "tab", tabID)
	return nil
}

// GetSharedContext returns a read-only view of the context.
func (l *Layer) GetSharedContext(contextID schema.ContextID) (schema.SharedContextInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := l.contexts[contextID]
	if sc == nil {
		return schema.SharedContextInfo{}, schema.ErrContextNotFound
	}
	return sc.info(), nil
}

// UpdateSharedData writes one key. Writes from different tabs landing within
// the coalescing window are a conflict, resolved by the configured policy:
// last-writer-wins applies the newest write immediately, manual holds the key
// at its pre-conflict value until ResolveConflict or timeout.
func (l *Layer) UpdateSharedData(ctx context.Context, tabID schema.TabID, contextID schema.ContextID, key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is empty", schema.ErrInvalidRequest)
	}
	now := l.now()
	version := schema.ValueVersion{Value: value, WrittenBy: tabID, Timestamp: now}

	l.mu.Lock()
	sc := l.contexts[contextID]
	if sc == nil {
		l.mu.Unlock()
		return schema.ErrContextNotFound
	}
	if _, ok := sc.members[tabID]; !ok {
		l.mu.Unlock()
		return schema.ErrNotParticipant
	}

	if pending, ok := sc.pending[key]; ok {
		// Conflict already pending; the write joins the candidate set.
		pending.candidates = append(pending.candidates, version)
		record := pendingRecord(sc.id, key, pending)
		l.mu.Unlock()
		l.emitConflict(record)
		return nil
	}

	current, exists := sc.data[key]
	conflict := exists && current.WrittenBy != tabID &&
		now.Sub(current.Timestamp) < l.cfg.CoalesceWindow
	if !conflict {
		sc.apply(key, version)
		l.mu.Unlock()
		l.emitContextData(contextID, tabID, key)
		return nil
	}

	candidates := []schema.ValueVersion{current, version}
	var record schema.ConflictRecord
	switch l.cfg.ConflictPolicy {
	case schema.ConflictManual:
		base := current
		sc.pending[key] = &pendingConflict{
			base:       &base,
			candidates: candidates,
			since:      now,
		}
		record = pendingRecord(sc.id, key, sc.pending[key])
	default:
		winner := latestCandidate(candidates)
		sc.apply(key, winner)
		record = schema.ConflictRecord{
			ContextID:  sc.id,
			Key:        key,
			Candidates: candidates,
			Winner:     &winner,
			Policy:     schema.ConflictLastWriterWins,
			ResolvedAt: now,
		}
		sc.conflicts = append(sc.conflicts, record)
	}
	l.mu.Unlock()

	l.emitConflict(record)
	l.log.Info("shared data conflict", "context", contextID, "key", key,
		"policy", l.cfg.ConflictPolicy, "resolved", record.Winner != nil)
	return nil
}

func pendingRecord(contextID schema.ContextID, key string, pending *pendingConflict) schema.ConflictRecord {
	return schema.ConflictRecord{
		ContextID:  contextID,
		Key:        key,
		Candidates: append([]schema.ValueVersion(nil), pending.candidates...),
		Policy:     schema.ConflictManual,
		Manual:     true,
	}
}

// GetSharedData reads one key. Participants only.
func (l *Layer) GetSharedData(tabID schema.TabID, contextID schema.ContextID, key string) (schema.ValueVersion, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := l.contexts[contextID]
	if sc == nil {
		return schema.ValueVersion{}, false, schema.ErrContextNotFound
	}
	if _, ok := sc.members[tabID]; !ok {
		return schema.ValueVersion{}, false, schema.ErrNotParticipant
	}
	version, ok := sc.data[key]
	return version, ok, nil
}

// GetSharedDataAll returns the context's full current mapping. Participants
// only.
func (l *Layer) GetSharedDataAll(tabID schema.TabID, contextID schema.ContextID) (map[string]schema.ValueVersion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := l.contexts[contextID]
	if sc == nil {
		return nil, schema.ErrContextNotFound
	}
	if _, ok := sc.members[tabID]; !ok {
		return nil, schema.ErrNotParticipant
	}
	out := make(map[string]schema.ValueVersion, len(sc.data))
	for key, version := range sc.data {
		out[key] = version
	}
	return out, nil
}

// GetSharedDataHistory returns a key's version history, oldest first.
func (l *Layer) GetSharedDataHistory(tabID schema.TabID, contextID schema.ContextID, key string) ([]schema.ValueVersion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := l.contexts[contextID]
	if sc == nil {
		return nil, schema.ErrContextNotFound
	}
	if _, ok := sc.members[tabID]; !ok {
		return nil, schema.ErrNotParticipant
	}
	return append([]schema.ValueVersion(nil), sc.history[key]...), nil
}

// ResolveConflict settles a pending manual conflict by picking the candidate
// written by the chosen tab.
func (l *Layer) ResolveConflict(ctx context.Context, contextID schema.ContextID, key string, chosen schema.TabID) error {
	now := l.now()
	l.mu.Lock()
	sc := l.contexts[contextID]
	if sc == nil {
		l.mu.Unlock()
		return schema.ErrContextNotFound
	}
	pending, ok := sc.pending[key]
	if !ok {
		l.mu.Unlock()
		return schema.ErrNoPendingConflict
	}
	var winner *schema.ValueVersion
	for i := len(pending.candidates) - 1; i >= 0; i-- {
		if pending.candidates[i].WrittenBy == chosen {
			candidate := pending.candidates[i]
			winner = &candidate
			break
		}
	}
	if winner == nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: no candidate written by %s", schema.ErrInvalidRequest, chosen)
	}
	sc.apply(key, *winner)
	record := schema.ConflictRecord{
		ContextID:  contextID,
		Key:        key,
		Candidates: append([]schema.ValueVersion(nil), pending.candidates...),
		Winner:     winner,
		Policy:     schema.ConflictManual,
		ResolvedAt: now,
		Manual:     true,
	}
	sc.conflicts = append(sc.conflicts, record)
	delete(sc.pending, key)
	l.mu.Unlock()

	l.emitConflict(record)
	l.log.Info("conflict resolved manually", "context", contextID, "key", key, "chosen", chosen)
	return nil
}

// GetConflictHistory returns the context's resolved conflicts in order.
func (l *Layer) GetConflictHistory(contextID schema.ContextID) ([]schema.ConflictRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := l.contexts[contextID]
	if sc == nil {
		return nil, schema.ErrContextNotFound
	}
	return append([]schema.ConflictRecord(nil), sc.conflicts...), nil
}

func (l *Layer) emitContextUpdated(contextID schema.ContextID, tabID schema.TabID, change string) {
	l.emit(schema.NewEvent(schema.EventContextUpdated, eventSource, map[string]any{
		"context": string(contextID),
		"tab":     string(tabID),
		"change":  change,
	}))
}

func (l *Layer) emitContextData(contextID schema.ContextID, tabID schema.TabID, key string) {
	l.emit(schema.NewEvent(schema.EventContextUpdated, eventSource, map[string]any{
		"context": string(contextID),
		"tab":     string(tabID),
		"change":  "data",
		"key":     key,
	}))
}

func (l *Layer) emitConflict(record schema.ConflictRecord) {
	event := schema.NewEvent(schema.EventContextConflict, eventSource, map[string]any{
		"context":  string(record.ContextID),
		"key":      record.Key,
		"policy":   string(record.Policy),
		"resolved": record.Winner != nil,
	})
	event.Priority = schema.PriorityHigh
	l.emit(event)
}
