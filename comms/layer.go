// Package comms is the cross-tab communication layer: point-to-point and
// broadcast messaging, directional permission grants, shared data contexts
// with conflict resolution, and collaboration sessions. It holds no tab
// state of its own; tab existence is answered by the registry.
package comms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vela/core"
	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/schema"
)

const eventSource = "comms"

// Registry answers tab existence for the communication layer.
type Registry interface {
	TabExists(tabID schema.TabID) bool
	LiveTabIDs() []schema.TabID
}

// Layer coordinates all cross-tab communication.
type Layer struct {
	cfg      schema.CommsConfig
	registry Registry
	security core.Security
	bus      *eventbus.Bus
	log      pslog.Logger
	now      func() time.Time

	mu       sync.Mutex
	grants   map[grantKey]time.Time
	contexts map[schema.ContextID]*sharedContext
	sessions map[schema.SessionID]*session
	subID    schema.SubscriptionID
}

// New constructs the layer and subscribes it to tab destruction for
// membership teardown. The security collaborator is optional.
func New(cfg schema.CommsConfig, registry Registry, security core.Security, bus *eventbus.Bus, logger pslog.Logger) (*Layer, error) {
	normalized, err := schema.NormalizeCommsConfig(cfg)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", schema.ErrInvalidRequest)
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	l := &Layer{
		cfg:      normalized,
		registry: registry,
		security: security,
		bus:      bus,
		log:      logger,
		now:      time.Now,
		grants:   make(map[grantKey]time.Time),
		contexts: make(map[schema.ContextID]*sharedContext),
		sessions: make(map[schema.SessionID]*session),
	}
	if bus != nil {
		l.subID = bus.Subscribe(eventbus.Filter{
			Types: []schema.EventType{schema.EventTabDestroyed},
		}, l.onTabDestroyed)
	}
	return l, nil
}

// SendMessage delivers a message from one tab to another. The recipient must
// exist and the sender must hold a message grant toward it.
func (l *Layer) SendMessage(ctx context.Context, from, to schema.TabID, msgType string, payload map[string]any) (schema.Message, error) {
	if !l.registry.TabExists(from) {
		return schema.Message{}, fmt.Errorf("sender %s: %w", from, schema.ErrTabNotFound)
	}
	if !l.registry.TabExists(to) {
		return schema.Message{}, fmt.Errorf("recipient %s: %w", to, schema.ErrTabNotFound)
	}
	message := schema.NewMessage(from, to, msgType, payload)
	if !l.CheckPermission(ctx, from, to, schema.CapabilityMessage) {
		l.emitFailure(message, "permission denied")
		return schema.Message{}, fmt.Errorf("%s -> %s: %w", from, to, schema.ErrPermissionDenied)
	}
	l.deliver(message)
	l.log.Debug("message sent", "from", from, "to", to, "type", msgType)
	return message, nil
}

// BroadcastMessage sends to every other live tab the sender may reach.
// Delivery is partial: recipients that fail the permission check are reported
// as failures without blocking the rest.
func (l *Layer) BroadcastMessage(ctx context.Context, from schema.TabID, msgType string, payload map[string]any) (schema.BroadcastResult, error) {
	if !l.registry.TabExists(from) {
		return schema.BroadcastResult{}, fmt.Errorf("sender %s: %w", from, schema.ErrTabNotFound)
	}
	var result schema.BroadcastResult
	for _, to := range l.registry.LiveTabIDs() {
		if to == from {
			continue
		}
		message := schema.NewMessage(from, to, msgType, payload)
		if !l.CheckPermission(ctx, from, to, schema.CapabilityMessage) {
			failure := schema.DeliveryFailure{
				MessageID: message.ID,
				From:      from,
				To:        to,
				Reason:    "permission denied",
				Timestamp: l.now(),
			}
			result.Failures = append(result.Failures, failure)
			l.emitFailure(message, failure.Reason)
			continue
		}
		l.deliver(message)
		result.Delivered = append(result.Delivered, to)
	}
	l.log.Debug("broadcast sent", "from", from, "type", msgType,
		"delivered", len(result.Delivered), "failed", len(result.Failures))
	return result, nil
}

func (l *Layer) deliver(message schema.Message) {
	event := schema.NewEvent(schema.EventMessage, eventSource, map[string]any{
		"message": string(message.ID),
		"from":    string(message.From),
		"to":      string(message.To),
		"type":    message.Type,
		"payload": message.Payload,
	})
	event.Target = string(message.To)
	l.emit(event)
}

func (l *Layer) emitFailure(message schema.Message, reason string) {
	event := schema.NewEvent(schema.EventMessageFailed, eventSource, map[string]any{
		"message": string(message.ID),
		"from":    string(message.From),
		"to":      string(message.To),
		"reason":  reason,
	})
	event.Priority = schema.PriorityHigh
	l.emit(event)
}

// GetConnectedTabs returns the distinct tabs the given tab can currently
// reach through grants, shared contexts, or sessions.
func (l *Layer) GetConnectedTabs(tabID schema.TabID) []schema.TabID {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[schema.TabID]struct{})
	for key := range l.grants {
		if key.from == tabID {
			seen[key.to] = struct{}{}
		}
	}
	for _, sc := range l.contexts {
		if _, ok := sc.members[tabID]; !ok {
			continue
		}
		for member := range sc.members {
			if member != tabID {
				seen[member] = struct{}{}
			}
		}
	}
	for _, sess := range l.sessions {
		if _, ok := sess.participants[tabID]; !ok {
			continue
		}
		for _, member := range sess.order {
			if member != tabID {
				seen[member] = struct{}{}
			}
		}
	}
	out := make([]schema.TabID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// GetTabConnections summarizes a tab's communication surface.
func (l *Layer) GetTabConnections(tabID schema.TabID) schema.TabConnections {
	l.mu.Lock()
	defer l.mu.Unlock()
	connections := schema.TabConnections{TabID: tabID}
	seen := make(map[schema.TabID]struct{})
	for key := range l.grants {
		if key.from == tabID {
			if _, dup := seen[key.to]; !dup {
				seen[key.to] = struct{}{}
				connections.Granted = append(connections.Granted, key.to)
			}
		}
	}
	for id, sc := range l.contexts {
		if _, ok := sc.members[tabID]; ok {
			connections.Contexts = append(connections.Contexts, id)
		}
	}
	for id, sess := range l.sessions {
		if _, ok := sess.participants[tabID]; ok {
			connections.Sessions = append(connections.Sessions, id)
		}
	}
	return connections
}

// onTabDestroyed tears down everything a destroyed tab participated in.
func (l *Layer) onTabDestroyed(event schema.BrowserEvent) {
	id, _ := event.Payload["tab"].(string)
	if id == "" {
		return
	}
	l.removeTab(schema.TabID(id))
}

func (l *Layer) removeTab(tabID schema.TabID) {
	l.mu.Lock()
	for key := range l.grants {
		if key.from == tabID || key.to == tabID {
			delete(l.grants, key)
		}
	}
	now := l.now()
	var leftContexts []schema.ContextID
	for id, sc := range l.contexts {
		if _, ok := sc.members[tabID]; !ok {
			continue
		}
		delete(sc.members, tabID)
		if len(sc.members) == 0 {
			sc.emptySince = now
		}
		leftContexts = append(leftContexts, id)
	}
	var leftSessions []schema.SessionID
	for id, sess := range l.sessions {
		if _, ok := sess.participants[tabID]; !ok {
			continue
		}
		sess.remove(tabID)
		if len(sess.participants) == 0 {
			delete(l.sessions, id)
		}
		leftSessions = append(leftSessions, id)
	}
	l.mu.Unlock()

	for _, id := range leftContexts {
		l.emitContextUpdated(id, tabID, "participant_destroyed")
	}
	for _, id := range leftSessions {
		l.emitSessionUpdated(id, tabID, "participant_destroyed")
	}
	if len(leftContexts) > 0 || len(leftSessions) > 0 {
		l.log.Debug("tab comms teardown",
			"tab", tabID, "contexts", len(leftContexts), "sessions", len(leftSessions))
	}
}

// Sweep runs one pass of background maintenance: idle empty contexts are
// garbage collected and stale manual conflicts fall back to last-writer-wins.
func (l *Layer) Sweep() {
	now := l.now()
	l.mu.Lock()
	var collected []schema.ContextID
	for id, sc := range l.contexts {
		if len(sc.members) == 0 && !sc.emptySince.IsZero() &&
			now.Sub(sc.emptySince) >= l.cfg.SweepInterval {
			delete(l.contexts, id)
			collected = append(collected, id)
		}
	}
	var resolved []schema.ConflictRecord
	if l.cfg.ManualTimeout > 0 {
		for _, sc := range l.contexts {
			resolved = append(resolved, sc.expirePending(now, l.cfg.ManualTimeout)...)
		}
	}
	l.mu.Unlock()

	for _, id := range collected {
		l.log.Debug("shared context collected", "context", id)
	}
	for _, record := range resolved {
		l.emitConflict(record)
		l.log.Info("manual conflict timed out, applied last-writer-wins",
			"context", record.ContextID, "key", record.Key)
	}
}

// Run performs maintenance sweeps on the configured interval until ctx is
// done.
func (l *Layer) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	l.log.Info("comms sweeper started", "interval", l.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("comms sweeper stopped")
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Cleanup detaches the layer from the bus and drops all state.
func (l *Layer) Cleanup() {
	if l.bus != nil && l.subID != "" {
		l.bus.Unsubscribe(l.subID)
	}
	l.mu.Lock()
	l.grants = make(map[grantKey]time.Time)
	l.contexts = make(map[schema.ContextID]*sharedContext)
	l.sessions = make(map[schema.SessionID]*session)
	l.mu.Unlock()
	l.log.Debug("comms layer cleaned up")
}

func (l *Layer) emit(event schema.BrowserEvent) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(event); err != nil {
		l.log.Warn("comms event publish failed", "type", event.Type, "err", err)
	}
}
