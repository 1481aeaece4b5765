// Package eventbus is the typed, filtered publish/subscribe substrate for the
// coordination core. Delivery is FIFO by publish time; priority is metadata
// for consumers, never a reordering signal.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/vela/schema"
)

// Handler consumes a delivered event. Handlers must not mutate the payload.
type Handler func(schema.BrowserEvent)

// Processor is a type-specific stateful reducer run after all matching
// subscription handlers for an event.
type Processor interface {
	Process(event schema.BrowserEvent) error
}

// EventStore persists published events for replay. Failures are logged and
// never block delivery.
type EventStore interface {
	Append(event schema.BrowserEvent) error
	Since(t time.Time) ([]schema.BrowserEvent, error)
}

// Filter selects events for a subscription. All set dimensions are
// conjunctive; an empty dimension matches everything.
type Filter struct {
	Types      []schema.EventType
	Sources    []string
	Priorities []schema.Priority
	After      time.Time
	Before     time.Time
	Payload    map[string]any
}

// Matches reports whether the event passes every set filter dimension.
func (f Filter) Matches(event schema.BrowserEvent) bool {
	if len(f.Types) > 0 && !containsType(f.Types, event.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, event.Source) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, event.Priority) {
		return false
	}
	if !f.After.IsZero() && event.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && event.Timestamp.After(f.Before) {
		return false
	}
	for key, want := range f.Payload {
		got, ok := event.Payload[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

type subscription struct {
	id      schema.SubscriptionID
	filter  Filter
	handler Handler
}

// Bus delivers events to filtered subscribers and registered processors from
// a single FIFO queue.
type Bus struct {
	mu         sync.Mutex
	cfg        schema.BusConfig
	subs       map[schema.SubscriptionID]*subscription
	order      []schema.SubscriptionID
	processors map[schema.EventType][]Processor
	published  []func(schema.BrowserEvent)
	queue      chan schema.BrowserEvent
	store      EventStore
	log        pslog.Logger
	closed     bool
	done       chan struct{}
}

// New constructs a Bus and starts its dispatch loop. The store is optional.
func New(cfg schema.BusConfig, store EventStore, logger pslog.Logger) (*Bus, error) {
	normalized, err := schema.NormalizeBusConfig(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	b := &Bus{
		cfg:        normalized,
		subs:       make(map[schema.SubscriptionID]*subscription),
		processors: make(map[schema.EventType][]Processor),
		queue:      make(chan schema.BrowserEvent, normalized.QueueDepth),
		store:      store,
		log:        logger,
		done:       make(chan struct{}),
	}
	go b.dispatch()
	return b, nil
}

// Publish enqueues the event for asynchronous FIFO delivery, synchronously
// notifies publish listeners, and best-effort stores it.
func (b *Bus) Publish(event schema.BrowserEvent) error {
	if event.ID == "" {
		event.ID = schema.EventID(uuid.NewString())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Priority == "" {
		event.Priority = schema.PriorityNormal
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return schema.ErrBusClosed
	}
	listeners := append(([]func(schema.BrowserEvent))(nil), b.published...)
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.Append(event); err != nil {
			b.log.Warn("eventbus store append failed", "event", event.ID, "type", event.Type, "err", err)
		}
	}
	for _, fn := range listeners {
		fn(event)
	}
	if !b.enqueue(event) {
		b.log.Warn("eventbus queue full, event dropped", "event", event.ID, "type", event.Type)
	}
	return nil
}

// enqueue sends under the mutex so Close cannot close the queue between the
// closed check and the send.
func (b *Bus) enqueue(event schema.BrowserEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- event:
		return true
	default:
		return false
	}
}

// Subscribe registers a filtered handler and returns its subscription id.
// The subscription is active until Unsubscribe.
func (b *Bus) Subscribe(filter Filter, handler Handler) schema.SubscriptionID {
	id := schema.SubscriptionID(uuid.NewString())
	b.mu.Lock()
	b.subs[id] = &subscription{id: id, filter: filter, handler: handler}
	b.order = append(b.order, id)
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "sub", id, "subs", count)
	return id
}

// Unsubscribe deactivates the subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id schema.SubscriptionID) {
	b.mu.Lock()
	if _, ok := b.subs[id]; ok {
		delete(b.subs, id)
		for i, current := range b.order {
			if current == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	b.log.Debug("eventbus unsubscribe", "sub", id)
}

// RegisterProcessor attaches a domain processor for the event type.
// Processors run after all matching subscription handlers.
func (b *Bus) RegisterProcessor(eventType schema.EventType, processor Processor) {
	b.mu.Lock()
	b.processors[eventType] = append(b.processors[eventType], processor)
	b.mu.Unlock()
}

// OnPublished registers a synchronous publish listener, invoked inside
// Publish before the event is queued.
func (b *Bus) OnPublished(fn func(schema.BrowserEvent)) {
	b.mu.Lock()
	b.published = append(b.published, fn)
	b.mu.Unlock()
}

// ReplaySince returns stored events at or after t that match the filter and
// whose TTL has not elapsed. Requires a configured store.
func (b *Bus) ReplaySince(t time.Time, filter Filter) ([]schema.BrowserEvent, error) {
	if b.store == nil {
		return nil, nil
	}
	stored, err := b.store.Since(t)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]schema.BrowserEvent, 0, len(stored))
	for _, event := range stored {
		if event.Expired(now) {
			continue
		}
		if !filter.Matches(event) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// Close stops accepting events, drains the queue, and waits for dispatch to
// finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.queue)
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		b.deliver(event)
	}
}

func (b *Bus) deliver(event schema.BrowserEvent) {
	b.mu.Lock()
	matching := make([]*subscription, 0, len(b.order))
	for _, id := range b.order {
		sub := b.subs[id]
		if sub == nil {
			continue
		}
		if sub.filter.Matches(event) {
			matching = append(matching, sub)
		}
	}
	processors := append([]Processor(nil), b.processors[event.Type]...)
	b.mu.Unlock()

	for _, sub := range matching {
		b.invoke(sub, event)
	}
	for _, processor := range processors {
		b.process(processor, event)
	}
}

func (b *Bus) invoke(sub *subscription, event schema.BrowserEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.reportFailure(event, fmt.Errorf("handler panic: %v", r))
		}
	}()
	sub.handler(event)
}

func (b *Bus) process(processor Processor, event schema.BrowserEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.reportFailure(event, fmt.Errorf("processor panic: %v", r))
		}
	}()
	if err := processor.Process(event); err != nil {
		b.reportFailure(event, err)
	}
}

// reportFailure converts a handler or processor failure into an isolated
// error event. Failures while delivering error events are only logged, so a
// broken error-event subscriber cannot loop.
func (b *Bus) reportFailure(event schema.BrowserEvent, err error) {
	b.log.Warn("eventbus delivery failure", "event", event.ID, "type", event.Type, "err", err)
	if event.Type == schema.EventBusError {
		return
	}
	failure := schema.NewEvent(schema.EventBusError, "eventbus", map[string]any{
		"failed_event": string(event.ID),
		"failed_type":  string(event.Type),
		"error":        err.Error(),
	})
	failure.Priority = schema.PriorityCritical
	failure.CorrelationID = string(event.ID)
	if !b.enqueue(failure) {
		b.log.Warn("eventbus error event dropped", "event", failure.ID)
	}
}

func containsType(set []schema.EventType, value schema.EventType) bool {
	for _, current := range set {
		if current == value {
			return true
		}
	}
	return false
}

func containsString(set []string, value string) bool {
	for _, current := range set {
		if current == value {
			return true
		}
	}
	return false
}

func containsPriority(set []schema.Priority, value schema.Priority) bool {
	for _, current := range set {
		if current == value {
			return true
		}
	}
	return false
}
