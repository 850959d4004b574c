package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// anyType is the subscription key for handlers that want every event.
const anyType EventType = "*"

// DefaultOrderedBuffer is the queue length of an ordered subscriber.
const DefaultOrderedBuffer = 1024

// EventBus is an asynchronous publish-subscribe hub. Handlers run on their
// own goroutines and never see the dispatcher's state, only event payloads.
// Plain handlers get one goroutine per event, so two events may reach them
// in either order. Ordered subscribers see events in publication order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	ordered  map[string]*orderedSub
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// orderedSub feeds one handler from a queue drained by a single goroutine.
type orderedSub struct {
	entry handlerEntry
	queue chan queuedEvent
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		ordered:  make(map[string]*orderedSub),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a named handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers a named handler for every event type.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	eb.Subscribe(anyType, name, handler)
}

// SubscribeAllOrdered registers a named handler for every event type that
// receives events one at a time in the order they were emitted. Events that
// arrive while buffer events are already waiting are dropped.
func (eb *EventBus) SubscribeAllOrdered(name string, buffer int, handler HandlerFunc) {
	if buffer <= 0 {
		buffer = DefaultOrderedBuffer
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}
	if old, ok := eb.ordered[name]; ok {
		close(old.queue)
	}
	sub := &orderedSub{
		entry: handlerEntry{name: name, handler: handler},
		queue: make(chan queuedEvent, buffer),
	}
	eb.ordered[name] = sub

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for q := range sub.queue {
			run(q.ctx, sub.entry, q.event)
		}
	}()

	log.Debug().Str("handler", name).Msg("subscribed to all events in order")
}

// enqueueOrdered hands an event to every ordered subscriber. Caller holds mu.
func (eb *EventBus) enqueueOrdered(ctx context.Context, event Event) {
	for name, sub := range eb.ordered {
		select {
		case sub.queue <- queuedEvent{ctx: ctx, event: event}:
		default:
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", name).
				Msg("ordered subscriber is behind, event dropped")
		}
	}
}

// Unsubscribe removes a named handler from an event type. Use UnsubscribeAll
// for handlers registered with SubscribeAll.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers := eb.handlers[eventType]
	filtered := handlers[:0:0]
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

// UnsubscribeAll removes a handler registered with SubscribeAll or
// SubscribeAllOrdered. Events already queued for an ordered handler are
// still delivered.
func (eb *EventBus) UnsubscribeAll(name string) {
	eb.Unsubscribe(anyType, name)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if sub, ok := eb.ordered[name]; ok {
		close(sub.queue)
		delete(eb.ordered, name)
	}
}

// handlersFor returns a copy of the handlers for an event. Caller holds mu.
func (eb *EventBus) handlersFor(t EventType) []handlerEntry {
	specific := eb.handlers[t]
	wildcard := eb.handlers[anyType]
	out := make([]handlerEntry, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...)
}

// Emit publishes an event without waiting for its handlers. A zero Time is
// set to now.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	eb.enqueueOrdered(ctx, event)
	for _, h := range eb.handlersFor(event.Type) {
		h := h
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			run(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for every plain handler. Ordered
// subscribers only have it queued. It returns the first handler error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	handlers := eb.handlersFor(event.Type)
	eb.enqueueOrdered(ctx, event)
	eb.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// run calls one handler, logging errors and recovering panics.
func run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop refuses new events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for name, sub := range eb.ordered {
		close(sub.queue)
		delete(eb.ordered, name)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh is closed once the bus stops.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns how many handlers would receive an event of this type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) + len(eb.handlers[anyType]) + len(eb.ordered)
}
