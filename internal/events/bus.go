package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles a telemetry event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans telemetry events out to subscribers. Handlers run in their
// own goroutines, so no ordering is guaranteed between deliveries; client
// lifecycle traffic goes through Queue instead.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a named handler for an event type.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from an event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.handlers[eventType][:0]
	for _, h := range eb.handlers[eventType] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	eb.handlers[eventType] = kept
}

// snapshot returns the handlers for an event type, or nil once stopped.
func (eb *EventBus) snapshot(eventType EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped || len(eb.handlers[eventType]) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(eb.handlers[eventType]))
	copy(out, eb.handlers[eventType])
	return out
}

// Emit delivers an event to every subscriber asynchronously.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	handlers := eb.snapshot(event.Type)
	if handlers == nil {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	eb.wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer eb.wg.Done()
			eb.invoke(ctx, h, event)
		}()
	}
}

// EmitSync delivers an event to every subscriber and waits for them.
// It returns the first handler error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)

	for _, h := range eb.snapshot(event.Type) {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eb.invoke(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

func (eb *EventBus) invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
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

// Stop rejects further events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
