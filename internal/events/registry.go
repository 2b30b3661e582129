package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler receives the payload of a dispatched event.
type Handler func(payload json.RawMessage)

// Token identifies one registered handler for removal via Off.
type Token struct {
	event string
	id    uuid.UUID
}

// Event returns the event name the token is registered under.
func (t Token) Event() string { return t.event }

// RegistryStats provides counters for the dispatcher.
type RegistryStats struct {
	Dispatched    int64
	HandlerPanics int64
}

type entry struct {
	id uuid.UUID
	fn Handler
}

// Registry is a multicast table of named event → handlers.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]entry

	statsMu sync.Mutex
	stats   RegistryStats
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		handlers: make(map[string][]entry),
	}
}

// On registers a handler for an event name and returns a removal token.
// Multiple handlers per name are permitted and invoked in registration order.
func (r *Registry) On(event string, fn Handler) Token {
	tok := Token{event: event, id: uuid.New()}

	r.mu.Lock()
	r.handlers[event] = append(r.handlers[event], entry{id: tok.id, fn: fn})
	r.mu.Unlock()

	return tok
}

// Off removes the handler identified by token. Removing a token twice, or a
// token that was never registered, is a no-op.
func (r *Registry) Off(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.handlers[tok.event]
	if !ok {
		return
	}
	for i, e := range list {
		if e.id == tok.id {
			r.handlers[tok.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[tok.event]) == 0 {
		delete(r.handlers, tok.event)
	}
}

// RemoveAll drops every handler for an event name.
func (r *Registry) RemoveAll(event string) {
	r.mu.Lock()
	delete(r.handlers, event)
	r.mu.Unlock()
}

// Emit invokes all handlers currently registered for event, synchronously and
// in registration order. Handlers are resolved at dispatch time against a
// copy of the list, so handlers may call On/Off mid-dispatch without
// corrupting iteration. A panic in one handler is logged and does not prevent
// delivery to the remaining handlers.
func (r *Registry) Emit(event string, payload json.RawMessage) {
	r.mu.RLock()
	list := r.handlers[event]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	r.mu.RUnlock()

	for _, e := range snapshot {
		r.invoke(event, e, payload)
	}

	r.statsMu.Lock()
	r.stats.Dispatched++
	r.statsMu.Unlock()
}

// HandlerCount returns the number of handlers registered for event.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Stats returns dispatch counters.
func (r *Registry) Stats() RegistryStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Registry) invoke(event string, e entry, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.statsMu.Lock()
			r.stats.HandlerPanics++
			r.statsMu.Unlock()

			r.logger.Error("event handler panicked",
				"event", event,
				"panic", rec,
			)
		}
	}()

	e.fn(payload)
}
