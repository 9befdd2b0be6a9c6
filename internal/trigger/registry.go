package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MahfuzulAlam/smart-assistant/internal/events"
)

// FilterFunc is a read-time hook applied to the handler collection
// returned by [Registry.All]. Filters may add, remove, or replace
// entries in the view they receive; the stored collection is never
// mutated by a filter.
type FilterFunc func([]Handler) []Handler

// Registry owns the set of active handlers. It is populated during
// startup (built-ins plus any extension registrations) and treated as
// read-mostly afterwards; concurrent reads from in-flight requests are
// safe.
//
// The registry is an explicitly constructed value passed to the
// dispatcher and the admin API — there is no package-level singleton.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	// order preserves registration order, which defines dispatch order.
	order   []string
	filters []FilterFunc

	logger *slog.Logger
	bus    *events.Bus
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, bus *events.Bus) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
		bus:      bus,
	}
}

// Register adds a handler. It returns false without replacing anything
// when a handler with the same ID is already present, or when the
// handler's pattern and required parameters disagree — duplicate IDs
// are a configuration mistake the caller must detect via the boolean,
// not an error condition.
func (r *Registry) Register(h Handler) bool {
	def := Definition{
		TriggerID: h.ID(),
		Pattern:   h.CommandPattern(),
		Params:    h.RequiredParams(),
	}
	if !def.Valid() {
		r.logger.Warn("rejecting handler with inconsistent definition",
			"trigger_id", h.ID(),
			"params", len(h.RequiredParams()),
		)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.ID()]; exists {
		r.logger.Warn("rejecting duplicate handler registration", "trigger_id", h.ID())
		return false
	}

	r.handlers[h.ID()] = h
	r.order = append(r.order, h.ID())

	r.logger.Debug("registered trigger handler", "trigger_id", h.ID(), "name", h.Name())
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceRegistry,
		Kind:      events.KindTriggerRegistered,
		Data:      map[string]any{"trigger_id": h.ID()},
	})
	return true
}

// Unregister removes the handler with the given ID, reporting whether
// it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; !exists {
		return false
	}
	delete(r.handlers, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the handler with the given ID.
func (r *Registry) Get(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// All returns the handlers in registration order, passed through the
// registered filters. Filters see a fresh copy each call, so a filter
// that mutates its input never affects the stored collection.
func (r *Registry) All() []Handler {
	r.mu.RLock()
	out := make([]Handler, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handlers[id])
	}
	filters := r.filters
	r.mu.RUnlock()

	for _, f := range filters {
		out = f(out)
	}
	return out
}

// AddFilter appends a read-time filter hook. Filters run in the order
// they were added on every call to All.
func (r *Registry) AddFilter(f FilterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

// Count returns the number of registered handlers (unfiltered).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
