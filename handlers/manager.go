package handlers

import (
	"log"
	"sort"
	"sync"

	models "vesta-pipeline/database/models_pkg"
)

// Registry maps (source, table, event_type) to handlers. It is filled once at
// startup and only read afterwards.
type Registry struct {
	handlers map[RouteKey]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[RouteKey]Handler),
	}
}

// Register binds a handler to a source and table for the given event types
func (r *Registry) Register(source, table string, h Handler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, et := range eventTypes {
		key := NewRouteKey(source, table, et)
		r.handlers[key] = h
		log.Printf("📦 Registered handler: %s", key)
	}
}

// Lookup resolves the handler for an event
func (r *Registry) Lookup(source, table, eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[NewRouteKey(source, table, eventType)]
	return h, ok
}

// Routes lists registered keys in a stable order
func (r *Registry) Routes() []RouteKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]RouteKey, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// NewDefaultRegistry wires the reference handlers
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(models.SourceRentEngine, "prospects", Func(UpsertProspect), models.EventInsert, models.EventUpdate)
	r.Register(models.SourceRentEngine, "prospects", Func(RetireProspect), models.EventDelete)

	r.Register(models.SourceRentEngine, "leasing_events", Func(UpsertLeasingEvent), models.EventInsert, models.EventUpdate)
	r.Register(models.SourceRentEngine, "leasing_events", Func(RetireLeasingEvent), models.EventDelete)

	for _, source := range []string{models.SourceRentEngine, models.SourceRentVine} {
		r.Register(source, "units", UnitInventory(source), models.EventInsert, models.EventUpdate)
		r.Register(source, "units", RetireUnit(source), models.EventDelete)
	}

	return r
}
