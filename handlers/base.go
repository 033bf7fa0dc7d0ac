package handlers

import (
	"context"
	"fmt"
	"strings"

	models "vesta-pipeline/database/models_pkg"
)

// Store is the view of canonical entities a handler writes through. The
// dispatcher hands each handler a Store bound to the transaction that also
// marks the event processed, so a handler never commits partial work.
//
// Find* return (nil, nil) when the entity does not exist yet. Ensure* return
// the existing row or insert a placeholder keyed by the upstream id.
type Store interface {
	FindUnit(ctx context.Context, source, externalID string) (*models.Unit, error)
	EnsureUnit(ctx context.Context, source, externalID string) (*models.Unit, error)
	SaveUnit(ctx context.Context, unit *models.Unit) error

	FindProspect(ctx context.Context, rentengineID string) (*models.Prospect, error)
	EnsureProspect(ctx context.Context, rentengineID string) (*models.Prospect, error)
	SaveProspect(ctx context.Context, prospect *models.Prospect) error

	FindLeasingEvent(ctx context.Context, rentengineID string) (*models.LeasingEvent, error)
	SaveLeasingEvent(ctx context.Context, event *models.LeasingEvent) error
}

// Handler applies one webhook payload to the canonical entities.
// Implementations must be idempotent: applying the same payload twice leaves
// the same state as applying it once.
type Handler interface {
	Apply(ctx context.Context, store Store, record, oldRecord models.Payload) error
}

// Func adapts a plain function to Handler
type Func func(ctx context.Context, store Store, record, oldRecord models.Payload) error

// Apply implements Handler
func (f Func) Apply(ctx context.Context, store Store, record, oldRecord models.Payload) error {
	return f(ctx, store, record, oldRecord)
}

// RouteKey identifies which handler processes an event
type RouteKey struct {
	Source    string
	Table     string
	EventType string
}

// NewRouteKey builds a key with the event type upper-cased
func NewRouteKey(source, table, eventType string) RouteKey {
	return RouteKey{Source: source, Table: table, EventType: strings.ToUpper(eventType)}
}

func (k RouteKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Source, k.Table, k.EventType)
}
