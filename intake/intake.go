package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/metrics"
)

// Store persists webhook events
type Store interface {
	Persist(ctx context.Context, ev *models.WebhookEvent) (int64, error)
}

// Error rejects a notification before anything is written. The sender must
// fix the payload; retrying it unchanged fails the same way.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid webhook %s: %s", e.Field, e.Reason)
}

// IsIntakeError reports whether err rejected the input itself
func IsIntakeError(err error) bool {
	var ie *Error
	return errors.As(err, &ie)
}

// notification is the structural shape every webhook must have
type notification struct {
	Source    string         `validate:"required,oneof=rentengine rentvine boompay"`
	EventType string         `validate:"required,oneof=INSERT UPDATE DELETE"`
	Table     string         `validate:"required,max=100"`
	Record    models.Payload `validate:"required_without=OldRecord"`
	OldRecord models.Payload
}

var fieldNames = map[string]string{
	"Source":    "source",
	"EventType": "type",
	"Table":     "table",
	"Record":    "record",
}

// Service validates and persists inbound notifications
type Service struct {
	store    Store
	validate *validator.Validate
}

// NewService creates an intake service
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
	}
}

// Ingest persists one notification and returns its event id. It never runs
// handlers; a returned error means nothing was stored.
func (s *Service) Ingest(ctx context.Context, source, eventType, table string, record, oldRecord models.Payload) (int64, error) {
	n := notification{
		Source:    strings.ToLower(strings.TrimSpace(source)),
		EventType: strings.ToUpper(strings.TrimSpace(eventType)),
		Table:     strings.TrimSpace(table),
		Record:    record,
		OldRecord: oldRecord,
	}

	if err := s.validate.Struct(n); err != nil {
		ie := toIntakeError(err)
		metrics.IntakeRejected.WithLabelValues(ie.Field).Inc()
		log.Printf("⚠️ Rejected webhook from %q (%s/%s): %v", source, table, eventType, ie)
		return 0, ie
	}

	ev := &models.WebhookEvent{
		Source:    n.Source,
		EventType: n.EventType,
		Table:     n.Table,
		Record:    n.Record,
		OldRecord: n.OldRecord,
	}
	id, err := s.store.Persist(ctx, ev)
	if err != nil {
		return 0, fmt.Errorf("Ingest: %w", err)
	}

	metrics.EventsIngested.WithLabelValues(n.Source).Inc()
	return id, nil
}

func toIntakeError(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fieldNames[fe.StructField()]
		switch fe.Tag() {
		case "required", "required_without":
			return &Error{Field: field, Reason: "is required"}
		case "oneof":
			return &Error{Field: field, Reason: fmt.Sprintf("%q is not one of [%s]", fe.Value(), fe.Param())}
		case "max":
			return &Error{Field: field, Reason: fmt.Sprintf("longer than %s characters", fe.Param())}
		}
		return &Error{Field: field, Reason: fe.Error()}
	}
	return &Error{Field: "payload", Reason: err.Error()}
}
