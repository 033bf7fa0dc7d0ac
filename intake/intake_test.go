package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesta-pipeline/database/memory"
	models "vesta-pipeline/database/models_pkg"
)

type brokenStore struct{}

func (brokenStore) Persist(ctx context.Context, ev *models.WebhookEvent) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestIngestPersistsUnprocessedEvent(t *testing.T) {
	store := memory.New()
	svc := NewService(store)

	record := models.Payload{"id": float64(1), "name": "Dana"}
	old := models.Payload{"id": float64(1), "name": "Dan"}
	id, err := svc.Ingest(context.Background(), "RentEngine", "update", "prospects", record, old)
	require.NoError(t, err)

	ev, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.SourceRentEngine, ev.Source)
	assert.Equal(t, models.EventUpdate, ev.EventType)
	assert.Equal(t, "prospects", ev.Table)
	assert.Equal(t, record, ev.Record)
	assert.Equal(t, old, ev.OldRecord)
	assert.False(t, ev.Processed)
	assert.Empty(t, ev.ProcessingError)
	assert.False(t, ev.ReceivedAt.IsZero())
}

func TestIngestTwiceStoresTwoRows(t *testing.T) {
	store := memory.New()
	svc := NewService(store)
	record := models.Payload{"id": "p-1"}

	first, err := svc.Ingest(context.Background(), models.SourceRentEngine, models.EventInsert, "prospects", record, nil)
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), models.SourceRentEngine, models.EventInsert, "prospects", record, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, store.Events(), 2)
}

func TestIngestRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		eventType string
		table     string
		record    models.Payload
		old       models.Payload
		field     string
	}{
		{"missing source", "", "INSERT", "units", models.Payload{"id": 1}, nil, "source"},
		{"unknown source", "yardi", "INSERT", "units", models.Payload{"id": 1}, nil, "source"},
		{"missing table", "rentvine", "INSERT", " ", models.Payload{"id": 1}, nil, "table"},
		{"bad event type", "boompay", "UPSERT", "payments", models.Payload{"id": 1}, nil, "type"},
		{"no payload at all", "rentengine", "DELETE", "prospects", nil, nil, "record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			_, err := NewService(store).Ingest(context.Background(), tt.source, tt.eventType, tt.table, tt.record, tt.old)
			require.Error(t, err)
			assert.True(t, IsIntakeError(err))

			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
			assert.Empty(t, store.Events(), "rejected input is never persisted")
		})
	}
}

func TestIngestDeleteWithOnlyOldRecord(t *testing.T) {
	store := memory.New()
	_, err := NewService(store).Ingest(context.Background(), "rentengine", "DELETE", "prospects", nil, models.Payload{"id": "p-1"})
	require.NoError(t, err)
	assert.Len(t, store.Events(), 1)
}

func TestIngestStorageFailureIsNotIntakeError(t *testing.T) {
	_, err := NewService(brokenStore{}).Ingest(context.Background(), "rentengine", "INSERT", "prospects", models.Payload{"id": 1}, nil)
	require.Error(t, err)
	assert.False(t, IsIntakeError(err))
}
