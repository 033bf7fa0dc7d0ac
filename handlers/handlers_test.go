package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesta-pipeline/database/memory"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
)

func TestRegistryLookup(t *testing.T) {
	r := handlers.NewDefaultRegistry()

	_, ok := r.Lookup(models.SourceRentEngine, "prospects", "insert")
	assert.True(t, ok, "event type lookup is case-insensitive")

	_, ok = r.Lookup(models.SourceRentVine, "units", models.EventDelete)
	assert.True(t, ok)

	_, ok = r.Lookup(models.SourceBoomPay, "payments", models.EventInsert)
	assert.False(t, ok)

	routes := r.Routes()
	require.NotEmpty(t, routes)
	for i := 1; i < len(routes); i++ {
		assert.Less(t, routes[i-1].String(), routes[i].String())
	}
}

func TestNormalizeEventType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Showing Complete", "showing_complete"},
		{"New", "new"},
		{"Prescreen Rejected - Credit", "prescreen_rejected_credit"},
		{"HOA Application Sent To Prospect", "hoa_application_sent"},
		{"Showing Cancelled", "showing_canceled"},
		{"Something Brand New!", "something_brand_new"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, handlers.NormalizeEventType(tt.raw))
		})
	}
}

func prospectRecord() models.Payload {
	return models.Payload{
		"id":         float64(9001),
		"first_name": "Dana",
		"last_name":  "Reyes",
		"email":      "dana@example.com",
		"phone":      "555-0100",
		"source":     "zillow",
		"status":     "active",
		"unit_id":    float64(77),
		"created_at": "2024-03-01T12:00:00Z",
	}
}

func TestUpsertProspectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, handlers.UpsertProspect(ctx, store, prospectRecord(), nil))
	require.NoError(t, handlers.UpsertProspect(ctx, store, prospectRecord(), nil))

	prospects := store.Prospects()
	require.Len(t, prospects, 1)
	p := prospects[0]
	assert.Equal(t, "9001", p.RentEngineID)
	assert.Equal(t, "Dana Reyes", p.Name)
	assert.Equal(t, "zillow", p.LeadSource)
	assert.False(t, p.Placeholder)

	units := store.Units()
	require.Len(t, units, 1, "unit of interest created once")
	assert.Equal(t, "77", units[0].ExternalID(models.SourceRentEngine))
	assert.True(t, units[0].Placeholder)
	require.NotNil(t, p.UnitOfInterestID)
	assert.Equal(t, units[0].ID, *p.UnitOfInterestID)
}

func TestUpdateForUnseenProspectCreatesIt(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	rec := prospectRecord()
	rec["status"] = "contacted"
	require.NoError(t, handlers.UpsertProspect(ctx, store, rec, prospectRecord()))

	p, err := store.FindProspect(ctx, "9001")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "contacted", p.Status)
}

func TestUpsertProspectMissingID(t *testing.T) {
	err := handlers.UpsertProspect(context.Background(), memory.New(), models.Payload{"name": "x"}, nil)
	assert.ErrorIs(t, err, handlers.ErrMissingID)
}

func TestRetireProspectUsesOldRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, handlers.UpsertProspect(ctx, store, prospectRecord(), nil))

	require.NoError(t, handlers.RetireProspect(ctx, store, nil, models.Payload{"id": float64(9001)}))
	p, err := store.FindProspect(ctx, "9001")
	require.NoError(t, err)
	require.NotNil(t, p.RetiredAt)
	first := *p.RetiredAt

	require.NoError(t, handlers.RetireProspect(ctx, store, nil, models.Payload{"id": float64(9001)}))
	p, _ = store.FindProspect(ctx, "9001")
	assert.Equal(t, first, *p.RetiredAt, "repeated deletes keep the first retirement")
	assert.Len(t, store.Prospects(), 1)
}

func TestDeleteBeforeInsertStaysRetired(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, handlers.RetireProspect(ctx, store, models.Payload{"id": "9001"}, nil))
	require.NoError(t, handlers.UpsertProspect(ctx, store, prospectRecord(), nil))

	p, err := store.FindProspect(ctx, "9001")
	require.NoError(t, err)
	assert.NotNil(t, p.RetiredAt)
	assert.Equal(t, "Dana Reyes", p.Name)
}

func TestUpsertLeasingEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	rec := models.Payload{
		"id":          "le-1",
		"prospect_id": float64(9001),
		"unit_id":     float64(77),
		"event_type":  "Showing Complete",
		"created_at":  "2024-03-04T15:30:00Z",
		"agent":       "Kim",
	}
	require.NoError(t, handlers.UpsertLeasingEvent(ctx, store, rec, nil))
	require.NoError(t, handlers.UpsertLeasingEvent(ctx, store, rec, nil))

	events := store.LeasingEvents()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, models.FunnelShowingComplete, e.EventType)
	require.NotNil(t, e.EventDate)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), *e.EventDate)
	assert.Equal(t, models.Payload{"agent": "Kim"}, e.Context)
	require.NotNil(t, e.ProspectID)
	require.NotNil(t, e.UnitID)

	assert.Len(t, store.Prospects(), 1, "prospect placeholder created")
	assert.True(t, store.Prospects()[0].Placeholder)
	assert.Len(t, store.Units(), 1, "unit placeholder created")
}

func TestLeasingEventFallsBackToEventDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, handlers.UpsertLeasingEvent(ctx, store, models.Payload{
		"id":         "le-2",
		"type":       "New",
		"event_date": "2024-03-02",
	}, nil))

	e, err := store.FindLeasingEvent(ctx, "le-2")
	require.NoError(t, err)
	assert.Nil(t, e.EventTimestamp)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), *e.EventDate)
	assert.Nil(t, e.UnitID)
}

func TestRetireLeasingEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, handlers.UpsertLeasingEvent(ctx, store, models.Payload{"id": "le-3", "type": "New"}, nil))
	require.NoError(t, handlers.RetireLeasingEvent(ctx, store, models.Payload{}, models.Payload{"id": "le-3"}))

	e, err := store.FindLeasingEvent(ctx, "le-3")
	require.NoError(t, err)
	assert.NotNil(t, e.RetiredAt)
}

func TestUnitInventory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h := handlers.UnitInventory(models.SourceRentEngine)

	rec := models.Payload{
		"id":                 float64(77),
		"name":               "Maple Court 4B",
		"postal_code":        "78704",
		"target_rental_rate": float64(2000),
		"days_on_market":     float64(12),
		"status":             "Listed",
		"beds":               float64(2),
		"fullBaths":          float64(1),
		"halfBaths":          float64(1),
		"size":               "950",
		"created_at":         "2024-02-20T09:00:00Z",
	}
	require.NoError(t, h.Apply(ctx, store, rec, nil))
	require.NoError(t, h.Apply(ctx, store, rec, nil))

	units := store.Units()
	require.Len(t, units, 1)
	u := units[0]
	assert.Equal(t, "Maple Court 4B", u.PropertyName)
	assert.Equal(t, models.ListingActive, u.ListingStatus)
	assert.True(t, decimal.NewFromInt(2000).Equal(*u.ListedPrice))
	assert.True(t, decimal.RequireFromString("1.5").Equal(*u.Bathrooms))
	assert.Equal(t, 950, *u.SquareFeet)
	assert.Equal(t, time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC), *u.DateListed)
	assert.False(t, u.Placeholder)

	rec["status"] = "rented"
	rec["target_rental_rate"] = float64(1900)
	require.NoError(t, h.Apply(ctx, store, rec, nil))
	u = store.Units()[0]
	assert.Equal(t, models.ListingLeased, u.ListingStatus)
	assert.True(t, decimal.NewFromInt(1900).Equal(*u.ListedPrice))
}

func TestUnitInventoryFillsPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, handlers.UpsertProspect(ctx, store, prospectRecord(), nil))
	require.NoError(t, handlers.UnitInventory(models.SourceRentEngine).Apply(ctx, store, models.Payload{
		"id": "77", "status": "active",
	}, nil))

	units := store.Units()
	require.Len(t, units, 1)
	assert.False(t, units[0].Placeholder)
	assert.Equal(t, models.ListingActive, units[0].ListingStatus)
}

func TestRetireUnit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h := handlers.RetireUnit(models.SourceRentVine)

	require.NoError(t, h.Apply(ctx, store, nil, models.Payload{"id": float64(5)}))
	units := store.Units()
	require.Len(t, units, 1)
	assert.Equal(t, "5", units[0].ExternalID(models.SourceRentVine))
	assert.NotNil(t, units[0].RetiredAt)

	assert.ErrorIs(t, h.Apply(ctx, store, nil, nil), handlers.ErrMissingID)
}
