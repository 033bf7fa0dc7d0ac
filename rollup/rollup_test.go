package rollup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesta-pipeline/config"
	"vesta-pipeline/database"
	"vesta-pipeline/database/memory"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
	"vesta-pipeline/synclog"
)

var testCfg = config.RollupConfig{MaxPeriods: 120, OperationTimeout: time.Minute, LockTTL: time.Minute}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intp(i int) *int { return &i }

func int64p(i int64) *int64 { return &i }

func seedUnit(t *testing.T, store *memory.Store, u models.Unit) models.Unit {
	t.Helper()
	require.NoError(t, store.SaveUnit(context.Background(), &u))
	return u
}

func snapshot(unitID int64, date, price string, dom int, status string) models.DailyUnitSnapshot {
	s := models.DailyUnitSnapshot{UnitID: unitID, SnapshotDate: day(date), DaysOnMarket: intp(dom), Status: status}
	if price != "" {
		s.ListedPrice = dec(price)
	}
	return s
}

func leasingEvent(id string, unitID int64, eventType, date string) models.LeasingEvent {
	d := day(date)
	return models.LeasingEvent{RentEngineID: id, UnitID: int64p(unitID), EventType: eventType, EventDate: &d}
}

// fakeLocker grants each key once until released
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (f *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func TestRate(t *testing.T) {
	tests := []struct {
		name     string
		num, den int
		want     string
	}{
		{"zero denominator", 3, 0, "0"},
		{"zero numerator", 0, 5, "0"},
		{"exact", 1, 4, "0.25"},
		{"rounded to four places", 2, 3, "0.6667"},
		{"above one", 5, 4, "1.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, decimal.RequireFromString(tt.want).Equal(Rate(tt.num, tt.den)), "got %s", Rate(tt.num, tt.den))
		})
	}
}

func TestPriceBand(t *testing.T) {
	assert.Equal(t, "unknown", PriceBand(nil))
	assert.Equal(t, "under_1000", PriceBand(dec("999.99")))
	assert.Equal(t, "1000_1499", PriceBand(dec("1000")))
	assert.Equal(t, "1500_1999", PriceBand(dec("1900")))
	assert.Equal(t, "2000_2499", PriceBand(dec("2000")))
	assert.Equal(t, "2500_2999", PriceBand(dec("2999")))
	assert.Equal(t, "3000_plus", PriceBand(dec("4500")))
}

func TestDetectPriceDrop(t *testing.T) {
	drop, ok := DetectPriceDrop(7, decimal.RequireFromString("2000"), decimal.RequireFromString("1900"), day("2024-03-02"))
	require.True(t, ok)
	assert.True(t, drop.ChangeAmount.Equal(decimal.RequireFromString("-100")))
	assert.Equal(t, "-5.00", drop.ChangePercent.StringFixed(2))
	assert.Equal(t, day("2024-03-02"), drop.DetectedDate)

	_, ok = DetectPriceDrop(7, decimal.RequireFromString("1900"), decimal.RequireFromString("2000"), day("2024-03-02"))
	assert.False(t, ok, "increase")

	_, ok = DetectPriceDrop(7, decimal.RequireFromString("1900"), decimal.RequireFromString("1900"), day("2024-03-02"))
	assert.False(t, ok, "unchanged")
}

func TestRunDailySnapshot(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	listed := seedUnit(t, store, models.Unit{PropertyName: "12 Elm St", ListingStatus: models.ListingActive, ListedPrice: dec("1850"), DaysOnMarket: intp(12), Bedrooms: intp(2)})
	seedUnit(t, store, models.Unit{PropertyName: "no status"})
	retired := time.Now()
	seedUnit(t, store, models.Unit{PropertyName: "gone", ListingStatus: models.ListingActive, RetiredAt: &retired})

	w := NewSnapshotWriter(store, nil, synclog.NewRecorder(store, nil), testCfg)

	sum, err := w.RunDailySnapshot(ctx, time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, "2024-03-01", sum.Period)

	snaps := store.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, listed.ID, snaps[0].UnitID)
	assert.Equal(t, day("2024-03-01"), snaps[0].SnapshotDate)
	assert.True(t, snaps[0].ListedPrice.Equal(decimal.RequireFromString("1850")))

	sum, err = w.RunDailySnapshot(ctx, day("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Created)
	assert.Equal(t, 1, sum.Updated)
	assert.Len(t, store.Snapshots(), 1, "same-day rerun overwrites")

	logs := store.SyncLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, OpSnapshot, logs[0].Endpoint)
	assert.Equal(t, "snapshot", logs[0].SyncType)
	assert.Equal(t, models.SyncCompleted, logs[0].Status)
}

func TestRunDailySnapshotRespectsLock(t *testing.T) {
	store := memory.New()
	seedUnit(t, store, models.Unit{ListingStatus: models.ListingActive})

	locker := &fakeLocker{held: map[string]bool{"lock:snapshot:2024-03-01": true}}
	w := NewSnapshotWriter(store, locker, nil, testCfg)

	_, err := w.RunDailySnapshot(context.Background(), day("2024-03-01"))
	assert.ErrorIs(t, err, ErrLocked)
	assert.Empty(t, store.Snapshots())

	locker.err = errors.New("redis down")
	_, err = w.RunDailySnapshot(context.Background(), day("2024-03-01"))
	require.NoError(t, err, "a lock outage does not block the run")
	assert.Len(t, store.Snapshots(), 1)
}

func TestRunDailyRollup(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seedUnit(t, store, models.Unit{PropertyName: "12 Elm St", PostalCode: "78701"})
	b := seedUnit(t, store, models.Unit{PropertyName: "40 Oak Ave", PostalCode: "78702"})
	c := seedUnit(t, store, models.Unit{PropertyName: "9 Pine Rd", PostalCode: "78701"})

	store.AddSnapshot(snapshot(a.ID, "2024-03-01", "2000", 20, models.ListingActive))
	store.AddSnapshot(snapshot(b.ID, "2024-03-01", "1500", 40, models.ListingActive))

	s := snapshot(a.ID, "2024-03-02", "1900", 21, models.ListingActive)
	s.Bedrooms = intp(2)
	store.AddSnapshot(s)
	store.AddSnapshot(snapshot(b.ID, "2024-03-02", "1600", 41, models.ListingActive))
	store.AddSnapshot(snapshot(c.ID, "2024-03-02", "", 5, models.ListingLeased))

	store.AddLease(models.Lease{UnitID: c.ID, Status: models.LeaseStatusActive, RentAmount: dec("1700")})
	store.AddLease(models.Lease{UnitID: c.ID, Status: "ended", RentAmount: dec("1500")})
	store.AddLease(models.Lease{UnitID: b.ID, Status: models.LeaseStatusActive, RentAmount: dec("1800")})

	store.AddLeasingEvent(leasingEvent("le-1", a.ID, models.FunnelLead, "2024-03-02"))
	store.AddLeasingEvent(leasingEvent("le-2", a.ID, models.FunnelShowingComplete, "2024-03-02"))
	store.AddLeasingEvent(leasingEvent("le-3", b.ID, models.FunnelMissedShowing, "2024-03-02"))
	store.AddLeasingEvent(leasingEvent("le-4", b.ID, models.FunnelLead, "2024-03-01"))

	e := NewEngine(store, nil, synclog.NewRecorder(store, nil), testCfg)

	sum, err := e.RunDailyRollup(ctx, day("2024-03-02"))
	require.NoError(t, err)
	assert.Empty(t, sum.Errors)
	assert.False(t, sum.Insufficient)

	stats, ok := store.DailyStats(day("2024-03-02"))
	require.True(t, ok)
	assert.Equal(t, 2, stats.ActiveUnitCount)
	assert.Equal(t, "31.00", stats.AverageDOM.StringFixed(2))
	assert.Equal(t, "1750.00", stats.AveragePrice.StringFixed(2))
	assert.Equal(t, 1, stats.Count30PlusDOM)
	assert.Equal(t, "1750.00", stats.AveragePortfolioRent.StringFixed(2))

	leasing := store.DailyLeasingSummaries(day("2024-03-02"))
	require.Len(t, leasing, 2)
	assert.Equal(t, a.ID, leasing[0].UnitID)
	assert.Equal(t, 1, leasing[0].LeadsCount)
	assert.Equal(t, 1, leasing[0].ShowingsCompletedCount)
	assert.Equal(t, "12 Elm St", leasing[0].PropertyDisplayName)
	assert.Equal(t, 1, leasing[1].ShowingsMissedCount)

	drops := store.PriceDrops()
	require.Len(t, drops, 1, "only the decrease is recorded")
	assert.Equal(t, a.ID, drops[0].UnitID)
	assert.Equal(t, "-100.00", drops[0].ChangeAmount.StringFixed(2))
	assert.Equal(t, "-5.00", drops[0].ChangePercent.StringFixed(2))

	segments := store.SegmentStats(day("2024-03-02"))
	byKey := map[string]models.DailySegmentStats{}
	for _, seg := range segments {
		byKey[seg.SegmentType+"="+seg.SegmentValue] = seg
	}
	assert.Equal(t, 1, byKey["bedrooms=2"].ActiveUnitCount)
	assert.Equal(t, 1, byKey["zip_code=78701"].ActiveUnitCount, "leased unit is not active")
	assert.Equal(t, 1, byKey["zip_code=78702"].Count30PlusDOM)
	assert.Equal(t, 2, byKey["price_band=1500_1999"].ActiveUnitCount)

	rerun, err := e.RunDailyRollup(ctx, day("2024-03-02"))
	require.NoError(t, err)
	assert.Zero(t, rerun.Created, "second run only updates")
	assert.Len(t, store.PriceDrops(), 1)
	assert.Len(t, store.DailyLeasingSummaries(day("2024-03-02")), 2)
	again, _ := store.DailyStats(day("2024-03-02"))
	assert.True(t, again.AveragePrice.Equal(stats.AveragePrice))
	assert.Equal(t, stats.ID, again.ID)
}

func TestRunDailyRollupWithoutSnapshots(t *testing.T) {
	store := memory.New()
	e := NewEngine(store, nil, synclog.NewRecorder(store, nil), testCfg)

	sum, err := e.RunDailyRollup(context.Background(), day("2024-03-05"))
	require.NoError(t, err)
	assert.True(t, sum.Insufficient)

	_, ok := store.DailyStats(day("2024-03-05"))
	assert.False(t, ok, "no row on insufficient data")

	logs := store.SyncLogs()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].ErrorMessage, "insufficient data")
}

// failingStats fails the market stats write with err
type failingStats struct {
	*memory.Store
	err error
}

func (f failingStats) UpsertDailyStats(ctx context.Context, row *models.DailyMarketStats) (bool, error) {
	return false, f.err
}

func TestRunDailyRollupIsolatesSteps(t *testing.T) {
	store := memory.New()
	a := seedUnit(t, store, models.Unit{PostalCode: "78701"})
	store.AddSnapshot(snapshot(a.ID, "2024-03-01", "2000", 10, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-03-02", "1800", 11, models.ListingActive))

	overflow := database.WrapDBError("UpsertDailyStats", &pgconn.PgError{Code: "22003", Message: "numeric field overflow"})
	e := NewEngine(failingStats{store, overflow}, nil, synclog.NewRecorder(store, nil), testCfg)
	sum, err := e.RunDailyRollup(context.Background(), day("2024-03-02"))
	require.NoError(t, err)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "market_stats")

	assert.Len(t, store.PriceDrops(), 1, "later steps still ran")
	assert.NotEmpty(t, store.SegmentStats(day("2024-03-02")))
	assert.Equal(t, models.SyncPartial, store.SyncLogs()[0].Status)
}

func TestRunDailyRollupFailsOnStorageError(t *testing.T) {
	store := memory.New()
	a := seedUnit(t, store, models.Unit{PostalCode: "78701"})
	store.AddSnapshot(snapshot(a.ID, "2024-03-01", "2000", 10, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-03-02", "1800", 11, models.ListingActive))

	down := database.WrapDBError("UpsertDailyStats", errors.New("connection refused"))
	e := NewEngine(failingStats{store, down}, nil, synclog.NewRecorder(store, nil), testCfg)
	_, err := e.RunDailyRollup(context.Background(), day("2024-03-02"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Empty(t, store.PriceDrops(), "no step runs after a storage failure")
	logs := store.SyncLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncFailed, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "market_stats")
}

// failingSnapshots rejects every snapshot write with err
type failingSnapshots struct {
	*memory.Store
	err error
}

func (f failingSnapshots) UpsertSnapshot(ctx context.Context, snap *models.DailyUnitSnapshot) (bool, error) {
	return false, f.err
}

func TestRunDailySnapshotFailsOnStorageError(t *testing.T) {
	store := memory.New()
	seedUnit(t, store, models.Unit{ListingStatus: models.ListingActive})
	seedUnit(t, store, models.Unit{ListingStatus: models.ListingActive})

	down := database.WrapDBError("UpsertSnapshot", errors.New("connection reset by peer"))
	w := NewSnapshotWriter(failingSnapshots{store, down}, nil, synclog.NewRecorder(store, nil), testCfg)
	sum, err := w.RunDailySnapshot(context.Background(), day("2024-03-01"))
	require.Error(t, err)
	assert.Equal(t, 1, sum.Processed, "stops at the first unit")

	logs := store.SyncLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncFailed, logs[0].Status)

	tooLong := database.WrapDBError("UpsertSnapshot", &pgconn.PgError{Code: "22001", Message: "value too long"})
	w = NewSnapshotWriter(failingSnapshots{store, tooLong}, nil, synclog.NewRecorder(store, nil), testCfg)
	sum, err = w.RunDailySnapshot(context.Background(), day("2024-03-02"))
	require.NoError(t, err, "a rejected row only skips that unit")
	assert.Len(t, sum.Errors, 2)
	assert.Equal(t, models.SyncPartial, store.SyncLogs()[1].Status)
}

func TestRerunDropsRetiredLeasingRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seedUnit(t, store, models.Unit{PropertyName: "12 Elm St"})
	store.AddLeasingEvent(leasingEvent("le-1", a.ID, models.FunnelLead, "2024-03-06"))

	e := NewEngine(store, nil, nil, testCfg)
	_, err := e.RunDailyRollup(ctx, day("2024-03-06"))
	require.NoError(t, err)
	_, err = e.RunWeeklyRollup(ctx, day("2024-03-10"))
	require.NoError(t, err)
	require.Len(t, store.DailyLeasingSummaries(day("2024-03-06")), 1)
	require.Len(t, store.WeeklySummaries(day("2024-03-10")), 1)

	require.NoError(t, handlers.RetireLeasingEvent(ctx, store, models.Payload{}, models.Payload{"id": "le-1"}))

	_, err = e.RunDailyRollup(ctx, day("2024-03-06"))
	require.NoError(t, err)
	assert.Empty(t, store.DailyLeasingSummaries(day("2024-03-06")), "no leads left for the day")

	_, err = e.RunWeeklyRollup(ctx, day("2024-03-10"))
	require.NoError(t, err)
	assert.Empty(t, store.WeeklySummaries(day("2024-03-10")), "the unit is no longer covered that week")
}

func TestRerunDropsStaleSegments(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seedUnit(t, store, models.Unit{PostalCode: "78701"})
	s := snapshot(a.ID, "2024-03-02", "1900", 5, models.ListingActive)
	s.Bedrooms = intp(3)
	store.AddSnapshot(s)

	e := NewEngine(store, nil, nil, testCfg)
	_, err := e.RunDailyRollup(ctx, day("2024-03-02"))
	require.NoError(t, err)
	require.Len(t, store.SegmentStats(day("2024-03-02")), 3)

	// the unit was re-measured later the same day
	s.Bedrooms = intp(2)
	s.ListedPrice = dec("2100")
	store.AddSnapshot(s)

	_, err = e.RunDailyRollup(ctx, day("2024-03-02"))
	require.NoError(t, err)

	var keys []string
	for _, seg := range store.SegmentStats(day("2024-03-02")) {
		keys = append(keys, seg.SegmentType+"="+seg.SegmentValue)
	}
	assert.ElementsMatch(t, []string{"bedrooms=2", "price_band=2000_2499", "zip_code=78701"}, keys)
}

func TestListingCycles(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seedUnit(t, store, models.Unit{PropertyName: "12 Elm St"})
	store.AddSnapshot(snapshot(a.ID, "2024-03-02", "2000", 0, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-03-03", "1900", 1, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-03-04", "1850", 2, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-03-05", "", 3, models.ListingLeased))

	old, start := day("2023-01-01"), day("2024-03-10")
	store.AddLease(models.Lease{UnitID: a.ID, Status: models.LeaseStatusActive, RentAmount: dec("1700"), StartDate: &old})
	store.AddLease(models.Lease{UnitID: a.ID, Status: models.LeaseStatusActive, RentAmount: dec("1800"), StartDate: &start})

	e := NewEngine(store, nil, nil, testCfg)
	_, err := e.RunDailyRollup(ctx, day("2024-03-02"))
	require.NoError(t, err)

	cycles := store.ListingCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, day("2024-03-02"), cycles[0].ListedDate)
	assert.Equal(t, "2000.00", cycles[0].OriginalListPrice.StringFixed(2))
	assert.Nil(t, cycles[0].LeasedDate)

	for _, d := range []string{"2024-03-03", "2024-03-04", "2024-03-05"} {
		_, err := e.RunDailyRollup(ctx, day(d))
		require.NoError(t, err, d)
	}

	cycles = store.ListingCycles()
	require.Len(t, cycles, 1)
	c := cycles[0]
	require.NotNil(t, c.LeasedDate)
	assert.Equal(t, day("2024-03-05"), *c.LeasedDate)
	assert.Equal(t, 3, *c.TotalDOM)
	assert.Equal(t, "1850.00", c.FinalListPrice.StringFixed(2))
	assert.Equal(t, 2, c.TotalPriceDrops)
	assert.Equal(t, "150.00", c.TotalDropAmount.StringFixed(2))
	assert.Equal(t, "1800.00", c.SignedLeaseAmount.StringFixed(2), "latest active lease")
	assert.Equal(t, start, *c.LeaseStartDate)
	assert.Equal(t, "0.9000", c.ListToLeaseRatio.StringFixed(4))

	// reruns of the closing and the opening day converge on the same cycle
	_, err = e.RunDailyRollup(ctx, day("2024-03-05"))
	require.NoError(t, err)
	_, err = e.RunDailyRollup(ctx, day("2024-03-02"))
	require.NoError(t, err)

	cycles = store.ListingCycles()
	require.Len(t, cycles, 1)
	require.NotNil(t, cycles[0].LeasedDate, "reopening day keeps the close")
	assert.Equal(t, 3, *cycles[0].TotalDOM)
}

func TestRunMonthlyRollupSegments(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seedUnit(t, store, models.Unit{PostalCode: "78701", Bedrooms: intp(2)})
	b := seedUnit(t, store, models.Unit{PostalCode: "78701", Bedrooms: intp(2)})
	c := seedUnit(t, store, models.Unit{PostalCode: "78702", Bedrooms: intp(1)})
	d := seedUnit(t, store, models.Unit{Bedrooms: intp(2)})

	withBeds := func(s models.DailyUnitSnapshot, beds int) models.DailyUnitSnapshot {
		s.Bedrooms = intp(beds)
		return s
	}
	store.AddSnapshot(withBeds(snapshot(a.ID, "2024-03-01", "2000", 10, models.ListingActive), 2))
	store.AddSnapshot(withBeds(snapshot(a.ID, "2024-03-02", "1900", 11, models.ListingActive), 2))
	store.AddSnapshot(withBeds(snapshot(b.ID, "2024-03-01", "", 0, models.ListingLeased), 2))
	store.AddSnapshot(withBeds(snapshot(c.ID, "2024-03-05", "1500", 3, models.ListingActive), 1))
	store.AddSnapshot(withBeds(snapshot(d.ID, "2024-03-05", "1200", 3, models.ListingActive), 2))
	store.AddSnapshot(withBeds(snapshot(a.ID, "2024-04-01", "9999", 40, models.ListingActive), 2))

	bStart, bEnd := day("2024-03-15"), day("2025-03-15")
	aStart, aEnd := day("2023-01-01"), day("2023-07-01")
	store.AddLease(models.Lease{UnitID: b.ID, Status: models.LeaseStatusActive, RentAmount: dec("2100"), StartDate: &bStart, EndDate: &bEnd})
	store.AddLease(models.Lease{UnitID: a.ID, Status: "ended", RentAmount: dec("1800"), StartDate: &aStart, EndDate: &aEnd})

	store.AddLeasingEvent(leasingEvent("l1", a.ID, models.FunnelLead, "2024-03-03"))
	store.AddLeasingEvent(leasingEvent("s1", b.ID, models.FunnelShowingComplete, "2024-03-04"))
	store.AddLeasingEvent(leasingEvent("l2", c.ID, models.FunnelLead, "2024-03-05"))
	store.AddLeasingEvent(leasingEvent("l3", a.ID, models.FunnelLead, "2024-04-02"))

	e := NewEngine(store, nil, nil, testCfg)
	sum, err := e.RunMonthlyRollup(ctx, day("2024-03-20"))
	require.NoError(t, err)
	assert.True(t, sum.Insufficient, "no daily stats for the market report")
	assert.Empty(t, sum.Errors)

	rows := store.MonthlySegments(day("2024-03-01"))
	require.Len(t, rows, 2, "units without a zip code are skipped")

	two := rows[0]
	assert.Equal(t, "78701", two.ZipCode)
	assert.Equal(t, 2, two.BedroomCount)
	assert.Equal(t, 1, two.VacantUnitCount)
	assert.Equal(t, 1, two.OccupiedUnitCount)
	assert.Equal(t, "1950.00", two.AvgListPrice.StringFixed(2))
	assert.Equal(t, "10.50", two.AvgDOM.StringFixed(2))
	assert.Equal(t, "2100.00", two.AvgOccupiedRent.StringFixed(2))
	assert.Equal(t, 1, two.LeasesWrittenCount)
	assert.Equal(t, "9.0", two.AvgLeaseLengthMonths.StringFixed(1))
	assert.Equal(t, 1, two.TotalLeads)
	assert.Equal(t, 1, two.TotalShowings)

	one := rows[1]
	assert.Equal(t, "78702", one.ZipCode)
	assert.Equal(t, 1, one.BedroomCount)
	assert.Equal(t, 1, one.TotalLeads)
	assert.True(t, one.AvgOccupiedRent.IsZero())

	// c turns out to have been leased all along
	store.AddSnapshot(withBeds(snapshot(c.ID, "2024-03-05", "", 3, models.ListingLeased), 1))
	sum, err = e.RunMonthlyRollup(ctx, day("2024-03-20"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)

	rows = store.MonthlySegments(day("2024-03-01"))
	require.Len(t, rows, 1, "stale bucket removed")
	assert.Equal(t, two.ID, rows[0].ID)
}

func TestPriceDropUsesMostRecentPricedSnapshot(t *testing.T) {
	store := memory.New()
	a := seedUnit(t, store, models.Unit{})
	store.AddSnapshot(snapshot(a.ID, "2024-02-20", "2400", 1, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-02-27", "2200", 8, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-02-28", "", 9, models.ListingActive))
	store.AddSnapshot(snapshot(a.ID, "2024-03-01", "2100", 10, models.ListingActive))

	e := NewEngine(store, nil, nil, testCfg)
	_, err := e.RunDailyRollup(context.Background(), day("2024-03-01"))
	require.NoError(t, err)

	drops := store.PriceDrops()
	require.Len(t, drops, 1)
	assert.Equal(t, "2200.00", drops[0].PreviousPrice.StringFixed(2))
	assert.Equal(t, "-100.00", drops[0].ChangeAmount.StringFixed(2))
}

func TestRunWeeklyRollup(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	a := seedUnit(t, store, models.Unit{PropertyName: "12 Elm St"})
	quiet := seedUnit(t, store, models.Unit{PropertyName: "40 Oak Ave"})

	for i, ev := range []struct{ kind, date string }{
		{models.FunnelLead, "2024-03-04"},
		{models.FunnelLead, "2024-03-05"},
		{models.FunnelLead, "2024-03-06"},
		{models.FunnelLead, "2024-03-07"},
		{models.FunnelShowingComplete, "2024-03-08"},
		{models.FunnelShowingComplete, "2024-03-09"},
		{models.FunnelShowingComplete, "2024-03-10"},
		{models.FunnelApplication, "2024-03-10"},
		{models.FunnelLead, "2024-03-03"},
	} {
		store.AddLeasingEvent(leasingEvent(string(rune('a'+i)), a.ID, ev.kind, ev.date))
	}
	store.AddSnapshot(snapshot(quiet.ID, "2024-03-06", "1500", 3, models.ListingActive))

	e := NewEngine(store, nil, nil, testCfg)
	sum, err := e.RunWeeklyRollup(ctx, day("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created)

	rows := store.WeeklySummaries(day("2024-03-10"))
	require.Len(t, rows, 2)

	busy := rows[0]
	assert.Equal(t, a.ID, busy.UnitID)
	assert.Equal(t, 4, busy.LeadsCount, "the event before the window is excluded")
	assert.Equal(t, 3, busy.ShowingsCompletedCount)
	assert.Equal(t, 1, busy.ApplicationsCount)
	assert.Equal(t, "0.7500", busy.LeadToShowRate.StringFixed(4))
	assert.Equal(t, "0.3333", busy.ShowToAppRate.StringFixed(4))

	idle := rows[1]
	assert.Equal(t, quiet.ID, idle.UnitID)
	assert.Zero(t, idle.LeadsCount)
	assert.True(t, idle.LeadToShowRate.IsZero(), "zero leads gives a zero rate")
	assert.True(t, idle.ShowToAppRate.IsZero())
	assert.Equal(t, "40 Oak Ave", idle.PropertyDisplayName)

	sum, err = e.RunWeeklyRollup(ctx, day("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Updated)
	assert.Len(t, store.WeeklySummaries(day("2024-03-10")), 2)
}

func TestRunMonthlyRollup(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	e := NewEngine(store, nil, nil, testCfg)

	sum, err := e.RunMonthlyRollup(ctx, day("2024-03-15"))
	require.NoError(t, err)
	assert.True(t, sum.Insufficient)
	_, ok := store.MonthlyReport(day("2024-03-01"))
	assert.False(t, ok)

	for _, row := range []models.DailyMarketStats{
		{SnapshotDate: day("2024-03-01"), AverageDOM: decimal.NewFromInt(10), AveragePrice: decimal.NewFromInt(2000), Count30PlusDOM: 1},
		{SnapshotDate: day("2024-03-02"), AverageDOM: decimal.NewFromInt(20), AveragePrice: decimal.NewFromInt(1000), Count30PlusDOM: 2},
		{SnapshotDate: day("2024-03-03"), AverageDOM: decimal.NewFromInt(31), AveragePrice: decimal.NewFromInt(1500), Count30PlusDOM: 4},
		{SnapshotDate: day("2024-04-01"), AverageDOM: decimal.NewFromInt(99), AveragePrice: decimal.NewFromInt(9999), Count30PlusDOM: 9},
	} {
		r := row
		_, err := store.UpsertDailyStats(ctx, &r)
		require.NoError(t, err)
	}
	u := seedUnit(t, store, models.Unit{})
	store.AddLeasingEvent(leasingEvent("l1", u.ID, models.FunnelLead, "2024-03-02"))
	store.AddLeasingEvent(leasingEvent("l2", u.ID, models.FunnelLead, "2024-03-20"))
	store.AddLeasingEvent(leasingEvent("s1", u.ID, models.FunnelShowingComplete, "2024-03-21"))
	store.AddLeasingEvent(leasingEvent("m1", u.ID, models.FunnelMissedShowing, "2024-03-22"))
	store.AddLeasingEvent(leasingEvent("x1", u.ID, models.FunnelLead, "2024-04-02"))

	sum, err = e.RunMonthlyRollup(ctx, day("2024-03-15"))
	require.NoError(t, err)
	assert.False(t, sum.Insufficient)
	assert.Equal(t, "2024-03", sum.Period)

	report, ok := store.MonthlyReport(day("2024-03-01"))
	require.True(t, ok)
	assert.Equal(t, 3, report.DaysCovered)
	assert.Equal(t, "20.33", report.AverageDOM.StringFixed(2))
	assert.Equal(t, "1500.00", report.AveragePrice.StringFixed(2))
	assert.Equal(t, "2.33", report.Average30PlusDOMCount.StringFixed(2))
	assert.Equal(t, 2, report.TotalLeads)
	assert.Equal(t, 1, report.TotalShowings)
	assert.Equal(t, 1, report.TotalMissedShowings)
	assert.Equal(t, "0.5000", report.LeadToShowRate.StringFixed(4))
	assert.True(t, report.ShowToAppRate.IsZero())
}

func TestRunBackfill(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	a := seedUnit(t, store, models.Unit{})
	for d := day("2024-02-26"); !d.After(day("2024-03-04")); d = d.AddDate(0, 0, 1) {
		store.AddSnapshot(models.DailyUnitSnapshot{UnitID: a.ID, SnapshotDate: d, ListedPrice: dec("2000"), DaysOnMarket: intp(5), Status: models.ListingActive})
	}

	e := NewEngine(store, &fakeLocker{}, synclog.NewRecorder(store, nil), testCfg)
	sum, err := e.RunBackfill(ctx, day("2024-02-26"), day("2024-03-04"))
	require.NoError(t, err)
	assert.Empty(t, sum.Errors)

	for d := day("2024-02-26"); !d.After(day("2024-03-04")); d = d.AddDate(0, 0, 1) {
		_, ok := store.DailyStats(d)
		assert.True(t, ok, d.Format("2006-01-02"))
	}
	assert.Len(t, store.WeeklySummaries(day("2024-03-03")), 1, "one Sunday in range")
	_, ok := store.MonthlyReport(day("2024-02-01"))
	assert.True(t, ok)
	_, ok = store.MonthlyReport(day("2024-03-01"))
	assert.True(t, ok)

	// 8 daily + 1 weekly + 2 monthly runs, each with its own sync log
	assert.Len(t, store.SyncLogs(), 11)
}

func TestRunBackfillRejectsLongRanges(t *testing.T) {
	cfg := testCfg
	cfg.MaxPeriods = 7
	e := NewEngine(memory.New(), nil, nil, cfg)

	_, err := e.RunBackfill(context.Background(), day("2024-03-01"), day("2024-03-08"))
	assert.Error(t, err)

	_, err = e.RunBackfill(context.Background(), day("2024-03-08"), day("2024-03-01"))
	assert.Error(t, err)

	_, err = e.RunBackfill(context.Background(), day("2024-03-01"), day("2024-03-07"))
	assert.NoError(t, err)
}
