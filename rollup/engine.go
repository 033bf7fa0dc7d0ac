package rollup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"vesta-pipeline/config"
	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
	"vesta-pipeline/synclog"
)

// Operation names used for sync logs, metrics and run locks
const (
	OpDaily    = "daily_rollup"
	OpWeekly   = "weekly_rollup"
	OpMonthly  = "monthly_rollup"
	OpBackfill = "backfill"
)

// Store is what the rollup engine reads and writes
type Store interface {
	SnapshotsOn(ctx context.Context, date time.Time) ([]models.DailyUnitSnapshot, error)
	SnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.DailyUnitSnapshot, error)
	PreviousPricedSnapshots(ctx context.Context, unitIDs []int64, before time.Time) (map[int64]models.DailyUnitSnapshot, error)
	ActiveLeaseRents(ctx context.Context) ([]decimal.Decimal, error)
	Leases(ctx context.Context) ([]models.Lease, error)
	ActiveSnapshotUnitIDs(ctx context.Context, from, to time.Time) ([]int64, error)
	LeasingEventsBetween(ctx context.Context, from, to time.Time) ([]models.LeasingEvent, error)
	UnitsByID(ctx context.Context, ids []int64) (map[int64]models.Unit, error)
	DailyStatsBetween(ctx context.Context, from, to time.Time) ([]models.DailyMarketStats, error)
	PriceDropsBetween(ctx context.Context, unitID int64, from, to time.Time) ([]models.PriceDrop, error)
	CycleOpenOn(ctx context.Context, unitID int64, day time.Time) (*models.ListingCycle, error)

	UpsertDailyStats(ctx context.Context, row *models.DailyMarketStats) (bool, error)
	ReplaceDailyLeasing(ctx context.Context, day time.Time, rows []models.DailyLeasingSummary) (database.ReplaceStats, error)
	ReplaceSegmentStats(ctx context.Context, day time.Time, rows []models.DailySegmentStats) (database.ReplaceStats, error)
	ReplaceWeeklyLeasing(ctx context.Context, weekEnding time.Time, rows []models.WeeklyLeasingSummary) (database.ReplaceStats, error)
	UpsertMonthlyReport(ctx context.Context, row *models.MonthlyMarketReport) (bool, error)
	ReplaceMonthlySegments(ctx context.Context, month time.Time, rows []models.MonthlySegmentStats) (database.ReplaceStats, error)
	InsertPriceDrop(ctx context.Context, row *models.PriceDrop) (bool, error)
	OpenListingCycle(ctx context.Context, c *models.ListingCycle) (bool, error)
	CloseListingCycle(ctx context.Context, c *models.ListingCycle) error
}

// Engine derives daily, weekly and monthly aggregates from snapshots and
// leasing events. Every write is an upsert by key or a replacement of the
// period's whole row set, so any run can be repeated.
type Engine struct {
	runner
	store Store
}

// NewEngine creates a rollup engine. locker and recorder may be nil.
func NewEngine(store Store, locker Locker, recorder *synclog.Recorder, cfg config.RollupConfig) *Engine {
	return &Engine{
		runner: runner{locker: locker, recorder: recorder, cfg: cfg},
		store:  store,
	}
}

func lockKey(operation, period string) string {
	return fmt.Sprintf("lock:rollup:%s:%s", operation, period)
}

// tally folds one upsert outcome into a summary
func tally(sum *synclog.Summary, created bool) {
	sum.Processed++
	if created {
		sum.Created++
	} else {
		sum.Updated++
	}
}

// tallyReplace folds a period replacement into a summary
func tallyReplace(sum *synclog.Summary, what string, period time.Time, st database.ReplaceStats) {
	sum.Processed += st.Created + st.Updated
	sum.Created += st.Created
	sum.Updated += st.Updated
	if st.Removed > 0 {
		log.Printf("🧹 Removed %d stale %s rows for %s", st.Removed, what, period.Format(helpers.DateLayout))
	}
}

// abortsRun reports whether err means the run cannot go on: storage itself is
// failing or the run was cancelled. Anything else is specific to one step.
func abortsRun(err error) bool {
	return database.IsSystemic(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type step struct {
	name string
	fn   func(context.Context, time.Time, *synclog.Summary) error
}

// runSteps runs steps in order. A failing step is recorded in the summary and
// the next one still runs, unless the failure aborts the whole run.
func runSteps(ctx context.Context, operation, period string, at time.Time, steps []step, sum *synclog.Summary) error {
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.fn(ctx, at, sum); err != nil {
			if abortsRun(err) {
				return fmt.Errorf("%s: %w", st.name, err)
			}
			log.Printf("⚠️ %s %s step %s failed: %v", operation, period, st.name, err)
			sum.AddError("%s: %v", st.name, err)
		}
	}
	return nil
}

// RunDailyRollup computes daily market stats, daily leasing summaries, segment
// stats, price drops and listing cycles for date. A step failing on its own
// data is recorded in the summary and the remaining steps still run; a storage
// failure fails the run.
func (e *Engine) RunDailyRollup(ctx context.Context, date time.Time) (synclog.Summary, error) {
	day := helpers.DateOf(date)
	period := day.Format(helpers.DateLayout)

	return e.run(ctx, OpDaily, period, lockKey(OpDaily, period), func(ctx context.Context) (synclog.Summary, error) {
		var sum synclog.Summary
		err := runSteps(ctx, OpDaily, period, day, []step{
			{"market_stats", e.dailyMarketStats},
			{"leasing_summaries", e.dailyLeasing},
			{"segment_stats", e.segmentStats},
			{"price_drops", e.priceDrops},
			{"listing_cycles", e.listingCycles},
		}, &sum)
		return sum, err
	})
}

func activeOnly(snaps []models.DailyUnitSnapshot) []models.DailyUnitSnapshot {
	var out []models.DailyUnitSnapshot
	for _, s := range snaps {
		if s.Status == models.ListingActive {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) dailyMarketStats(ctx context.Context, day time.Time, sum *synclog.Summary) error {
	snaps, err := e.store.SnapshotsOn(ctx, day)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		sum.Insufficient = true
		log.Printf("⚠️ No snapshots for %s, daily market stats not written", day.Format(helpers.DateLayout))
		return nil
	}

	rents, err := e.store.ActiveLeaseRents(ctx)
	if err != nil {
		return err
	}

	agg := aggregateSnapshots(activeOnly(snaps))
	created, err := e.store.UpsertDailyStats(ctx, &models.DailyMarketStats{
		SnapshotDate:         day,
		ActiveUnitCount:      agg.count,
		AverageDOM:           agg.averageDOM,
		AveragePrice:         agg.averagePrice,
		Count30PlusDOM:       agg.count30PlusDOM,
		AveragePortfolioRent: mean(rents),
	})
	if err != nil {
		return err
	}
	tally(sum, created)
	return nil
}

// dailyLeasing replaces the day's leasing summaries, so units whose events
// were retired since the last run lose their row.
func (e *Engine) dailyLeasing(ctx context.Context, day time.Time, sum *synclog.Summary) error {
	events, err := e.store.LeasingEventsBetween(ctx, day, day)
	if err != nil {
		return err
	}

	byUnit := funnelByUnit(events)
	ids := sortedIDs(byUnit)
	units, err := e.store.UnitsByID(ctx, ids)
	if err != nil {
		return err
	}

	rows := make([]models.DailyLeasingSummary, 0, len(ids))
	for _, unitID := range ids {
		f := byUnit[unitID]
		u := units[unitID]
		rows = append(rows, models.DailyLeasingSummary{
			SummaryDate:            day,
			UnitID:                 unitID,
			LeadsCount:             f.leads,
			ShowingsCompletedCount: f.showings,
			ShowingsMissedCount:    f.missed,
			ApplicationsCount:      f.applications,
			PropertyDisplayName:    u.DisplayName(),
		})
	}

	st, err := e.store.ReplaceDailyLeasing(ctx, day, rows)
	if err != nil {
		return err
	}
	tallyReplace(sum, "daily leasing", day, st)
	return nil
}

func (e *Engine) segmentStats(ctx context.Context, day time.Time, sum *synclog.Summary) error {
	snaps, err := e.store.SnapshotsOn(ctx, day)
	if err != nil {
		return err
	}
	active := activeOnly(snaps)

	ids := make([]int64, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.UnitID)
	}
	units, err := e.store.UnitsByID(ctx, ids)
	if err != nil {
		return err
	}

	buckets := make(map[[2]string][]models.DailyUnitSnapshot)
	for _, s := range active {
		for _, k := range segmentKeys(s, units[s.UnitID]) {
			buckets[k] = append(buckets[k], s)
		}
	}

	keys := make([][2]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	rows := make([]models.DailySegmentStats, 0, len(keys))
	for _, k := range keys {
		agg := aggregateSnapshots(buckets[k])
		rows = append(rows, models.DailySegmentStats{
			SnapshotDate:    day,
			SegmentType:     k[0],
			SegmentValue:    k[1],
			ActiveUnitCount: agg.count,
			AverageDOM:      agg.averageDOM,
			AveragePrice:    agg.averagePrice,
			Count30PlusDOM:  agg.count30PlusDOM,
		})
	}

	st, err := e.store.ReplaceSegmentStats(ctx, day, rows)
	if err != nil {
		return err
	}
	tallyReplace(sum, "segment", day, st)
	return nil
}

// priceDrops compares every priced snapshot of the day with the unit's most
// recent earlier priced snapshot and records strict decreases.
func (e *Engine) priceDrops(ctx context.Context, day time.Time, sum *synclog.Summary) error {
	snaps, err := e.store.SnapshotsOn(ctx, day)
	if err != nil {
		return err
	}

	var priced []models.DailyUnitSnapshot
	var ids []int64
	for _, s := range snaps {
		if s.ListedPrice != nil {
			priced = append(priced, s)
			ids = append(ids, s.UnitID)
		}
	}
	if len(priced) == 0 {
		return nil
	}

	previous, err := e.store.PreviousPricedSnapshots(ctx, ids, day)
	if err != nil {
		return err
	}

	for _, s := range priced {
		prev, ok := previous[s.UnitID]
		if !ok || prev.ListedPrice == nil {
			continue
		}
		drop, ok := DetectPriceDrop(s.UnitID, *prev.ListedPrice, *s.ListedPrice, day)
		if !ok {
			continue
		}

		created, err := e.store.InsertPriceDrop(ctx, drop)
		if err != nil {
			if abortsRun(err) {
				return err
			}
			sum.AddError("price drop unit %d: %v", s.UnitID, err)
			continue
		}
		sum.Processed++
		if created {
			sum.Created++
			log.Printf("📉 Price drop on unit %d: %s → %s (%s, %s%%)", s.UnitID,
				helpers.FormatUSD(drop.PreviousPrice), helpers.FormatUSD(drop.NewPrice),
				helpers.FormatUSD(drop.ChangeAmount), drop.ChangePercent.StringFixed(2))
		}
	}
	return nil
}

// DetectPriceDrop builds a PriceDrop when newPrice is strictly below previous.
// ChangeAmount is new minus previous and ChangePercent is relative to previous,
// both negative.
func DetectPriceDrop(unitID int64, previous, newPrice decimal.Decimal, day time.Time) (*models.PriceDrop, bool) {
	if !newPrice.LessThan(previous) || !previous.IsPositive() {
		return nil, false
	}
	change := newPrice.Sub(previous)
	return &models.PriceDrop{
		UnitID:        unitID,
		PreviousPrice: previous,
		NewPrice:      newPrice,
		ChangeAmount:  change,
		ChangePercent: change.Mul(decimal.NewFromInt(100)).DivRound(previous, meanPlaces),
		DetectedDate:  helpers.DateOf(day),
	}, true
}

// RunWeeklyRollup replaces the WeeklyLeasingSummary rows for the seven days
// ending on weekEnding, one per covered unit. Covered units are those with
// leasing events in the window plus those with an active snapshot in it.
func (e *Engine) RunWeeklyRollup(ctx context.Context, weekEnding time.Time) (synclog.Summary, error) {
	start, end := helpers.WeekWindow(weekEnding)
	period := end.Format(helpers.DateLayout)

	return e.run(ctx, OpWeekly, period, lockKey(OpWeekly, period), func(ctx context.Context) (synclog.Summary, error) {
		var sum synclog.Summary

		events, err := e.store.LeasingEventsBetween(ctx, start, end)
		if err != nil {
			return sum, fmt.Errorf("LeasingEventsBetween: %w", err)
		}
		byUnit := funnelByUnit(events)

		active, err := e.store.ActiveSnapshotUnitIDs(ctx, start, end)
		if err != nil {
			return sum, fmt.Errorf("ActiveSnapshotUnitIDs: %w", err)
		}
		for _, id := range active {
			if _, ok := byUnit[id]; !ok {
				byUnit[id] = &funnel{}
			}
		}
		if len(byUnit) == 0 {
			log.Printf("⚠️ No leasing activity or active units for week ending %s", period)
		}

		ids := sortedIDs(byUnit)
		units, err := e.store.UnitsByID(ctx, ids)
		if err != nil {
			return sum, fmt.Errorf("UnitsByID: %w", err)
		}

		rows := make([]models.WeeklyLeasingSummary, 0, len(ids))
		for _, unitID := range ids {
			f := byUnit[unitID]
			u := units[unitID]
			rows = append(rows, models.WeeklyLeasingSummary{
				WeekEnding:             end,
				UnitID:                 unitID,
				LeadsCount:             f.leads,
				ShowingsCompletedCount: f.showings,
				ShowingsMissedCount:    f.missed,
				ApplicationsCount:      f.applications,
				LeadToShowRate:         f.leadToShow(),
				ShowToAppRate:          f.showToApp(),
				PropertyDisplayName:    u.DisplayName(),
			})
		}

		st, err := e.store.ReplaceWeeklyLeasing(ctx, end, rows)
		if err != nil {
			return sum, fmt.Errorf("ReplaceWeeklyLeasing: %w", err)
		}
		tallyReplace(&sum, "weekly leasing", end, st)
		return sum, nil
	})
}

// RunMonthlyRollup writes the MonthlyMarketReport for month (a day-weighted
// mean of the month's DailyMarketStats plus the month's leasing totals) and
// replaces the month's zip code by bedroom segment stats.
func (e *Engine) RunMonthlyRollup(ctx context.Context, month time.Time) (synclog.Summary, error) {
	first := helpers.MonthStart(month)
	period := first.Format("2006-01")

	return e.run(ctx, OpMonthly, period, lockKey(OpMonthly, period), func(ctx context.Context) (synclog.Summary, error) {
		var sum synclog.Summary
		err := runSteps(ctx, OpMonthly, period, first, []step{
			{"market_report", e.monthlyReport},
			{"segment_stats", e.monthlySegments},
		}, &sum)
		return sum, err
	})
}

func (e *Engine) monthlyReport(ctx context.Context, first time.Time, sum *synclog.Summary) error {
	last := helpers.MonthEnd(first)

	stats, err := e.store.DailyStatsBetween(ctx, first, last)
	if err != nil {
		return fmt.Errorf("DailyStatsBetween: %w", err)
	}
	if len(stats) == 0 {
		sum.Insufficient = true
		log.Printf("⚠️ No daily market stats in %s, monthly report not written", first.Format("2006-01"))
		return nil
	}

	events, err := e.store.LeasingEventsBetween(ctx, first, last)
	if err != nil {
		return fmt.Errorf("LeasingEventsBetween: %w", err)
	}
	var total funnel
	for _, ev := range events {
		total.add(ev.EventType)
	}

	doms := make([]decimal.Decimal, 0, len(stats))
	prices := make([]decimal.Decimal, 0, len(stats))
	stale := make([]decimal.Decimal, 0, len(stats))
	for _, s := range stats {
		doms = append(doms, s.AverageDOM)
		prices = append(prices, s.AveragePrice)
		stale = append(stale, decimal.NewFromInt(int64(s.Count30PlusDOM)))
	}

	created, err := e.store.UpsertMonthlyReport(ctx, &models.MonthlyMarketReport{
		ReportMonth:           first,
		DaysCovered:           len(stats),
		AverageDOM:            mean(doms),
		AveragePrice:          mean(prices),
		Average30PlusDOMCount: mean(stale),
		TotalLeads:            total.leads,
		TotalShowings:         total.showings,
		TotalMissedShowings:   total.missed,
		TotalApplications:     total.applications,
		LeadToShowRate:        total.leadToShow(),
		ShowToAppRate:         total.showToApp(),
	})
	if err != nil {
		return fmt.Errorf("UpsertMonthlyReport: %w", err)
	}
	tally(sum, created)
	return nil
}

// RunBackfill runs the daily rollup for every day in [start, end], the weekly
// rollup for every Sunday and the monthly rollup for every month touched.
// Ranges longer than MaxPeriods days are rejected. A failing period is
// recorded and the others still run; a storage failure or cancellation stops
// the backfill.
func (e *Engine) RunBackfill(ctx context.Context, start, end time.Time) (synclog.Summary, error) {
	from, to := helpers.DateOf(start), helpers.DateOf(end)
	sum := synclog.Summary{
		Operation: OpBackfill,
		Period:    from.Format(helpers.DateLayout) + ".." + to.Format(helpers.DateLayout),
	}

	if to.Before(from) {
		return sum, database.NewValidationErrorWithValue("end", "must not be before start", to.Format(helpers.DateLayout))
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if e.cfg.MaxPeriods > 0 && days > e.cfg.MaxPeriods {
		return sum, database.NewValidationErrorWithValue("range", fmt.Sprintf("exceeds %d days", e.cfg.MaxPeriods), days)
	}

	log.Printf("🔄 Backfilling %s (%d days)", sum.Period, days)

	type job struct {
		period string
		fn     func(context.Context) (synclog.Summary, error)
	}
	var jobs []job
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := d
		jobs = append(jobs, job{OpDaily + " " + day.Format(helpers.DateLayout), func(ctx context.Context) (synclog.Summary, error) {
			return e.RunDailyRollup(ctx, day)
		}})
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Sunday {
			continue
		}
		day := d
		jobs = append(jobs, job{OpWeekly + " " + day.Format(helpers.DateLayout), func(ctx context.Context) (synclog.Summary, error) {
			return e.RunWeeklyRollup(ctx, day)
		}})
	}
	for m := helpers.MonthStart(from); !m.After(to); m = m.AddDate(0, 1, 0) {
		month := m
		jobs = append(jobs, job{OpMonthly + " " + month.Format("2006-01"), func(ctx context.Context) (synclog.Summary, error) {
			return e.RunMonthlyRollup(ctx, month)
		}})
	}

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := j.fn(ctx)
		sum.Merge(res)
		sum.Insufficient = sum.Insufficient || res.Insufficient
		if err != nil {
			if abortsRun(err) {
				return sum, fmt.Errorf("%s: %w", j.period, err)
			}
			sum.AddError("%s: %v", j.period, err)
		}
	}

	log.Printf("✅ %s", sum)
	return sum, nil
}

func sortedIDs(m map[int64]*funnel) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
