package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
)

// SnapshotCandidates returns non-retired units with an upstream listing status
func (s *Store) SnapshotCandidates(ctx context.Context) ([]models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Unit
	for _, u := range s.st.units {
		if u.RetiredAt == nil && u.ListingStatus != "" {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertSnapshot writes the snapshot keyed by (unit, snapshot_date)
func (s *Store) UpsertSnapshot(ctx context.Context, snap *models.DailyUnitSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unitDateKey{snap.UnitID, dateKey(snap.SnapshotDate)}
	existing, ok := s.st.snapshots[key]
	if ok {
		snap.ID = existing.ID
		snap.CreatedAt = existing.CreatedAt
	} else {
		snap.ID = s.st.nextID()
		snap.CreatedAt = s.now()
	}
	s.st.snapshots[key] = *snap
	return !ok, nil
}

// SnapshotsOn returns every snapshot of a date ordered by unit
func (s *Store) SnapshotsOn(ctx context.Context, date time.Time) ([]models.DailyUnitSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dateKey(date)
	var out []models.DailyUnitSnapshot
	for k, snap := range s.st.snapshots {
		if k.date == day {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

// PreviousPricedSnapshots returns, per unit, the latest priced snapshot strictly before a date
func (s *Store) PreviousPricedSnapshots(ctx context.Context, unitIDs []int64, before time.Time) (map[int64]models.DailyUnitSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]bool, len(unitIDs))
	for _, id := range unitIDs {
		wanted[id] = true
	}
	cutoff := dateKey(before)

	out := make(map[int64]models.DailyUnitSnapshot)
	for k, snap := range s.st.snapshots {
		if !wanted[k.unitID] || k.date >= cutoff || snap.ListedPrice == nil {
			continue
		}
		if prev, ok := out[k.unitID]; !ok || dateKey(prev.SnapshotDate) < k.date {
			out[k.unitID] = snap
		}
	}
	return out, nil
}

// ActiveLeaseRents returns rent amounts of active leases with a positive rent
func (s *Store) ActiveLeaseRents(ctx context.Context) ([]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.st.leases))
	for id := range s.st.leases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []decimal.Decimal
	for _, id := range ids {
		l := s.st.leases[id]
		if l.Status == models.LeaseStatusActive && l.RentAmount != nil && l.RentAmount.IsPositive() {
			out = append(out, *l.RentAmount)
		}
	}
	return out, nil
}

// ActiveSnapshotUnitIDs returns units with an active snapshot between from and to inclusive
func (s *Store) ActiveSnapshotUnitIDs(ctx context.Context, from, to time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := dateKey(from), dateKey(to)
	seen := make(map[int64]bool)
	for k, snap := range s.st.snapshots {
		if k.date >= lo && k.date <= hi && snap.Status == models.ListingActive {
			seen[k.unitID] = true
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LeasingEventsBetween returns non-retired leasing events dated from..to inclusive
func (s *Store) LeasingEventsBetween(ctx context.Context, from, to time.Time) ([]models.LeasingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := dateKey(from), dateKey(to)
	var out []models.LeasingEvent
	for _, e := range s.st.leasingEvents {
		if e.RetiredAt != nil || e.EventDate == nil {
			continue
		}
		if d := dateKey(*e.EventDate); d >= lo && d <= hi {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UnitsByID loads units by primary key
func (s *Store) UnitsByID(ctx context.Context, ids []int64) (map[int64]models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]models.Unit, len(ids))
	for _, id := range ids {
		if u, ok := s.st.units[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// DailyStatsBetween returns daily market stats from..to inclusive, ordered by date
func (s *Store) DailyStatsBetween(ctx context.Context, from, to time.Time) ([]models.DailyMarketStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := dateKey(from), dateKey(to)
	var out []models.DailyMarketStats
	for k, row := range s.st.dailyStats {
		if k >= lo && k <= hi {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	return out, nil
}

// UpsertDailyStats replaces the row for the stats date
func (s *Store) UpsertDailyStats(ctx context.Context, row *models.DailyMarketStats) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey(row.SnapshotDate)
	existing, ok := s.st.dailyStats[key]
	s.keep(&row.ID, &row.CreatedAt, existing.ID, existing.CreatedAt, ok)
	s.st.dailyStats[key] = *row
	return !ok, nil
}

// ReplaceDailyLeasing makes rows the complete set of leasing summaries for day
func (s *Store) ReplaceDailyLeasing(ctx context.Context, day time.Time, rows []models.DailyLeasingSummary) (database.ReplaceStats, error) {
	if err := ctx.Err(); err != nil {
		return database.ReplaceStats{}, database.WrapDBError("ReplaceDailyLeasing", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	period := dateKey(day)
	return replaceRows(s, s.st.dailyLeasing, rows,
		func(k unitDateKey) bool { return k.date == period },
		func(r models.DailyLeasingSummary) unitDateKey { return unitDateKey{r.UnitID, period} },
		func(r *models.DailyLeasingSummary) (*int64, *time.Time) { return &r.ID, &r.CreatedAt }), nil
}

// ReplaceSegmentStats makes rows the complete set of segment stats for day
func (s *Store) ReplaceSegmentStats(ctx context.Context, day time.Time, rows []models.DailySegmentStats) (database.ReplaceStats, error) {
	if err := ctx.Err(); err != nil {
		return database.ReplaceStats{}, database.WrapDBError("ReplaceSegmentStats", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	period := dateKey(day)
	return replaceRows(s, s.st.segments, rows,
		func(k segmentKey) bool { return k.date == period },
		func(r models.DailySegmentStats) segmentKey { return segmentKey{period, r.SegmentType, r.SegmentValue} },
		func(r *models.DailySegmentStats) (*int64, *time.Time) { return &r.ID, &r.CreatedAt }), nil
}

// ReplaceWeeklyLeasing makes rows the complete set of weekly summaries for weekEnding
func (s *Store) ReplaceWeeklyLeasing(ctx context.Context, weekEnding time.Time, rows []models.WeeklyLeasingSummary) (database.ReplaceStats, error) {
	if err := ctx.Err(); err != nil {
		return database.ReplaceStats{}, database.WrapDBError("ReplaceWeeklyLeasing", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	period := dateKey(weekEnding)
	return replaceRows(s, s.st.weekly, rows,
		func(k unitDateKey) bool { return k.date == period },
		func(r models.WeeklyLeasingSummary) unitDateKey { return unitDateKey{r.UnitID, period} },
		func(r *models.WeeklyLeasingSummary) (*int64, *time.Time) { return &r.ID, &r.CreatedAt }), nil
}

// ReplaceMonthlySegments makes rows the complete set of zip by bedroom stats for month
func (s *Store) ReplaceMonthlySegments(ctx context.Context, month time.Time, rows []models.MonthlySegmentStats) (database.ReplaceStats, error) {
	if err := ctx.Err(); err != nil {
		return database.ReplaceStats{}, database.WrapDBError("ReplaceMonthlySegments", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	period := dateKey(month)
	return replaceRows(s, s.st.monthlySegments, rows,
		func(k monthSegmentKey) bool { return k.month == period },
		func(r models.MonthlySegmentStats) monthSegmentKey { return monthSegmentKey{period, r.ZipCode, r.BedroomCount} },
		func(r *models.MonthlySegmentStats) (*int64, *time.Time) { return &r.ID, &r.CreatedAt }), nil
}

// replaceRows deletes the rows of table selected by inPeriod whose key is not
// produced by rows, then writes every row, keeping id and created_at of rows
// it overwrites. Callers hold s.mu.
func replaceRows[K comparable, R any](s *Store, table map[K]R, rows []R, inPeriod func(K) bool, keyOf func(R) K, audit func(*R) (*int64, *time.Time)) database.ReplaceStats {
	var stats database.ReplaceStats

	fresh := make(map[K]bool, len(rows))
	for _, row := range rows {
		fresh[keyOf(row)] = true
	}
	for k := range table {
		if inPeriod(k) && !fresh[k] {
			delete(table, k)
			stats.Removed++
		}
	}

	for _, row := range rows {
		k := keyOf(row)
		existing, ok := table[k]
		id, created := audit(&row)
		oldID, oldCreated := audit(&existing)
		s.keep(id, created, *oldID, *oldCreated, ok)
		table[k] = row
		if ok {
			stats.Updated++
		} else {
			stats.Created++
		}
	}
	return stats
}

// UpsertMonthlyReport replaces the row for report_month
func (s *Store) UpsertMonthlyReport(ctx context.Context, row *models.MonthlyMarketReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey(row.ReportMonth)
	existing, ok := s.st.monthly[key]
	s.keep(&row.ID, &row.CreatedAt, existing.ID, existing.CreatedAt, ok)
	s.st.monthly[key] = *row
	return !ok, nil
}

// InsertPriceDrop records a price drop unless one exists for (unit, detected_date)
func (s *Store) InsertPriceDrop(ctx context.Context, row *models.PriceDrop) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unitDateKey{row.UnitID, dateKey(row.DetectedDate)}
	if _, ok := s.st.priceDrops[key]; ok {
		return false, nil
	}
	row.ID = s.st.nextID()
	row.CreatedAt = s.now()
	s.st.priceDrops[key] = *row
	return true, nil
}

// SnapshotsBetween returns snapshots dated from..to inclusive ordered by date and unit
func (s *Store) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.DailyUnitSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := dateKey(from), dateKey(to)
	var out []models.DailyUnitSnapshot
	for k, snap := range s.st.snapshots {
		if k.date >= lo && k.date <= hi {
			out = append(out, snap)
		}
	}
	sortSnapshots(out)
	return out, nil
}

// Leases returns every lease ordered by id
func (s *Store) Leases(ctx context.Context) ([]models.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Lease, 0, len(s.st.leases))
	for _, l := range s.st.leases {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PriceDropsBetween returns a unit's price drops detected from..to inclusive
func (s *Store) PriceDropsBetween(ctx context.Context, unitID int64, from, to time.Time) ([]models.PriceDrop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := dateKey(from), dateKey(to)
	var out []models.PriceDrop
	for k, row := range s.st.priceDrops {
		if k.unitID == unitID && k.date >= lo && k.date <= hi {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedDate.Before(out[j].DetectedDate) })
	return out, nil
}

// CycleOpenOn returns the unit's latest cycle listed before day that had not
// closed before day, or nil.
func (s *Store) CycleOpenOn(ctx context.Context, unitID int64, day time.Time) (*models.ListingCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := dateKey(day)
	var found *models.ListingCycle
	for _, c := range s.st.cycles {
		if c.UnitID != unitID || dateKey(c.ListedDate) >= d {
			continue
		}
		if c.LeasedDate != nil && dateKey(*c.LeasedDate) < d {
			continue
		}
		if found == nil || c.ListedDate.After(found.ListedDate) {
			c := c
			found = &c
		}
	}
	return found, nil
}

// OpenListingCycle records a cycle keyed by (unit, listed_date). Rerunning the
// opening day only refreshes the original list price.
func (s *Store) OpenListingCycle(ctx context.Context, c *models.ListingCycle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, database.WrapDBError("OpenListingCycle", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	listed := dateKey(c.ListedDate)
	for id, existing := range s.st.cycles {
		if existing.UnitID == c.UnitID && dateKey(existing.ListedDate) == listed {
			existing.OriginalListPrice = c.OriginalListPrice
			existing.UpdatedAt = s.now()
			s.st.cycles[id] = existing
			*c = existing
			return false, nil
		}
	}
	c.ID = s.st.nextID()
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.st.cycles[c.ID] = *c
	return true, nil
}

// CloseListingCycle writes the closing fields of an existing cycle
func (s *Store) CloseListingCycle(ctx context.Context, c *models.ListingCycle) error {
	if err := ctx.Err(); err != nil {
		return database.WrapDBError("CloseListingCycle", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.cycles[c.ID]
	if !ok {
		return database.NewNotFoundErrorWithID("listing cycle", c.ID)
	}
	existing.LeasedDate = c.LeasedDate
	existing.LeaseStartDate = c.LeaseStartDate
	existing.FinalListPrice = c.FinalListPrice
	existing.SignedLeaseAmount = c.SignedLeaseAmount
	existing.TotalDOM = c.TotalDOM
	existing.TotalPriceDrops = c.TotalPriceDrops
	existing.TotalDropAmount = c.TotalDropAmount
	existing.ListToLeaseRatio = c.ListToLeaseRatio
	existing.UpdatedAt = s.now()
	s.st.cycles[c.ID] = existing
	return nil
}

// keep carries id and created_at over from the row being replaced
func (s *Store) keep(id *int64, createdAt *time.Time, oldID int64, oldCreated time.Time, exists bool) {
	if exists {
		*id = oldID
		*createdAt = oldCreated
		return
	}
	*id = s.st.nextID()
	*createdAt = s.now()
}

// AddSnapshot seeds a snapshot directly, bypassing the Snapshot Writer
func (s *Store) AddSnapshot(snap models.DailyUnitSnapshot) {
	_, _ = s.UpsertSnapshot(context.Background(), &snap)
}

// AddLeasingEvent seeds a leasing event directly
func (s *Store) AddLeasingEvent(e models.LeasingEvent) models.LeasingEvent {
	_ = s.SaveLeasingEvent(context.Background(), &e)
	return e
}

// Snapshots returns every snapshot ordered by date then unit
func (s *Store) Snapshots() []models.DailyUnitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DailyUnitSnapshot, 0, len(s.st.snapshots))
	for _, snap := range s.st.snapshots {
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out
}

func sortSnapshots(out []models.DailyUnitSnapshot) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.Before(out[j].SnapshotDate)
		}
		return out[i].UnitID < out[j].UnitID
	})
}

// DailyStats returns the stats row for a date
func (s *Store) DailyStats(date time.Time) (models.DailyMarketStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.dailyStats[dateKey(date)]
	return row, ok
}

// DailyLeasingSummaries returns the rows of a date ordered by unit
func (s *Store) DailyLeasingSummaries(date time.Time) []models.DailyLeasingSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dateKey(date)
	var out []models.DailyLeasingSummary
	for k, row := range s.st.dailyLeasing {
		if k.date == day {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// SegmentStats returns the rows of a date ordered by type then value
func (s *Store) SegmentStats(date time.Time) []models.DailySegmentStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dateKey(date)
	var out []models.DailySegmentStats
	for k, row := range s.st.segments {
		if k.date == day {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SegmentType != out[j].SegmentType {
			return out[i].SegmentType < out[j].SegmentType
		}
		return out[i].SegmentValue < out[j].SegmentValue
	})
	return out
}

// WeeklySummaries returns the rows for a week ending ordered by unit
func (s *Store) WeeklySummaries(weekEnding time.Time) []models.WeeklyLeasingSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dateKey(weekEnding)
	var out []models.WeeklyLeasingSummary
	for k, row := range s.st.weekly {
		if k.date == day {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// MonthlyReport returns the report for a month
func (s *Store) MonthlyReport(month time.Time) (models.MonthlyMarketReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.monthly[dateKey(month)]
	return row, ok
}

// ListingCycles returns every cycle ordered by unit then listed date
func (s *Store) ListingCycles() []models.ListingCycle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ListingCycle, 0, len(s.st.cycles))
	for _, c := range s.st.cycles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitID != out[j].UnitID {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].ListedDate.Before(out[j].ListedDate)
	})
	return out
}

// MonthlySegments returns the rows of a month ordered by zip then bedrooms
func (s *Store) MonthlySegments(month time.Time) []models.MonthlySegmentStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := dateKey(month)
	var out []models.MonthlySegmentStats
	for k, row := range s.st.monthlySegments {
		if k.month == m {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZipCode != out[j].ZipCode {
			return out[i].ZipCode < out[j].ZipCode
		}
		return out[i].BedroomCount < out[j].BedroomCount
	})
	return out
}

// PriceDrops returns every price drop ordered by date then unit
func (s *Store) PriceDrops() []models.PriceDrop {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PriceDrop, 0, len(s.st.priceDrops))
	for _, row := range s.st.priceDrops {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedDate.Equal(out[j].DetectedDate) {
			return out[i].DetectedDate.Before(out[j].DetectedDate)
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}
