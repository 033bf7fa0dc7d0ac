package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
)

// Repository handles snapshots and every rollup table. Single-row aggregate
// writes are INSERT ... ON CONFLICT so concurrent or repeated runs converge on
// one row per key. Per-period row sets are replaced whole.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new market repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SnapshotCandidates returns non-retired units with an upstream listing status
func (r *Repository) SnapshotCandidates(ctx context.Context) ([]models.Unit, error) {
	var units []models.Unit
	if err := r.db.WithContext(ctx).
		Where("retired_at IS NULL AND listing_status <> ?", "").
		Order("id ASC").
		Find(&units).Error; err != nil {
		return nil, database.WrapDBError("SnapshotCandidates", err)
	}
	return units, nil
}

// UpsertSnapshot writes the snapshot keyed by (unit, snapshot_date)
func (r *Repository) UpsertSnapshot(ctx context.Context, s *models.DailyUnitSnapshot) (bool, error) {
	return r.upsert(ctx, "UpsertSnapshot", s, models.DailyUnitSnapshot{}.TableName(),
		map[string]interface{}{"unit_id": s.UnitID, "snapshot_date": s.SnapshotDate},
		[]string{"unit_id", "snapshot_date"},
		[]string{"listed_price", "days_on_market", "status", "bedrooms", "bathrooms", "square_feet", "date_listed", "date_off_market"})
}

// SnapshotsOn returns every snapshot of a date ordered by unit
func (r *Repository) SnapshotsOn(ctx context.Context, date time.Time) ([]models.DailyUnitSnapshot, error) {
	var snaps []models.DailyUnitSnapshot
	if err := r.db.WithContext(ctx).
		Where("snapshot_date = ?", date).
		Order("unit_id ASC").
		Find(&snaps).Error; err != nil {
		return nil, database.WrapDBError("SnapshotsOn", err)
	}
	return snaps, nil
}

// SnapshotsBetween returns snapshots dated from..to inclusive ordered by date and unit
func (r *Repository) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.DailyUnitSnapshot, error) {
	var snaps []models.DailyUnitSnapshot
	if err := r.db.WithContext(ctx).
		Where("snapshot_date BETWEEN ? AND ?", from, to).
		Order("snapshot_date ASC, unit_id ASC").
		Find(&snaps).Error; err != nil {
		return nil, database.WrapDBError("SnapshotsBetween", err)
	}
	return snaps, nil
}

// PreviousPricedSnapshots returns, per unit, the latest priced snapshot strictly before a date
func (r *Repository) PreviousPricedSnapshots(ctx context.Context, unitIDs []int64, before time.Time) (map[int64]models.DailyUnitSnapshot, error) {
	out := make(map[int64]models.DailyUnitSnapshot, len(unitIDs))
	if len(unitIDs) == 0 {
		return out, nil
	}

	var snaps []models.DailyUnitSnapshot
	if err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (unit_id) *
		FROM daily_unit_snapshots
		WHERE unit_id IN ? AND snapshot_date < ? AND listed_price IS NOT NULL
		ORDER BY unit_id, snapshot_date DESC
	`, unitIDs, before).Scan(&snaps).Error; err != nil {
		return nil, database.WrapDBError("PreviousPricedSnapshots", err)
	}

	for _, s := range snaps {
		out[s.UnitID] = s
	}
	return out, nil
}

// ActiveLeaseRents returns rent amounts of active leases with a positive rent
func (r *Repository) ActiveLeaseRents(ctx context.Context) ([]decimal.Decimal, error) {
	var rents []decimal.Decimal
	if err := r.db.WithContext(ctx).Model(&models.Lease{}).
		Where("status = ? AND rent_amount > 0", models.LeaseStatusActive).
		Order("id ASC").
		Pluck("rent_amount", &rents).Error; err != nil {
		return nil, database.WrapDBError("ActiveLeaseRents", err)
	}
	return rents, nil
}

// Leases returns every lease ordered by id
func (r *Repository) Leases(ctx context.Context) ([]models.Lease, error) {
	var leases []models.Lease
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&leases).Error; err != nil {
		return nil, database.WrapDBError("Leases", err)
	}
	return leases, nil
}

// ActiveSnapshotUnitIDs returns units with an active snapshot between from and to inclusive
func (r *Repository) ActiveSnapshotUnitIDs(ctx context.Context, from, to time.Time) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&models.DailyUnitSnapshot{}).
		Distinct("unit_id").
		Where("snapshot_date BETWEEN ? AND ? AND status = ?", from, to, models.ListingActive).
		Order("unit_id ASC").
		Pluck("unit_id", &ids).Error; err != nil {
		return nil, database.WrapDBError("ActiveSnapshotUnitIDs", err)
	}
	return ids, nil
}

// LeasingEventsBetween returns non-retired leasing events dated from..to inclusive
func (r *Repository) LeasingEventsBetween(ctx context.Context, from, to time.Time) ([]models.LeasingEvent, error) {
	var events []models.LeasingEvent
	if err := r.db.WithContext(ctx).
		Where("retired_at IS NULL AND event_date BETWEEN ? AND ?", from, to).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, database.WrapDBError("LeasingEventsBetween", err)
	}
	return events, nil
}

// UnitsByID loads units by primary key
func (r *Repository) UnitsByID(ctx context.Context, ids []int64) (map[int64]models.Unit, error) {
	out := make(map[int64]models.Unit, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var units []models.Unit
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&units).Error; err != nil {
		return nil, database.WrapDBError("UnitsByID", err)
	}
	for _, u := range units {
		out[u.ID] = u
	}
	return out, nil
}

// DailyStatsBetween returns daily market stats from..to inclusive, ordered by date
func (r *Repository) DailyStatsBetween(ctx context.Context, from, to time.Time) ([]models.DailyMarketStats, error) {
	var rows []models.DailyMarketStats
	if err := r.db.WithContext(ctx).
		Where("snapshot_date BETWEEN ? AND ?", from, to).
		Order("snapshot_date ASC").
		Find(&rows).Error; err != nil {
		return nil, database.WrapDBError("DailyStatsBetween", err)
	}
	return rows, nil
}

// PriceDropsBetween returns a unit's price drops detected from..to inclusive
func (r *Repository) PriceDropsBetween(ctx context.Context, unitID int64, from, to time.Time) ([]models.PriceDrop, error) {
	var drops []models.PriceDrop
	if err := r.db.WithContext(ctx).
		Where("unit_id = ? AND detected_date BETWEEN ? AND ?", unitID, from, to).
		Order("detected_date ASC").
		Find(&drops).Error; err != nil {
		return nil, database.WrapDBError("PriceDropsBetween", err)
	}
	return drops, nil
}

// CycleOpenOn returns the unit's latest cycle listed before day that had not
// closed before day, or nil.
func (r *Repository) CycleOpenOn(ctx context.Context, unitID int64, day time.Time) (*models.ListingCycle, error) {
	var c models.ListingCycle
	err := r.db.WithContext(ctx).
		Where("unit_id = ? AND listed_date < ? AND (leased_date IS NULL OR leased_date >= ?)", unitID, day, day).
		Order("listed_date DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("CycleOpenOn", err)
	}
	return &c, nil
}

// OpenListingCycle records a cycle keyed by (unit, listed_date). Rerunning the
// opening day only refreshes the original list price, so closing fields
// written by a later day survive.
func (r *Repository) OpenListingCycle(ctx context.Context, c *models.ListingCycle) (bool, error) {
	return r.upsert(ctx, "OpenListingCycle", c, c.TableName(),
		map[string]interface{}{"unit_id": c.UnitID, "listed_date": c.ListedDate},
		[]string{"unit_id", "listed_date"},
		[]string{"original_list_price", "updated_at"})
}

// CloseListingCycle writes the closing fields of an existing cycle
func (r *Repository) CloseListingCycle(ctx context.Context, c *models.ListingCycle) error {
	err := r.db.WithContext(ctx).Model(&models.ListingCycle{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"leased_date":         c.LeasedDate,
			"lease_start_date":    c.LeaseStartDate,
			"final_list_price":    c.FinalListPrice,
			"signed_lease_amount": c.SignedLeaseAmount,
			"total_dom":           c.TotalDOM,
			"total_price_drops":   c.TotalPriceDrops,
			"total_drop_amount":   c.TotalDropAmount,
			"list_to_lease_ratio": c.ListToLeaseRatio,
			"updated_at":          time.Now().UTC(),
		}).Error
	return database.WrapDBError("CloseListingCycle", err)
}

// UpsertDailyStats replaces the row for the stats date
func (r *Repository) UpsertDailyStats(ctx context.Context, row *models.DailyMarketStats) (bool, error) {
	return r.upsert(ctx, "UpsertDailyStats", row, row.TableName(),
		map[string]interface{}{"snapshot_date": row.SnapshotDate},
		[]string{"snapshot_date"},
		[]string{"active_unit_count", "average_dom", "average_price", "count_30_plus_dom", "average_portfolio_rent"})
}

// ReplaceDailyLeasing makes rows the complete set of leasing summaries for day
func (r *Repository) ReplaceDailyLeasing(ctx context.Context, day time.Time, rows []models.DailyLeasingSummary) (database.ReplaceStats, error) {
	keys := make([][]interface{}, len(rows))
	for i, row := range rows {
		keys[i] = []interface{}{row.UnitID}
	}
	return r.replacePeriod(ctx, "ReplaceDailyLeasing", &models.DailyLeasingSummary{}, "summary_date", day,
		[]string{"unit_id"}, keys, &rows,
		[]string{"leads_count", "showings_completed_count", "showings_missed_count", "applications_count", "property_display_name"})
}

// ReplaceSegmentStats makes rows the complete set of segment stats for day
func (r *Repository) ReplaceSegmentStats(ctx context.Context, day time.Time, rows []models.DailySegmentStats) (database.ReplaceStats, error) {
	keys := make([][]interface{}, len(rows))
	for i, row := range rows {
		keys[i] = []interface{}{row.SegmentType, row.SegmentValue}
	}
	return r.replacePeriod(ctx, "ReplaceSegmentStats", &models.DailySegmentStats{}, "snapshot_date", day,
		[]string{"segment_type", "segment_value"}, keys, &rows,
		[]string{"active_unit_count", "average_dom", "average_price", "count_30_plus_dom"})
}

// ReplaceWeeklyLeasing makes rows the complete set of weekly summaries for weekEnding
func (r *Repository) ReplaceWeeklyLeasing(ctx context.Context, weekEnding time.Time, rows []models.WeeklyLeasingSummary) (database.ReplaceStats, error) {
	keys := make([][]interface{}, len(rows))
	for i, row := range rows {
		keys[i] = []interface{}{row.UnitID}
	}
	return r.replacePeriod(ctx, "ReplaceWeeklyLeasing", &models.WeeklyLeasingSummary{}, "week_ending", weekEnding,
		[]string{"unit_id"}, keys, &rows,
		[]string{"leads_count", "showings_completed_count", "showings_missed_count", "applications_count",
			"lead_to_show_rate", "show_to_app_rate", "property_display_name"})
}

// ReplaceMonthlySegments makes rows the complete set of zip by bedroom stats for month
func (r *Repository) ReplaceMonthlySegments(ctx context.Context, month time.Time, rows []models.MonthlySegmentStats) (database.ReplaceStats, error) {
	keys := make([][]interface{}, len(rows))
	for i, row := range rows {
		keys[i] = []interface{}{row.ZipCode, row.BedroomCount}
	}
	return r.replacePeriod(ctx, "ReplaceMonthlySegments", &models.MonthlySegmentStats{}, "month", month,
		[]string{"zip_code", "bedroom_count"}, keys, &rows,
		[]string{"avg_occupied_rent", "avg_list_price", "avg_dom", "leases_written_count", "avg_lease_length_months",
			"total_leads", "total_showings", "total_applications", "occupied_unit_count", "vacant_unit_count"})
}

// UpsertMonthlyReport replaces the row for report_month
func (r *Repository) UpsertMonthlyReport(ctx context.Context, row *models.MonthlyMarketReport) (bool, error) {
	return r.upsert(ctx, "UpsertMonthlyReport", row, row.TableName(),
		map[string]interface{}{"report_month": row.ReportMonth},
		[]string{"report_month"},
		[]string{"days_covered", "average_dom", "average_price", "average_30_plus_dom_count",
			"total_leads", "total_showings", "total_missed_showings", "total_applications",
			"lead_to_show_rate", "show_to_app_rate"})
}

// InsertPriceDrop records a price drop unless one exists for (unit, detected_date)
func (r *Repository) InsertPriceDrop(ctx context.Context, row *models.PriceDrop) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unit_id"}, {Name: "detected_date"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, database.WrapDBError("InsertPriceDrop", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func columns(names ...string) []clause.Column {
	cols := make([]clause.Column, len(names))
	for i, n := range names {
		cols[i] = clause.Column{Name: n}
	}
	return cols
}

// upsert inserts row or overwrites the update columns of the row sharing its
// key. The existence check only feeds the created/updated counters; the write
// itself is a single atomic statement.
func (r *Repository) upsert(ctx context.Context, op string, row interface{}, table string, key map[string]interface{}, conflict, update []string) (bool, error) {
	var created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(table).Where(key).Count(&n).Error; err != nil {
			return err
		}
		created = n == 0

		return tx.Clauses(clause.OnConflict{
			Columns:   columns(conflict...),
			DoUpdates: clause.AssignmentColumns(update),
		}).Create(row).Error
	})
	if err != nil {
		return false, database.WrapDBError(op, err)
	}
	return created, nil
}

// replacePeriod makes rows the whole row set of one period in a single
// transaction: rows of the period whose key is not in keys are deleted, then
// every row is upserted on (periodCol, keyCols...). keys[i] is the key of
// rows[i]; rows is a pointer to a slice of model values.
func (r *Repository) replacePeriod(ctx context.Context, op string, model interface{}, periodCol string, period time.Time, keyCols []string, keys [][]interface{}, rows interface{}, update []string) (database.ReplaceStats, error) {
	var stats database.ReplaceStats
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where(periodCol+" = ?", period)
		if len(keys) > 0 {
			del = del.Where("("+strings.Join(keyCols, ", ")+") NOT IN ?", keys)
		}
		res := del.Delete(model)
		if res.Error != nil {
			return res.Error
		}
		stats.Removed = int(res.RowsAffected)

		if len(keys) == 0 {
			return nil
		}

		var kept int64
		if err := tx.Model(model).Where(periodCol+" = ?", period).Count(&kept).Error; err != nil {
			return err
		}
		stats.Updated = int(kept)
		stats.Created = len(keys) - int(kept)

		return tx.Clauses(clause.OnConflict{
			Columns:   columns(append([]string{periodCol}, keyCols...)...),
			DoUpdates: clause.AssignmentColumns(update),
		}).Create(rows).Error
	})
	if err != nil {
		return database.ReplaceStats{}, database.WrapDBError(op, err)
	}
	return stats, nil
}
