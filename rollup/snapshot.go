package rollup

import (
	"context"
	"fmt"
	"log"
	"time"

	"vesta-pipeline/config"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
	"vesta-pipeline/synclog"
)

// OpSnapshot names the snapshot run in sync logs and metrics
const OpSnapshot = "daily_snapshot"

// SnapshotStore is what the snapshot writer reads and writes
type SnapshotStore interface {
	SnapshotCandidates(ctx context.Context) ([]models.Unit, error)
	UpsertSnapshot(ctx context.Context, snap *models.DailyUnitSnapshot) (bool, error)
}

// SnapshotWriter freezes the current market fields of every listed unit into
// a DailyUnitSnapshot for the day.
type SnapshotWriter struct {
	runner
	store SnapshotStore
}

// NewSnapshotWriter creates a snapshot writer. locker and recorder may be nil.
func NewSnapshotWriter(store SnapshotStore, locker Locker, recorder *synclog.Recorder, cfg config.RollupConfig) *SnapshotWriter {
	return &SnapshotWriter{
		runner: runner{locker: locker, recorder: recorder, cfg: cfg},
		store:  store,
	}
}

// RunDailySnapshot upserts one snapshot per non-retired unit carrying a listing
// status, keyed by (unit, asOf date). Running it again the same day overwrites.
// A unit whose row is rejected is recorded and skipped; a storage failure
// fails the run.
func (w *SnapshotWriter) RunDailySnapshot(ctx context.Context, asOf time.Time) (synclog.Summary, error) {
	day := helpers.DateOf(asOf)
	period := day.Format(helpers.DateLayout)
	lockKey := "lock:snapshot:" + period

	return w.run(ctx, OpSnapshot, period, lockKey, func(ctx context.Context) (synclog.Summary, error) {
		return w.snapshot(ctx, day)
	})
}

func (w *SnapshotWriter) snapshot(ctx context.Context, day time.Time) (synclog.Summary, error) {
	var sum synclog.Summary

	units, err := w.store.SnapshotCandidates(ctx)
	if err != nil {
		return sum, fmt.Errorf("SnapshotCandidates: %w", err)
	}

	log.Printf("📦 Snapshotting %d units for %s", len(units), day.Format(helpers.DateLayout))

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Processed++

		snap := snapshotOf(u, day)
		created, err := w.store.UpsertSnapshot(ctx, snap)
		if err != nil {
			if abortsRun(err) {
				return sum, fmt.Errorf("UpsertSnapshot unit %d: %w", u.ID, err)
			}
			sum.AddError("unit %d: %v", u.ID, err)
			continue
		}
		if created {
			sum.Created++
		} else {
			sum.Updated++
		}
	}
	return sum, nil
}

func snapshotOf(u models.Unit, day time.Time) *models.DailyUnitSnapshot {
	return &models.DailyUnitSnapshot{
		UnitID:        u.ID,
		SnapshotDate:  day,
		ListedPrice:   u.ListedPrice,
		DaysOnMarket:  u.DaysOnMarket,
		Status:        u.ListingStatus,
		Bedrooms:      u.Bedrooms,
		Bathrooms:     u.Bathrooms,
		SquareFeet:    u.SquareFeet,
		DateListed:    u.DateListed,
		DateOffMarket: u.DateOffMarket,
	}
}
