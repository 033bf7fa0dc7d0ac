package rollup

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
	"vesta-pipeline/synclog"
)

const ratioPlaces = 4

// listingCycles opens a cycle for every unit that turned active on day and
// closes the open cycle of every unit that left active on day. Activity is
// read from the day's snapshots against the previous day's.
func (e *Engine) listingCycles(ctx context.Context, day time.Time, sum *synclog.Summary) error {
	today, err := e.store.SnapshotsOn(ctx, day)
	if err != nil {
		return err
	}
	yesterday, err := e.store.SnapshotsOn(ctx, day.AddDate(0, 0, -1))
	if err != nil {
		return err
	}
	todayBy := byUnit(today)
	prevBy := byUnit(yesterday)

	for _, s := range today {
		if s.Status != models.ListingActive {
			continue
		}
		if p, ok := prevBy[s.UnitID]; ok && p.Status == models.ListingActive {
			continue
		}
		open, err := e.store.CycleOpenOn(ctx, s.UnitID, day)
		if err != nil {
			return err
		}
		if open != nil {
			continue
		}
		created, err := e.store.OpenListingCycle(ctx, &models.ListingCycle{
			UnitID:            s.UnitID,
			ListedDate:        day,
			OriginalListPrice: s.ListedPrice,
		})
		if err != nil {
			return err
		}
		tally(sum, created)
	}

	var leases map[int64]models.Lease
	for _, p := range yesterday {
		if p.Status != models.ListingActive {
			continue
		}
		if t, ok := todayBy[p.UnitID]; ok && t.Status == models.ListingActive {
			continue
		}
		c, err := e.store.CycleOpenOn(ctx, p.UnitID, day)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}

		drops, err := e.store.PriceDropsBetween(ctx, p.UnitID, c.ListedDate, day)
		if err != nil {
			return err
		}
		if leases == nil {
			if leases, err = e.latestActiveLeases(ctx); err != nil {
				return err
			}
		}

		closeCycle(c, day, p.ListedPrice, drops, leases[p.UnitID])
		if err := e.store.CloseListingCycle(ctx, c); err != nil {
			return err
		}
		sum.Processed++
		sum.Updated++
		log.Printf("🏁 Listing cycle closed on unit %d after %d days", p.UnitID, *c.TotalDOM)
	}
	return nil
}

// closeCycle fills the closing fields of c. lease is the zero Lease when the
// unit has no active lease.
func closeCycle(c *models.ListingCycle, day time.Time, finalPrice *decimal.Decimal, drops []models.PriceDrop, lease models.Lease) {
	closed := helpers.DateOf(day)
	dom := int(closed.Sub(helpers.DateOf(c.ListedDate)).Hours() / 24)

	c.LeasedDate = &closed
	c.TotalDOM = &dom
	c.FinalListPrice = finalPrice
	c.TotalPriceDrops = len(drops)
	c.TotalDropAmount = decimal.Zero
	for _, d := range drops {
		c.TotalDropAmount = c.TotalDropAmount.Add(d.ChangeAmount.Neg())
	}

	c.SignedLeaseAmount = lease.RentAmount
	c.LeaseStartDate = lease.StartDate
	c.ListToLeaseRatio = nil
	if c.SignedLeaseAmount != nil && c.OriginalListPrice != nil && c.OriginalListPrice.IsPositive() {
		ratio := c.SignedLeaseAmount.DivRound(*c.OriginalListPrice, ratioPlaces)
		c.ListToLeaseRatio = &ratio
	}
}

// latestActiveLeases returns, per unit, the active lease with a rent that
// started last
func (e *Engine) latestActiveLeases(ctx context.Context) (map[int64]models.Lease, error) {
	leases, err := e.store.Leases(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(leases, func(i, j int) bool { return startOf(leases[i]).Before(startOf(leases[j])) })

	out := make(map[int64]models.Lease)
	for _, l := range leases {
		if l.Status == models.LeaseStatusActive && l.RentAmount != nil {
			out[l.UnitID] = l
		}
	}
	return out, nil
}

func startOf(l models.Lease) time.Time {
	if l.StartDate == nil {
		return time.Time{}
	}
	return *l.StartDate
}

func byUnit(snaps []models.DailyUnitSnapshot) map[int64]models.DailyUnitSnapshot {
	out := make(map[int64]models.DailyUnitSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.UnitID] = s
	}
	return out
}
