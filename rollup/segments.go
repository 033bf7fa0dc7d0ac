package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
	"vesta-pipeline/synclog"
)

const (
	daysPerMonth       = "30.44"
	leaseLengthPlaces  = 1
	monthlySegmentWhat = "monthly segment"
)

type zipBeds struct {
	zip  string
	beds int
}

// segmentBucket collects one (zip code, bedrooms) bucket of a month
type segmentBucket struct {
	prices []decimal.Decimal
	doms   []decimal.Decimal
	vacant map[int64]bool
}

// monthlySegments replaces the month's zip code by bedroom rental index.
// Buckets come from the month's active snapshots; leases and the leasing
// funnel are attributed through the unit's current zip code and bedrooms.
func (e *Engine) monthlySegments(ctx context.Context, first time.Time, sum *synclog.Summary) error {
	last := helpers.MonthEnd(first)

	snaps, err := e.store.SnapshotsBetween(ctx, first, last)
	if err != nil {
		return fmt.Errorf("SnapshotsBetween: %w", err)
	}
	leases, err := e.store.Leases(ctx)
	if err != nil {
		return fmt.Errorf("Leases: %w", err)
	}

	seen := make(map[int64]bool)
	var ids []int64
	addID := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, s := range snaps {
		addID(s.UnitID)
	}
	for _, l := range leases {
		addID(l.UnitID)
	}
	units, err := e.store.UnitsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("UnitsByID: %w", err)
	}

	buckets := make(map[zipBeds]*segmentBucket)
	occupied := make(map[zipBeds]map[int64]bool)
	for _, s := range snaps {
		zip := units[s.UnitID].PostalCode
		if zip == "" || s.Bedrooms == nil {
			continue
		}
		k := zipBeds{zip, *s.Bedrooms}
		switch s.Status {
		case models.ListingActive:
			b, ok := buckets[k]
			if !ok {
				b = &segmentBucket{vacant: map[int64]bool{}}
				buckets[k] = b
			}
			b.vacant[s.UnitID] = true
			if s.ListedPrice != nil {
				b.prices = append(b.prices, *s.ListedPrice)
			}
			if s.DaysOnMarket != nil {
				b.doms = append(b.doms, decimal.NewFromInt(int64(*s.DaysOnMarket)))
			}
		case models.ListingLeased:
			if occupied[k] == nil {
				occupied[k] = map[int64]bool{}
			}
			occupied[k][s.UnitID] = true
		}
	}
	events, err := e.store.LeasingEventsBetween(ctx, first, last)
	if err != nil {
		return fmt.Errorf("LeasingEventsBetween: %w", err)
	}
	funnels := funnelByUnit(events)

	unitKey := func(id int64) (zipBeds, bool) {
		u, ok := units[id]
		if !ok || u.PostalCode == "" || u.Bedrooms == nil {
			return zipBeds{}, false
		}
		return zipBeds{u.PostalCode, *u.Bedrooms}, true
	}

	rents := make(map[zipBeds][]decimal.Decimal)
	lengths := make(map[zipBeds][]decimal.Decimal)
	written := make(map[zipBeds]int)
	for _, l := range leases {
		k, ok := unitKey(l.UnitID)
		if !ok {
			continue
		}
		if l.Status == models.LeaseStatusActive && l.RentAmount != nil && l.RentAmount.IsPositive() {
			rents[k] = append(rents[k], *l.RentAmount)
		}
		if l.StartDate != nil && !l.StartDate.Before(first) && !l.StartDate.After(last) {
			written[k]++
		}
		if l.StartDate != nil && l.EndDate != nil {
			days := int64(l.EndDate.Sub(*l.StartDate).Hours() / 24)
			lengths[k] = append(lengths[k], decimal.NewFromInt(days))
		}
	}

	totals := make(map[zipBeds]*funnel)
	for id, f := range funnels {
		k, ok := unitKey(id)
		if !ok {
			continue
		}
		t, ok := totals[k]
		if !ok {
			t = &funnel{}
			totals[k] = t
		}
		t.leads += f.leads
		t.showings += f.showings
		t.applications += f.applications
	}

	keys := make([]zipBeds, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].zip != keys[j].zip {
			return keys[i].zip < keys[j].zip
		}
		return keys[i].beds < keys[j].beds
	})

	rows := make([]models.MonthlySegmentStats, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		f := totals[k]
		if f == nil {
			f = &funnel{}
		}
		rows = append(rows, models.MonthlySegmentStats{
			Month:                first,
			ZipCode:              k.zip,
			BedroomCount:         k.beds,
			AvgOccupiedRent:      mean(rents[k]),
			AvgListPrice:         mean(b.prices),
			AvgDOM:               mean(b.doms),
			LeasesWrittenCount:   written[k],
			AvgLeaseLengthMonths: leaseLengthMonths(lengths[k]),
			TotalLeads:           f.leads,
			TotalShowings:        f.showings,
			TotalApplications:    f.applications,
			OccupiedUnitCount:    len(occupied[k]),
			VacantUnitCount:      len(b.vacant),
		})
	}

	st, err := e.store.ReplaceMonthlySegments(ctx, first, rows)
	if err != nil {
		return fmt.Errorf("ReplaceMonthlySegments: %w", err)
	}
	tallyReplace(sum, monthlySegmentWhat, first, st)
	return nil
}

// leaseLengthMonths converts lease lengths in days to a mean in months
func leaseLengthMonths(days []decimal.Decimal) decimal.Decimal {
	if len(days) == 0 {
		return decimal.Zero
	}
	total := decimal.Sum(days[0], days[1:]...)
	return total.Div(decimal.NewFromInt(int64(len(days)))).
		DivRound(decimal.RequireFromString(daysPerMonth), leaseLengthPlaces)
}
