package rollup

import (
	"strconv"

	"github.com/shopspring/decimal"

	models "vesta-pipeline/database/models_pkg"
)

const (
	ratePlaces = 4
	meanPlaces = 2

	// listings at or above this many days on market count as stale
	staleDOM = 30
)

// Rate divides with a zero guard: a zero denominator yields 0
func Rate(numerator, denominator int) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(numerator)).DivRound(decimal.NewFromInt(int64(denominator)), ratePlaces)
}

// mean of values rounded to cents, 0 for an empty set
func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...).DivRound(decimal.NewFromInt(int64(len(values))), meanPlaces)
}

// PriceBand buckets a listed rent into 500-dollar bands
func PriceBand(price *decimal.Decimal) string {
	if price == nil {
		return "unknown"
	}
	p := price.IntPart()
	switch {
	case p < 1000:
		return "under_1000"
	case p < 1500:
		return "1000_1499"
	case p < 2000:
		return "1500_1999"
	case p < 2500:
		return "2000_2499"
	case p < 3000:
		return "2500_2999"
	default:
		return "3000_plus"
	}
}

// marketAgg summarizes a set of active snapshots. DOM and price means skip
// snapshots without a value.
type marketAgg struct {
	count          int
	averageDOM     decimal.Decimal
	averagePrice   decimal.Decimal
	count30PlusDOM int
}

func aggregateSnapshots(snaps []models.DailyUnitSnapshot) marketAgg {
	var doms, prices []decimal.Decimal
	agg := marketAgg{count: len(snaps)}
	for _, s := range snaps {
		if s.DaysOnMarket != nil {
			doms = append(doms, decimal.NewFromInt(int64(*s.DaysOnMarket)))
			if *s.DaysOnMarket >= staleDOM {
				agg.count30PlusDOM++
			}
		}
		if s.ListedPrice != nil {
			prices = append(prices, *s.ListedPrice)
		}
	}
	agg.averageDOM = mean(doms)
	agg.averagePrice = mean(prices)
	return agg
}

// funnel counts leasing events by stage
type funnel struct {
	leads, showings, missed, applications int
}

func (f *funnel) add(eventType string) {
	switch eventType {
	case models.FunnelLead:
		f.leads++
	case models.FunnelShowingComplete:
		f.showings++
	case models.FunnelMissedShowing:
		f.missed++
	case models.FunnelApplication:
		f.applications++
	}
}

func (f funnel) leadToShow() decimal.Decimal { return Rate(f.showings, f.leads) }
func (f funnel) showToApp() decimal.Decimal  { return Rate(f.applications, f.showings) }

// funnelByUnit groups events by unit, dropping events without one
func funnelByUnit(events []models.LeasingEvent) map[int64]*funnel {
	out := make(map[int64]*funnel)
	for _, e := range events {
		if e.UnitID == nil {
			continue
		}
		f, ok := out[*e.UnitID]
		if !ok {
			f = &funnel{}
			out[*e.UnitID] = f
		}
		f.add(e.EventType)
	}
	return out
}

// segmentKeys lists the (type, value) buckets a snapshot belongs to
func segmentKeys(s models.DailyUnitSnapshot, u models.Unit) [][2]string {
	keys := make([][2]string, 0, 3)
	if s.Bedrooms != nil {
		keys = append(keys, [2]string{models.SegmentBedrooms, strconv.Itoa(*s.Bedrooms)})
	}
	if u.PostalCode != "" {
		keys = append(keys, [2]string{models.SegmentZipCode, u.PostalCode})
	}
	keys = append(keys, [2]string{models.SegmentPriceBand, PriceBand(s.ListedPrice)})
	return keys
}
