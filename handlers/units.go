package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
)

var listingStatuses = map[string]string{
	"active":     models.ListingActive,
	"listed":     models.ListingActive,
	"available":  models.ListingActive,
	"inactive":   models.ListingInactive,
	"unlisted":   models.ListingInactive,
	"leased":     models.ListingLeased,
	"rented":     models.ListingLeased,
	"occupied":   models.ListingLeased,
	"off_market": models.ListingOffMarket,
	"off market": models.ListingOffMarket,
	"removed":    models.ListingOffMarket,
}

// NormalizeListingStatus maps upstream status labels onto the snapshot
// statuses. Unrecognized labels yield "".
func NormalizeListingStatus(raw string) string {
	return listingStatuses[strings.ToLower(strings.TrimSpace(raw))]
}

// UnitInventory returns the handler for unit inventory rows of a source. It
// copies the current market fields onto the canonical Unit; the Snapshot
// Writer later freezes them per day.
func UnitInventory(source string) Handler {
	return Func(func(ctx context.Context, store Store, record, oldRecord models.Payload) error {
		id := helpers.String(record, "id")
		if id == "" {
			return fmt.Errorf("%s unit: %w", source, ErrMissingID)
		}

		u, err := store.EnsureUnit(ctx, source, id)
		if err != nil {
			return err
		}

		if name := helpers.String(record, "name", "unitName", "unit_name", "property_name", "propertyName"); name != "" {
			u.PropertyName = name
		}
		if zip := helpers.String(record, "postal_code", "postalCode", "zip", "zip_code", "zipcode"); zip != "" {
			u.PostalCode = zip
		}

		u.ListedPrice = helpers.Decimal(record, "target_rental_rate", "price", "listedPrice", "listed_price", "rent", "rentAmount")
		u.DaysOnMarket = helpers.Int(record, "days_on_market", "daysOnMarket", "dom")
		u.ListingStatus = NormalizeListingStatus(helpers.String(record, "status", "listingStatus", "listing_status"))
		u.Bedrooms = helpers.Int(record, "beds", "bedrooms", "numberOfBedrooms")
		u.Bathrooms = bathrooms(record)
		u.SquareFeet = helpers.Int(record, "size", "squareFeet", "square_feet", "sqft")
		u.DateListed = helpers.Date(record, "created_at", "dateListed", "date_listed", "listedDate")
		u.DateOffMarket = helpers.Date(record, "dateOffMarket", "date_off_market", "offMarketDate")
		u.Placeholder = false

		return store.SaveUnit(ctx, u)
	})
}

// bathrooms counts a half bath as 0.5
func bathrooms(record models.Payload) *decimal.Decimal {
	full := helpers.Int(record, "fullBaths", "fullBathrooms", "full_bathrooms", "bathrooms")
	if full == nil {
		return nil
	}
	total := decimal.NewFromInt(int64(*full))
	if half := helpers.Int(record, "halfBaths", "halfBathrooms", "half_bathrooms"); half != nil {
		total = total.Add(decimal.NewFromInt(int64(*half)).Mul(decimal.NewFromFloat(0.5)))
	}
	return &total
}

// RetireUnit returns the DELETE handler for unit rows of a source
func RetireUnit(source string) Handler {
	return Func(func(ctx context.Context, store Store, record, oldRecord models.Payload) error {
		id := recordID(record, oldRecord, "id")
		if id == "" {
			return fmt.Errorf("%s unit delete: %w", source, ErrMissingID)
		}

		u, err := store.EnsureUnit(ctx, source, id)
		if err != nil {
			return err
		}
		if u.RetiredAt != nil {
			return nil
		}
		u.RetiredAt = retireTime()
		return store.SaveUnit(ctx, u)
	})
}
