package handlers

import (
	"context"
	"fmt"
	"strings"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
)

// UpsertProspect creates or updates a Prospect from a RentEngine prospect row.
// The unit of interest is created as a placeholder when it is not known yet.
func UpsertProspect(ctx context.Context, store Store, record, oldRecord models.Payload) error {
	id := helpers.String(record, "id")
	if id == "" {
		return fmt.Errorf("prospect: %w", ErrMissingID)
	}

	p, err := store.FindProspect(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		p = &models.Prospect{RentEngineID: id}
	}

	name := helpers.String(record, "name", "full_name")
	if name == "" {
		name = strings.TrimSpace(helpers.String(record, "first_name") + " " + helpers.String(record, "last_name"))
	}

	p.Name = name
	p.Email = helpers.String(record, "email")
	p.Phone = helpers.String(record, "phone", "phone_number")
	p.LeadSource = helpers.String(record, "source", "lead_source")
	p.Status = helpers.String(record, "status")
	p.SourceCreatedAt = helpers.Time(record, "created_at", "createdAt")
	p.RawData = record
	p.Placeholder = false

	if unitID := helpers.String(record, "unit_id", "unitId"); unitID != "" {
		u, err := store.EnsureUnit(ctx, models.SourceRentEngine, unitID)
		if err != nil {
			return err
		}
		p.UnitOfInterestID = &u.ID
	}

	return store.SaveProspect(ctx, p)
}

// RetireProspect marks a prospect retired. An unknown prospect is recorded as
// a retired placeholder so a late INSERT cannot resurrect it.
func RetireProspect(ctx context.Context, store Store, record, oldRecord models.Payload) error {
	id := recordID(record, oldRecord, "id")
	if id == "" {
		return fmt.Errorf("prospect delete: %w", ErrMissingID)
	}

	p, err := store.EnsureProspect(ctx, id)
	if err != nil {
		return err
	}
	if p.RetiredAt != nil {
		return nil
	}
	p.RetiredAt = retireTime()
	return store.SaveProspect(ctx, p)
}
