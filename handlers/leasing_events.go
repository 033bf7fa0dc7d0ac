package handlers

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/helpers"
)

// knownEventTypes is the RentEngine leasing funnel vocabulary
var knownEventTypes = map[string]bool{}

func init() {
	for _, t := range []string{
		"new", "contacted_awaiting_information", "showing_desired", "showing_scheduled",
		"showing_confirmed", "arrived_for_showing", "showing_started", "showing_complete",
		"missed_showing", "showing_failed", "showing_canceled", "reassign_showing", "ghosting",
		"application_sent_to_prospect", "application_received", "application_pending",
		"application_in_owner_review", "application_approved", "application_rejected", "withdrawn",
		"prescreen_submitted", "prescreen_rejected_credit", "prescreen_rejected_income",
		"prescreen_rejected_id", "prescreen_approved", "looking_too_early", "lease_out_for_signing",
		"lease_signed", "deposit_received", "move_in_scheduled", "moved_in",
		"unit_of_interest_unavailable", "not_interested", "duplicate_lead", "still_deciding",
		"hoa_application_sent", "hoa_application_submitted", "hoa_application_approved",
		"hoa_application_rejected", "log_note", "assign_to_user", "blocklist_prospect",
		"unblock_prospect",
	} {
		knownEventTypes[t] = true
	}
}

var eventTypeAliases = map[string]string{
	"hoa_application_sent_to_prospect": "hoa_application_sent",
	"contacted_awaiting_info":          "contacted_awaiting_information",
	"showing_cancelled":                "showing_canceled",
}

var (
	dashRun    = regexp.MustCompile(`[-–—]+`)
	spaceRun   = regexp.MustCompile(`\s+`)
	nonKeyChar = regexp.MustCompile(`[^a-z0-9_]`)
)

// NormalizeEventType maps labels like "Showing Complete" or
// "Prescreen Rejected - Credit" to snake_case keys. Unknown labels are kept
// in normalized form.
func NormalizeEventType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = dashRun.ReplaceAllString(s, " ")
	s = spaceRun.ReplaceAllString(strings.TrimSpace(s), "_")
	s = nonKeyChar.ReplaceAllString(s, "")

	if knownEventTypes[s] {
		return s
	}
	if alias, ok := eventTypeAliases[s]; ok {
		return alias
	}
	log.Printf("⚠️ Unknown RentEngine event type %q (normalized: %q)", raw, s)
	return s
}

// keys with their own column; everything else lands in Context
var leasingEventColumns = map[string]bool{
	"id": true, "prospect_id": true, "unit_id": true, "event_type": true, "eventType": true,
	"type": true, "status": true, "created_at": true, "createdAt": true, "event_timestamp": true,
	"eventTimestamp": true, "event_date": true, "eventDate": true, "date": true,
}

// UpsertLeasingEvent creates or updates a LeasingEvent. Referenced prospect
// and unit are created as placeholders when missing.
func UpsertLeasingEvent(ctx context.Context, store Store, record, oldRecord models.Payload) error {
	id := helpers.String(record, "id")
	if id == "" {
		return fmt.Errorf("leasing event: %w", ErrMissingID)
	}

	e, err := store.FindLeasingEvent(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		e = &models.LeasingEvent{RentEngineID: id}
	}

	e.EventType = NormalizeEventType(helpers.String(record, "event_type", "eventType", "type", "status"))
	e.EventTimestamp = helpers.Time(record, "created_at", "createdAt", "event_timestamp", "eventTimestamp")
	if e.EventTimestamp != nil {
		d := helpers.DateOf(*e.EventTimestamp)
		e.EventDate = &d
	} else {
		e.EventDate = helpers.Date(record, "event_date", "eventDate", "date")
	}

	ctxPayload := models.Payload{}
	for k, v := range record {
		if !leasingEventColumns[k] {
			ctxPayload[k] = v
		}
	}
	e.Context = ctxPayload
	e.RawData = record

	if prospectID := helpers.String(record, "prospect_id", "prospectId"); prospectID != "" {
		p, err := store.EnsureProspect(ctx, prospectID)
		if err != nil {
			return err
		}
		e.ProspectID = &p.ID
	}
	if unitID := helpers.String(record, "unit_id", "unitId"); unitID != "" {
		u, err := store.EnsureUnit(ctx, models.SourceRentEngine, unitID)
		if err != nil {
			return err
		}
		e.UnitID = &u.ID
	}

	return store.SaveLeasingEvent(ctx, e)
}

// RetireLeasingEvent marks a leasing event retired so rollups stop counting it
func RetireLeasingEvent(ctx context.Context, store Store, record, oldRecord models.Payload) error {
	id := recordID(record, oldRecord, "id")
	if id == "" {
		return fmt.Errorf("leasing event delete: %w", ErrMissingID)
	}

	e, err := store.FindLeasingEvent(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		e = &models.LeasingEvent{RentEngineID: id, RawData: oldRecord}
	}
	if e.RetiredAt != nil {
		return nil
	}
	e.RetiredAt = retireTime()
	return store.SaveLeasingEvent(ctx, e)
}
