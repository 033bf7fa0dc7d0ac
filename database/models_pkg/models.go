package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payload is an opaque upstream JSON document. Handlers read only the keys they
// need and keep the rest untouched for audit.
type Payload = datatypes.JSONMap

// Upstream sources
const (
	SourceRentEngine = "rentengine"
	SourceRentVine   = "rentvine"
	SourceBoomPay    = "boompay"
)

// Change types carried by webhook notifications
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Listing statuses shared by units and snapshots
const (
	ListingActive    = "active"
	ListingInactive  = "inactive"
	ListingLeased    = "leased"
	ListingOffMarket = "off_market"
)

// Leasing funnel event types counted by the rollups
const (
	FunnelLead            = "new"
	FunnelShowingComplete = "showing_complete"
	FunnelMissedShowing   = "missed_showing"
	FunnelApplication     = "application_received"
)

// LeaseStatusActive marks the lease currently in force for a unit
const LeaseStatusActive = "active"

// Segment dimensions for DailySegmentStats
const (
	SegmentBedrooms  = "bedrooms"
	SegmentZipCode   = "zip_code"
	SegmentPriceBand = "price_band"
)

// WebhookEvent is an immutable record of one upstream change notification.
// Every incoming webhook is persisted here before any processing happens.
//
// Only the processing columns (Processed, ProcessedAt, ProcessingError,
// Attempts, ClaimToken, ClaimedAt) are ever updated, and only by the
// dispatcher. Rows are never deleted.
//
// Indexes:
//   - idx_webhook_route (source, table_name, event_type) for routing queries
//   - idx_webhook_backlog (processed, received_at) for backlog scans
type WebhookEvent struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Source          string     `gorm:"size:20;not null;index:idx_webhook_route,priority:1" json:"source"`
	Table           string     `gorm:"column:table_name;size:100;not null;index:idx_webhook_route,priority:2" json:"table_name"`
	EventType       string     `gorm:"size:50;not null;index:idx_webhook_route,priority:3" json:"event_type"`
	Record          Payload    `gorm:"type:jsonb" json:"record"`
	OldRecord       Payload    `gorm:"type:jsonb" json:"old_record,omitempty"`
	Processed       bool       `gorm:"not null;default:false;index:idx_webhook_backlog,priority:1" json:"processed"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text;not null;default:''" json:"processing_error,omitempty"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ClaimToken      *string    `gorm:"size:36;index" json:"-"`
	ClaimedAt       *time.Time `json:"-"`
	ReceivedAt      time.Time  `gorm:"not null;index:idx_webhook_backlog,priority:2" json:"received_at"`
}

// TableName specifies the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// Unit is the canonical rental unit. Market fields mirror the latest unit
// inventory notification; placeholder rows are created when another entity
// references a unit that has not been seen yet.
type Unit struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RentEngineID  *string          `gorm:"column:rentengine_id;size:64;uniqueIndex" json:"rentengine_id,omitempty"`
	RentVineID    *string          `gorm:"column:rentvine_id;size:64;uniqueIndex" json:"rentvine_id,omitempty"`
	PropertyName  string           `gorm:"size:500" json:"property_name"`
	PostalCode    string           `gorm:"size:20;index" json:"postal_code"`
	ListedPrice   *decimal.Decimal `gorm:"type:decimal(10,2)" json:"listed_price,omitempty"`
	DaysOnMarket  *int             `json:"days_on_market,omitempty"`
	ListingStatus string           `gorm:"size:20;index" json:"listing_status"`
	Bedrooms      *int             `json:"bedrooms,omitempty"`
	Bathrooms     *decimal.Decimal `gorm:"type:decimal(3,1)" json:"bathrooms,omitempty"`
	SquareFeet    *int             `json:"square_feet,omitempty"`
	DateListed    *time.Time       `gorm:"type:date" json:"date_listed,omitempty"`
	DateOffMarket *time.Time       `gorm:"type:date" json:"date_off_market,omitempty"`
	Placeholder   bool             `gorm:"not null;default:false" json:"placeholder"`
	RetiredAt     *time.Time       `json:"retired_at,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Unit
func (Unit) TableName() string {
	return "units"
}

// Prospect is a lead interested in renting a unit
type Prospect struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RentEngineID     string     `gorm:"column:rentengine_id;size:64;uniqueIndex;not null" json:"rentengine_id"`
	UnitOfInterestID *int64     `gorm:"index" json:"unit_of_interest_id,omitempty"`
	Name             string     `gorm:"size:255" json:"name"`
	Email            string     `gorm:"size:255" json:"email"`
	Phone            string     `gorm:"size:50" json:"phone"`
	LeadSource       string     `gorm:"size:100" json:"lead_source"`
	Status           string     `gorm:"size:100" json:"status"`
	RawData          Payload    `gorm:"type:jsonb" json:"raw_data"`
	SourceCreatedAt  *time.Time `json:"source_created_at,omitempty"`
	Placeholder      bool       `gorm:"not null;default:false" json:"placeholder"`
	RetiredAt        *time.Time `json:"retired_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Prospect
func (Prospect) TableName() string {
	return "prospects"
}

// LeasingEvent is one step of the leasing funnel (lead, showing, application...)
type LeasingEvent struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RentEngineID   string     `gorm:"column:rentengine_id;size:64;uniqueIndex;not null" json:"rentengine_id"`
	ProspectID     *int64     `gorm:"index" json:"prospect_id,omitempty"`
	UnitID         *int64     `gorm:"index" json:"unit_id,omitempty"`
	EventType      string     `gorm:"size:50;index" json:"event_type"`
	EventTimestamp *time.Time `json:"event_timestamp,omitempty"`
	EventDate      *time.Time `gorm:"type:date;index" json:"event_date,omitempty"`
	Context        Payload    `gorm:"type:jsonb" json:"context"`
	RawData        Payload    `gorm:"type:jsonb" json:"raw_data"`
	RetiredAt      *time.Time `json:"retired_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for LeasingEvent
func (LeasingEvent) TableName() string {
	return "leasing_events"
}

// Lease is read-only reference data owned by the property management sync.
// Renewals point at the lease they replace through PreviousLeaseID.
type Lease struct {
	ID              int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UnitID          int64            `gorm:"index;not null" json:"unit_id"`
	PreviousLeaseID *int64           `gorm:"index" json:"previous_lease_id,omitempty"`
	Status          string           `gorm:"size:20;index" json:"status"`
	RentAmount      *decimal.Decimal `gorm:"type:decimal(10,2)" json:"rent_amount,omitempty"`
	StartDate       *time.Time       `gorm:"type:date" json:"start_date,omitempty"`
	EndDate         *time.Time       `gorm:"type:date" json:"end_date,omitempty"`
}

// TableName specifies the table name for Lease
func (Lease) TableName() string {
	return "leases"
}

// DailyUnitSnapshot is the point-in-time market state of one unit on one day.
// At most one row exists per (unit, snapshot_date).
type DailyUnitSnapshot struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UnitID        int64            `gorm:"not null;uniqueIndex:idx_snapshot_unit_date,priority:1" json:"unit_id"`
	SnapshotDate  time.Time        `gorm:"type:date;not null;uniqueIndex:idx_snapshot_unit_date,priority:2;index:idx_snapshot_date_status,priority:1" json:"snapshot_date"`
	ListedPrice   *decimal.Decimal `gorm:"type:decimal(10,2)" json:"listed_price,omitempty"`
	DaysOnMarket  *int             `json:"days_on_market,omitempty"`
	Status        string           `gorm:"size:20;index:idx_snapshot_date_status,priority:2" json:"status"`
	Bedrooms      *int             `json:"bedrooms,omitempty"`
	Bathrooms     *decimal.Decimal `gorm:"type:decimal(3,1)" json:"bathrooms,omitempty"`
	SquareFeet    *int             `json:"square_feet,omitempty"`
	DateListed    *time.Time       `gorm:"type:date" json:"date_listed,omitempty"`
	DateOffMarket *time.Time       `gorm:"type:date" json:"date_off_market,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for DailyUnitSnapshot
func (DailyUnitSnapshot) TableName() string {
	return "daily_unit_snapshots"
}

// DailyMarketStats aggregates all active-unit snapshots of one day
type DailyMarketStats struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SnapshotDate         time.Time       `gorm:"type:date;not null;uniqueIndex" json:"snapshot_date"`
	ActiveUnitCount      int             `gorm:"not null;default:0" json:"active_unit_count"`
	AverageDOM           decimal.Decimal `gorm:"column:average_dom;type:decimal(10,2);not null;default:0" json:"average_dom"`
	AveragePrice         decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"average_price"`
	Count30PlusDOM       int             `gorm:"column:count_30_plus_dom;not null;default:0" json:"count_30_plus_dom"`
	AveragePortfolioRent decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"average_portfolio_rent"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for DailyMarketStats
func (DailyMarketStats) TableName() string {
	return "daily_market_stats"
}

// DailyLeasingSummary holds one unit's funnel counts for one day
type DailyLeasingSummary struct {
	ID                     int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SummaryDate            time.Time `gorm:"type:date;not null;uniqueIndex:idx_daily_leasing_date_unit,priority:1" json:"summary_date"`
	UnitID                 int64     `gorm:"not null;uniqueIndex:idx_daily_leasing_date_unit,priority:2" json:"unit_id"`
	LeadsCount             int       `gorm:"not null;default:0" json:"leads_count"`
	ShowingsCompletedCount int       `gorm:"not null;default:0" json:"showings_completed_count"`
	ShowingsMissedCount    int       `gorm:"not null;default:0" json:"showings_missed_count"`
	ApplicationsCount      int       `gorm:"not null;default:0" json:"applications_count"`
	PropertyDisplayName    string    `gorm:"size:500" json:"property_display_name"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for DailyLeasingSummary
func (DailyLeasingSummary) TableName() string {
	return "daily_leasing_summaries"
}

// WeeklyLeasingSummary holds one unit's funnel counts over the seven days
// ending on WeekEnding, with guarded conversion rates.
type WeeklyLeasingSummary struct {
	ID                     int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WeekEnding             time.Time       `gorm:"type:date;not null;uniqueIndex:idx_weekly_leasing_week_unit,priority:1" json:"week_ending"`
	UnitID                 int64           `gorm:"not null;uniqueIndex:idx_weekly_leasing_week_unit,priority:2" json:"unit_id"`
	LeadsCount             int             `gorm:"not null;default:0" json:"leads_count"`
	ShowingsCompletedCount int             `gorm:"not null;default:0" json:"showings_completed_count"`
	ShowingsMissedCount    int             `gorm:"not null;default:0" json:"showings_missed_count"`
	ApplicationsCount      int             `gorm:"not null;default:0" json:"applications_count"`
	LeadToShowRate         decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"lead_to_show_rate"`
	ShowToAppRate          decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"show_to_app_rate"`
	PropertyDisplayName    string          `gorm:"size:500" json:"property_display_name"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for WeeklyLeasingSummary
func (WeeklyLeasingSummary) TableName() string {
	return "weekly_leasing_summaries"
}

// MonthlyMarketReport averages the month's daily stats and totals its funnel
type MonthlyMarketReport struct {
	ID                    int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportMonth           time.Time       `gorm:"type:date;not null;uniqueIndex" json:"report_month"`
	DaysCovered           int             `gorm:"not null;default:0" json:"days_covered"`
	AverageDOM            decimal.Decimal `gorm:"column:average_dom;type:decimal(10,2);not null;default:0" json:"average_dom"`
	AveragePrice          decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"average_price"`
	Average30PlusDOMCount decimal.Decimal `gorm:"column:average_30_plus_dom_count;type:decimal(7,2);not null;default:0" json:"average_30_plus_dom_count"`
	TotalLeads            int             `gorm:"not null;default:0" json:"total_leads"`
	TotalShowings         int             `gorm:"not null;default:0" json:"total_showings"`
	TotalMissedShowings   int             `gorm:"not null;default:0" json:"total_missed_showings"`
	TotalApplications     int             `gorm:"not null;default:0" json:"total_applications"`
	LeadToShowRate        decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"lead_to_show_rate"`
	ShowToAppRate         decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"show_to_app_rate"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for MonthlyMarketReport
func (MonthlyMarketReport) TableName() string {
	return "monthly_market_reports"
}

// DailySegmentStats splits a day's active snapshots by bedrooms, zip code and
// price band.
type DailySegmentStats struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SnapshotDate    time.Time       `gorm:"type:date;not null;uniqueIndex:idx_segment_key,priority:1" json:"snapshot_date"`
	SegmentType     string          `gorm:"size:30;not null;uniqueIndex:idx_segment_key,priority:2" json:"segment_type"`
	SegmentValue    string          `gorm:"size:100;not null;uniqueIndex:idx_segment_key,priority:3" json:"segment_value"`
	ActiveUnitCount int             `gorm:"not null;default:0" json:"active_unit_count"`
	AverageDOM      decimal.Decimal `gorm:"column:average_dom;type:decimal(10,2);not null;default:0" json:"average_dom"`
	AveragePrice    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"average_price"`
	Count30PlusDOM  int             `gorm:"column:count_30_plus_dom;not null;default:0" json:"count_30_plus_dom"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for DailySegmentStats
func (DailySegmentStats) TableName() string {
	return "daily_segment_stats"
}

// PriceDrop records a strictly decreasing listed price between two
// consecutive snapshots of the same unit. ChangeAmount is always negative.
type PriceDrop struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UnitID        int64           `gorm:"not null;uniqueIndex:idx_price_drop_unit_date,priority:1" json:"unit_id"`
	PreviousPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"previous_price"`
	NewPrice      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"new_price"`
	ChangeAmount  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"change_amount"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(7,2);not null" json:"change_percent"`
	DetectedDate  time.Time       `gorm:"type:date;not null;uniqueIndex:idx_price_drop_unit_date,priority:2;index" json:"detected_date"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for PriceDrop
func (PriceDrop) TableName() string {
	return "price_drops"
}

// ListingCycle spans one stretch of a unit being actively listed, from the
// day it turns active to the day it leaves active. LeasedDate is nil while the
// cycle is open. At most one row exists per (unit, listed_date).
type ListingCycle struct {
	ID                int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UnitID            int64            `gorm:"not null;uniqueIndex:idx_cycle_unit_listed,priority:1" json:"unit_id"`
	ListedDate        time.Time        `gorm:"type:date;not null;uniqueIndex:idx_cycle_unit_listed,priority:2" json:"listed_date"`
	LeasedDate        *time.Time       `gorm:"type:date;index" json:"leased_date,omitempty"`
	LeaseStartDate    *time.Time       `gorm:"type:date" json:"lease_start_date,omitempty"`
	OriginalListPrice *decimal.Decimal `gorm:"type:decimal(10,2)" json:"original_list_price,omitempty"`
	FinalListPrice    *decimal.Decimal `gorm:"type:decimal(10,2)" json:"final_list_price,omitempty"`
	SignedLeaseAmount *decimal.Decimal `gorm:"type:decimal(10,2)" json:"signed_lease_amount,omitempty"`
	TotalDOM          *int             `gorm:"column:total_dom" json:"total_dom,omitempty"`
	TotalPriceDrops   int              `gorm:"not null;default:0" json:"total_price_drops"`
	TotalDropAmount   decimal.Decimal  `gorm:"type:decimal(10,2);not null;default:0" json:"total_drop_amount"`
	ListToLeaseRatio  *decimal.Decimal `gorm:"type:decimal(6,4)" json:"list_to_lease_ratio,omitempty"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for ListingCycle
func (ListingCycle) TableName() string {
	return "listing_cycles"
}

// MonthlySegmentStats is the rental index row for one (month, zip code,
// bedroom count) bucket.
type MonthlySegmentStats struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Month                time.Time       `gorm:"type:date;not null;uniqueIndex:idx_monthly_segment_key,priority:1" json:"month"`
	ZipCode              string          `gorm:"size:20;not null;uniqueIndex:idx_monthly_segment_key,priority:2" json:"zip_code"`
	BedroomCount         int             `gorm:"not null;uniqueIndex:idx_monthly_segment_key,priority:3" json:"bedroom_count"`
	AvgOccupiedRent      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"avg_occupied_rent"`
	AvgListPrice         decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"avg_list_price"`
	AvgDOM               decimal.Decimal `gorm:"column:avg_dom;type:decimal(10,2);not null;default:0" json:"avg_dom"`
	AvgLeaseLengthMonths decimal.Decimal `gorm:"type:decimal(5,1);not null;default:0" json:"avg_lease_length_months"`
	LeasesWrittenCount   int             `gorm:"not null;default:0" json:"leases_written_count"`
	TotalLeads           int             `gorm:"not null;default:0" json:"total_leads"`
	TotalShowings        int             `gorm:"not null;default:0" json:"total_showings"`
	TotalApplications    int             `gorm:"not null;default:0" json:"total_applications"`
	OccupiedUnitCount    int             `gorm:"not null;default:0" json:"occupied_unit_count"`
	VacantUnitCount      int             `gorm:"not null;default:0" json:"vacant_unit_count"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for MonthlySegmentStats
func (MonthlySegmentStats) TableName() string {
	return "monthly_segment_stats"
}

// Sync log statuses
const (
	SyncStarted   = "started"
	SyncCompleted = "completed"
	SyncPartial   = "partial"
	SyncFailed    = "failed"
)

// APISyncLog records one batch pull, dispatch pass or rollup run for operators
type APISyncLog struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Source         string     `gorm:"size:20;index" json:"source"`
	Endpoint       string     `gorm:"size:255" json:"endpoint"`
	SyncType       string     `gorm:"size:50" json:"sync_type"`
	Period         string     `gorm:"size:32;index" json:"period,omitempty"`
	Status         string     `gorm:"size:20;not null;default:started" json:"status"`
	RecordsFetched int        `gorm:"not null;default:0" json:"records_fetched"`
	RecordsCreated int        `gorm:"not null;default:0" json:"records_created"`
	RecordsUpdated int        `gorm:"not null;default:0" json:"records_updated"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt      time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for APISyncLog
func (APISyncLog) TableName() string {
	return "api_sync_logs"
}

// ExternalID returns the unit's id in the given upstream source, or "" when
// the source has no id column on Unit.
func (u *Unit) ExternalID(source string) string {
	var id *string
	switch source {
	case SourceRentEngine:
		id = u.RentEngineID
	case SourceRentVine:
		id = u.RentVineID
	}
	if id == nil {
		return ""
	}
	return *id
}

// SetExternalID stores the unit's id for an upstream source. It reports false
// for sources that do not identify units.
func (u *Unit) SetExternalID(source, id string) bool {
	switch source {
	case SourceRentEngine:
		u.RentEngineID = &id
	case SourceRentVine:
		u.RentVineID = &id
	default:
		return false
	}
	return true
}

// DisplayName is the label used on leasing summaries
func (u *Unit) DisplayName() string {
	if u.PropertyName != "" {
		return u.PropertyName
	}
	if id := u.ExternalID(SourceRentEngine); id != "" {
		return "RentEngine unit " + id
	}
	if id := u.ExternalID(SourceRentVine); id != "" {
		return "Rentvine unit " + id
	}
	return ""
}

// UnitColumn returns the Unit column holding a source's external id
func UnitColumn(source string) (string, bool) {
	switch source {
	case SourceRentEngine:
		return "rentengine_id", true
	case SourceRentVine:
		return "rentvine_id", true
	}
	return "", false
}
