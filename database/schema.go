package database

import (
	"fmt"
	"log"

	models "vesta-pipeline/database/models_pkg"
)

// InitSchema performs auto-migration for every pipeline table plus the
// partial indexes GORM tags cannot express.
func (d *Database) InitSchema() error {
	log.Println("🔄 Starting database schema initialization...")

	err := d.db.AutoMigrate(
		&models.WebhookEvent{},
		&models.Unit{},
		&models.Prospect{},
		&models.LeasingEvent{},
		&models.Lease{},
		&models.DailyUnitSnapshot{},
		&models.DailyMarketStats{},
		&models.DailyLeasingSummary{},
		&models.WeeklyLeasingSummary{},
		&models.MonthlyMarketReport{},
		&models.DailySegmentStats{},
		&models.PriceDrop{},
		&models.ListingCycle{},
		&models.MonthlySegmentStats{},
		&models.APISyncLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	// Backlog scan only ever looks at unprocessed, never-attempted events
	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_webhook_events_pending
		ON webhook_events (received_at, id)
		WHERE processed = false AND processing_error = ''
	`).Error; err != nil {
		log.Printf("⚠️ Warning: Failed to create idx_webhook_events_pending: %v", err)
	}

	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_webhook_events_failed
		ON webhook_events (source, table_name, received_at)
		WHERE processed = false AND processing_error <> ''
	`).Error; err != nil {
		log.Printf("⚠️ Warning: Failed to create idx_webhook_events_failed: %v", err)
	}

	// Previous priced snapshot lookup for price drop detection
	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_snapshots_priced
		ON daily_unit_snapshots (unit_id, snapshot_date DESC)
		WHERE listed_price IS NOT NULL
	`).Error; err != nil {
		log.Printf("⚠️ Warning: Failed to create idx_snapshots_priced: %v", err)
	}

	log.Println("✅ Database schema initialized")
	return nil
}
