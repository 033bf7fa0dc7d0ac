package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vesta-pipeline/database"
	"vesta-pipeline/database/leasing"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
)

// Repository handles database operations for webhook events
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new events repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Persist inserts an event and raises NOTIFY in the same transaction, so a
// listening dispatcher only wakes once the row is visible.
func (r *Repository) Persist(ctx context.Context, ev *models.WebhookEvent) (int64, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", database.NotifyChannel, strconv.FormatInt(ev.ID, 10)).Error
	})
	if err != nil {
		return 0, database.WrapDBError("Persist", err)
	}
	return ev.ID, nil
}

// Pending returns never-attempted events without a live claim, oldest first.
// A zero olderThan disables the received_at bound.
func (r *Repository) Pending(ctx context.Context, limit int, olderThan, staleBefore time.Time) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	query := r.db.WithContext(ctx).
		Where("processed = ? AND processing_error = ?", false, "").
		Where("(claim_token IS NULL OR claimed_at < ?)", staleBefore).
		Order("received_at ASC, id ASC")

	if !olderThan.IsZero() {
		query = query.Where("received_at <= ?", olderThan)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&events).Error; err != nil {
		return nil, database.WrapDBError("Pending", err)
	}
	return events, nil
}

// Failed returns unprocessed events that carry a processing error
func (r *Repository) Failed(ctx context.Context, source, table string, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	query := r.db.WithContext(ctx).
		Where("processed = ? AND processing_error <> ?", false, "").
		Order("received_at ASC, id ASC")

	if source != "" {
		query = query.Where("source = ?", source)
	}
	if table != "" {
		query = query.Where("table_name = ?", table)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&events).Error; err != nil {
		return nil, database.WrapDBError("Failed", err)
	}
	return events, nil
}

// Get retrieves one event by id
func (r *Repository) Get(ctx context.Context, id int64) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	err := r.db.WithContext(ctx).First(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.NewNotFoundErrorWithID("webhook event", id)
	}
	if err != nil {
		return nil, database.WrapDBError("Get", err)
	}
	return &ev, nil
}

// Claim atomically stamps token on the event when no live claim exists.
// It reports false when another dispatcher holds the event.
func (r *Repository) Claim(ctx context.Context, id int64, token string, staleBefore time.Time, includeProcessed bool) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Where("(claim_token IS NULL OR claimed_at < ?)", staleBefore)
	if !includeProcessed {
		query = query.Where("processed = ?", false)
	}

	res := query.Updates(map[string]interface{}{
		"claim_token": token,
		"claimed_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return false, database.WrapDBError("Claim", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, database.WrapDBError("Claim", err)
	}
	if n == 0 {
		return false, database.NewNotFoundErrorWithID("webhook event", id)
	}
	return false, nil
}

// Commit runs fn against a transaction-bound entity store and marks the event
// processed in the same transaction. Any error rolls both back.
func (r *Repository) Commit(ctx context.Context, id int64, token string, fn func(handlers.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev models.WebhookEvent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND claim_token = ?", id, token).
			First(&ev).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.ErrClaimLost
		}
		if err != nil {
			return database.WrapDBError("Commit", err)
		}

		if err := fn(leasing.NewRepository(tx)); err != nil {
			return err
		}

		return finish(tx, id, token, map[string]interface{}{
			"processed":        true,
			"processed_at":     time.Now().UTC(),
			"processing_error": "",
		}, "Commit")
	})
}

// Skip marks a routing miss processed with an explanatory note
func (r *Repository) Skip(ctx context.Context, id int64, token, note string) error {
	return finish(r.db.WithContext(ctx), id, token, map[string]interface{}{
		"processed":        true,
		"processed_at":     time.Now().UTC(),
		"processing_error": note,
	}, "Skip")
}

// Fail records a handler error, bumps attempts and releases the claim
func (r *Repository) Fail(ctx context.Context, id int64, token, message string) error {
	if message == "" {
		message = "handler failed"
	}
	return finish(r.db.WithContext(ctx), id, token, map[string]interface{}{
		"processed":        false,
		"processing_error": message,
		"attempts":         gorm.Expr("attempts + 1"),
	}, "Fail")
}

// finish applies the outcome columns and releases the claim held by token
func finish(db *gorm.DB, id int64, token string, values map[string]interface{}, op string) error {
	values["claim_token"] = nil
	values["claimed_at"] = nil

	res := db.Model(&models.WebhookEvent{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(values)
	if res.Error != nil {
		return database.WrapDBError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return database.ErrClaimLost
	}
	return nil
}
