package synclog

import (
	"context"

	"gorm.io/gorm"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
)

// Repository handles database operations for sync logs
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sync log repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateLog inserts a sync log row
func (r *Repository) CreateLog(ctx context.Context, l *models.APISyncLog) error {
	if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
		return database.WrapDBError("CreateLog", err)
	}
	return nil
}

// SaveLog updates a sync log row
func (r *Repository) SaveLog(ctx context.Context, l *models.APISyncLog) error {
	if err := r.db.WithContext(ctx).Save(l).Error; err != nil {
		return database.WrapDBError("SaveLog", err)
	}
	return nil
}

// Recent returns the latest sync logs, newest first
func (r *Repository) Recent(ctx context.Context, source string, limit int) ([]models.APISyncLog, error) {
	var logs []models.APISyncLog
	query := r.db.WithContext(ctx).Order("started_at DESC, id DESC")

	if source != "" {
		query = query.Where("source = ?", source)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&logs).Error; err != nil {
		return nil, database.WrapDBError("Recent", err)
	}
	return logs, nil
}
