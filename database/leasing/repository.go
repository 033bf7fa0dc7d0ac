package leasing

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
)

// Repository handles canonical units, prospects and leasing events.
// Storage failures come back as *database.DBError so the dispatcher can tell
// them apart from payload problems.
type Repository struct {
	db *gorm.DB
}

var _ handlers.Store = (*Repository)(nil)

// NewRepository creates a new leasing repository. Pass a transaction to bind
// every write to it.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindUnit looks a unit up by its id in an upstream source
func (r *Repository) FindUnit(ctx context.Context, source, externalID string) (*models.Unit, error) {
	col, ok := models.UnitColumn(source)
	if !ok {
		return nil, database.NewValidationErrorWithValue("source", "source does not identify units", source)
	}

	var u models.Unit
	err := r.db.WithContext(ctx).Where(col+" = ?", externalID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("FindUnit", err)
	}
	return &u, nil
}

// EnsureUnit returns the unit or inserts a placeholder. Concurrent inserts of
// the same id are resolved by the unique index.
func (r *Repository) EnsureUnit(ctx context.Context, source, externalID string) (*models.Unit, error) {
	u, err := r.FindUnit(ctx, source, externalID)
	if err != nil || u != nil {
		return u, err
	}

	col, _ := models.UnitColumn(source)
	placeholder := models.Unit{Placeholder: true}
	placeholder.SetExternalID(source, externalID)

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: col}}, DoNothing: true}).
		Create(&placeholder).Error; err != nil {
		return nil, database.WrapDBError("EnsureUnit", err)
	}
	return r.FindUnit(ctx, source, externalID)
}

// SaveUnit inserts or fully updates a unit
func (r *Repository) SaveUnit(ctx context.Context, u *models.Unit) error {
	return database.WrapDBError("SaveUnit", r.db.WithContext(ctx).Save(u).Error)
}

// FindProspect looks a prospect up by RentEngine id
func (r *Repository) FindProspect(ctx context.Context, rentengineID string) (*models.Prospect, error) {
	var p models.Prospect
	err := r.db.WithContext(ctx).Where("rentengine_id = ?", rentengineID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("FindProspect", err)
	}
	return &p, nil
}

// EnsureProspect returns the prospect or inserts a placeholder
func (r *Repository) EnsureProspect(ctx context.Context, rentengineID string) (*models.Prospect, error) {
	p, err := r.FindProspect(ctx, rentengineID)
	if err != nil || p != nil {
		return p, err
	}

	placeholder := models.Prospect{RentEngineID: rentengineID, Placeholder: true}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "rentengine_id"}}, DoNothing: true}).
		Create(&placeholder).Error; err != nil {
		return nil, database.WrapDBError("EnsureProspect", err)
	}
	return r.FindProspect(ctx, rentengineID)
}

// SaveProspect inserts or fully updates a prospect
func (r *Repository) SaveProspect(ctx context.Context, p *models.Prospect) error {
	return database.WrapDBError("SaveProspect", r.db.WithContext(ctx).Save(p).Error)
}

// FindLeasingEvent looks a leasing event up by RentEngine id
func (r *Repository) FindLeasingEvent(ctx context.Context, rentengineID string) (*models.LeasingEvent, error) {
	var e models.LeasingEvent
	err := r.db.WithContext(ctx).Where("rentengine_id = ?", rentengineID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("FindLeasingEvent", err)
	}
	return &e, nil
}

// SaveLeasingEvent inserts or fully updates a leasing event
func (r *Repository) SaveLeasingEvent(ctx context.Context, e *models.LeasingEvent) error {
	return database.WrapDBError("SaveLeasingEvent", r.db.WithContext(ctx).Save(e).Error)
}
