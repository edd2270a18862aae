package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steemit/pinmind/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PinRepository stores the pin collection. Rows are written by id and never
// deleted; validation is the engine's job.
type PinRepository struct {
	*Repository
	batchSize int
}

// NewPinRepository creates a new pin repository
func NewPinRepository(repo *Repository, batchSize int) *PinRepository {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PinRepository{Repository: repo, batchSize: batchSize}
}

// All reads every pin ordered by creation time
func (r *PinRepository) All(ctx context.Context) ([]models.Pin, error) {
	var pins []models.Pin
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&pins).Error; err != nil {
		return nil, fmt.Errorf("failed to load pins: %w", err)
	}
	return pins, nil
}

// Upsert inserts pins or overwrites the rows with the same id, in one
// transaction. Rows not in pins are left as they are. Ids must be unique
// within pins.
func (r *PinRepository) Upsert(ctx context.Context, pins []models.Pin) error {
	if len(pins) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).CreateInBatches(pins, r.batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to write pins: %w", err)
		}
		return nil
	})
}

// MaintenanceRunRepository provides the maintenance run log
type MaintenanceRunRepository struct {
	*Repository
}

// NewMaintenanceRunRepository creates a new maintenance run repository
func NewMaintenanceRunRepository(repo *Repository) *MaintenanceRunRepository {
	return &MaintenanceRunRepository{Repository: repo}
}

// Create records a run
func (r *MaintenanceRunRepository) Create(ctx context.Context, run *models.MaintenanceRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Latest retrieves the most recent run, or nil when none was recorded
func (r *MaintenanceRunRepository) Latest(ctx context.Context) (*models.MaintenanceRun, error) {
	var run models.MaintenanceRun
	if err := r.db.WithContext(ctx).Order("reference_time DESC").First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// Recent retrieves up to limit runs, newest first
func (r *MaintenanceRunRepository) Recent(ctx context.Context, limit int) ([]models.MaintenanceRun, error) {
	var runs []models.MaintenanceRun
	if err := r.db.WithContext(ctx).Order("reference_time DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
