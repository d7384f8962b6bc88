package repository

import (
	"context"

	"github.com/timmy/tweetpurge/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultHistoryLimit = 20

// RunRepository stores archived deletion run summaries.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save inserts a run, keeping the first write if the id was archived already.
func (r *RunRepository) Save(ctx context.Context, run *domain.DeletionRun) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(run).Error
}

// GetByID retrieves a run by job id.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.DeletionRun, error) {
	var run domain.DeletionRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByOwner returns the owner's most recent runs, newest first.
func (r *RunRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.DeletionRun, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var runs []domain.DeletionRun
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
