package repository

import (
	"context"
	"errors"

	"livecommerce/internal/models"

	"gorm.io/gorm"
)

// ResultRepository persists the statistics snapshot of broadcasts.
type ResultRepository interface {
	Get(ctx context.Context, broadcastID uint) (*models.BroadcastResult, error)
	// GetOrInit returns the stored snapshot or a zero one that is not saved yet.
	GetOrInit(ctx context.Context, broadcastID uint) (*models.BroadcastResult, error)
	Save(ctx context.Context, result *models.BroadcastResult) error
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository returns a new ResultRepository implementation.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) Get(ctx context.Context, broadcastID uint) (*models.BroadcastResult, error) {
	var res models.BroadcastResult
	if err := r.db.WithContext(ctx).Where("broadcast_id = ?", broadcastID).First(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("BroadcastResult", broadcastID)
		}
		return nil, models.NewInternalError(err)
	}
	return &res, nil
}

func (r *resultRepository) GetOrInit(ctx context.Context, broadcastID uint) (*models.BroadcastResult, error) {
	res, err := r.Get(ctx, broadcastID)
	if models.IsCode(err, models.CodeNotFound) {
		return &models.BroadcastResult{BroadcastID: broadcastID}, nil
	}
	return res, err
}

func (r *resultRepository) Save(ctx context.Context, result *models.BroadcastResult) error {
	return r.db.WithContext(ctx).Save(result).Error
}
