package repository

import (
	"context"
	"time"

	"livecommerce/internal/models"

	"gorm.io/gorm"
)

// ViewHistoryRepository records viewer visits.
type ViewHistoryRepository interface {
	Enter(ctx context.Context, broadcastID uint, viewerID string, at time.Time) error
	// Exit closes the viewer's open visits.
	Exit(ctx context.Context, broadcastID uint, viewerID string, at time.Time) error
	// CloseActive closes every open visit of the broadcast.
	CloseActive(ctx context.Context, broadcastID uint, at time.Time) error
	AverageWatchSeconds(ctx context.Context, broadcastID uint) (int, error)
}

type viewHistoryRepository struct {
	db *gorm.DB
}

// NewViewHistoryRepository returns a new ViewHistoryRepository implementation.
func NewViewHistoryRepository(db *gorm.DB) ViewHistoryRepository {
	return &viewHistoryRepository{db: db}
}

func (r *viewHistoryRepository) Enter(ctx context.Context, broadcastID uint, viewerID string, at time.Time) error {
	return r.db.WithContext(ctx).Create(&models.ViewHistory{
		BroadcastID: broadcastID,
		ViewerID:    viewerID,
		EnteredAt:   at.UTC(),
	}).Error
}

func (r *viewHistoryRepository) Exit(ctx context.Context, broadcastID uint, viewerID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ViewHistory{}).
		Where("broadcast_id = ? AND viewer_id = ? AND exited_at IS NULL", broadcastID, viewerID).
		Update("exited_at", at.UTC()).Error
}

func (r *viewHistoryRepository) CloseActive(ctx context.Context, broadcastID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ViewHistory{}).
		Where("broadcast_id = ? AND exited_at IS NULL", broadcastID).
		Update("exited_at", at.UTC()).Error
}

// AverageWatchSeconds averages the closed visits of a broadcast. Open visits are ignored.
func (r *viewHistoryRepository) AverageWatchSeconds(ctx context.Context, broadcastID uint) (int, error) {
	var visits []models.ViewHistory
	err := readDB(r.db).WithContext(ctx).
		Where("broadcast_id = ? AND exited_at IS NOT NULL", broadcastID).
		Find(&visits).Error
	if err != nil || len(visits) == 0 {
		return 0, err
	}
	var total time.Duration
	for _, v := range visits {
		if d := v.ExitedAt.Sub(v.EnteredAt); d > 0 {
			total += d
		}
	}
	return int(total.Seconds()) / len(visits), nil
}
