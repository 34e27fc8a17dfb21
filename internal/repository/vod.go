package repository

import (
	"context"
	"errors"
	"time"

	"livecommerce/internal/models"
	"livecommerce/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VodRepository persists finalized recordings.
type VodRepository interface {
	GetByBroadcast(ctx context.Context, broadcastID uint) (models.VodState, error)
	// CreateWithResult inserts the VOD and saves the result snapshot in one
	// transaction. Nothing is written when the broadcast already has a VOD;
	// the bool reports whether this call created it.
	CreateWithResult(ctx context.Context, vod *models.Vod, result *models.BroadcastResult) (bool, error)
	Save(ctx context.Context, vod *models.Vod) error
	ListExpired(ctx context.Context, before time.Time) ([]models.Vod, error)
}

type vodRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewVodRepository returns a new VodRepository implementation.
func NewVodRepository(db *gorm.DB) VodRepository {
	return &vodRepository{db: db, log: observability.NewRepoLogger("vods")}
}

func (r *vodRepository) GetByBroadcast(ctx context.Context, broadcastID uint) (models.VodState, error) {
	var v models.Vod
	err := r.db.WithContext(ctx).Where("broadcast_id = ?", broadcastID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NoVod(), nil
	}
	if err != nil {
		return models.NoVod(), models.NewInternalError(err)
	}
	return models.HasVod(&v), nil
}

func (r *vodRepository) CreateWithResult(ctx context.Context, vod *models.Vod, result *models.BroadcastResult) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "broadcast_id"}}, DoNothing: true}).
			Create(vod)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Save(result).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "create")
		return false, err
	}
	if created {
		r.log.LogCreate(ctx, map[string]interface{}{"broadcast_id": vod.BroadcastID, "status": vod.Status})
	}
	return created, nil
}

func (r *vodRepository) Save(ctx context.Context, vod *models.Vod) error {
	if err := r.db.WithContext(ctx).Save(vod).Error; err != nil {
		r.log.LogError(ctx, err, "save")
		return err
	}
	return nil
}

// ListExpired returns live VODs created before the cutoff.
func (r *vodRepository) ListExpired(ctx context.Context, before time.Time) ([]models.Vod, error) {
	var out []models.Vod
	err := readDB(r.db).WithContext(ctx).
		Where("status <> ? AND created_at < ?", models.VodDeleted, before.UTC()).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
