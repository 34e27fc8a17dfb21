package repository

import (
	"context"
	"errors"
	"time"

	"livecommerce/internal/models"
	"livecommerce/internal/observability"

	"gorm.io/gorm"
)

// slotStatuses are the statuses that occupy a reservation slot.
var slotStatuses = []models.BroadcastStatus{models.StatusReserved, models.StatusReady}

// BroadcastRepository defines persistence operations for broadcasts and
// the products and qcards attached to them.
type BroadcastRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Broadcast, error)
	Create(ctx context.Context, b *models.Broadcast) error
	Save(ctx context.Context, b *models.Broadcast) error
	Transaction(ctx context.Context, fn func(tx BroadcastRepository) error) error

	CountBySellerAndStatus(ctx context.Context, sellerID uint, status models.BroadcastStatus) (int64, error)
	CountByTimeSlot(ctx context.Context, start, end time.Time) (int64, error)
	FindIDsForReadyTransition(ctx context.Context, now time.Time, window time.Duration) ([]uint, error)
	FindIDsForNoShow(ctx context.Context, cutoff time.Time) ([]uint, error)
	FindIDsForScheduledEnd(ctx context.Context, cutoff time.Time) ([]uint, error)
	FindSchedules(ctx context.Context, start, end time.Time, statuses []models.BroadcastStatus) ([]models.Broadcast, error)
	FindMissingVodOrResult(ctx context.Context, statuses []models.BroadcastStatus) ([]uint, error)

	ListProducts(ctx context.Context, broadcastID uint) ([]models.BroadcastProduct, error)
	FindOnAirIDsByProduct(ctx context.Context, productID uint) ([]uint, error)
	ReplaceProducts(ctx context.Context, broadcastID uint, items []models.BroadcastProduct) error
	UpdateProductStatus(ctx context.Context, broadcastID, productID uint, status models.BroadcastProductStatus) error
	ListQcards(ctx context.Context, broadcastID uint) ([]models.Qcard, error)
	ReplaceQcards(ctx context.Context, broadcastID uint, items []models.Qcard) error
}

type broadcastRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewBroadcastRepository returns a new BroadcastRepository implementation.
func NewBroadcastRepository(db *gorm.DB) BroadcastRepository {
	return &broadcastRepository{db: db, log: observability.NewRepoLogger("broadcast")}
}

func (r *broadcastRepository) GetByID(ctx context.Context, id uint) (*models.Broadcast, error) {
	var b models.Broadcast
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Broadcast", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &b, nil
}

func (r *broadcastRepository) Create(ctx context.Context, b *models.Broadcast) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"broadcast_id": b.ID, "seller_id": b.SellerID})
	return nil
}

func (r *broadcastRepository) Save(ctx context.Context, b *models.Broadcast) error {
	if err := r.db.WithContext(ctx).Save(b).Error; err != nil {
		r.log.LogError(ctx, err, "save")
		return err
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"broadcast_id": b.ID, "status": b.Status})
	return nil
}

// Transaction runs fn against a repository bound to one database transaction.
func (r *broadcastRepository) Transaction(ctx context.Context, fn func(tx BroadcastRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&broadcastRepository{db: tx, log: r.log})
	})
}

func (r *broadcastRepository) CountBySellerAndStatus(ctx context.Context, sellerID uint, status models.BroadcastStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("seller_id = ? AND status = ?", sellerID, status).
		Count(&n).Error
	return n, err
}

// CountByTimeSlot counts reservations occupying [start, end).
func (r *broadcastRepository) CountByTimeSlot(ctx context.Context, start, end time.Time) (int64, error) {
	defer observability.TrackQuery("count_by_time_slot", "broadcasts")()
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("scheduled_at >= ? AND scheduled_at < ?", start.UTC(), end.UTC()).
		Where("status IN ?", slotStatuses).
		Count(&n).Error
	return n, err
}

// FindIDsForReadyTransition returns reservations whose start lies in (now-window, now].
func (r *broadcastRepository) FindIDsForReadyTransition(ctx context.Context, now time.Time, window time.Duration) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).Model(&models.Broadcast{}).
		Where("status = ?", models.StatusReserved).
		Where("scheduled_at <= ? AND scheduled_at > ?", now.UTC(), now.Add(-window).UTC()).
		Order("scheduled_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// FindIDsForNoShow returns reservations that never started and were due before cutoff.
func (r *broadcastRepository) FindIDsForNoShow(ctx context.Context, cutoff time.Time) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).Model(&models.Broadcast{}).
		Where("status IN ?", slotStatuses).
		Where("scheduled_at < ? AND started_at IS NULL", cutoff.UTC()).
		Pluck("id", &ids).Error
	return ids, err
}

// FindIDsForScheduledEnd returns live broadcasts scheduled at or before cutoff.
func (r *broadcastRepository) FindIDsForScheduledEnd(ctx context.Context, cutoff time.Time) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).Model(&models.Broadcast{}).
		Where("status = ? AND scheduled_at <= ?", models.StatusOnAir, cutoff.UTC()).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *broadcastRepository) FindSchedules(ctx context.Context, start, end time.Time, statuses []models.BroadcastStatus) ([]models.Broadcast, error) {
	var out []models.Broadcast
	err := readDB(r.db).WithContext(ctx).
		Where("scheduled_at >= ? AND scheduled_at < ?", start.UTC(), end.UTC()).
		Where("status IN ?", statuses).
		Order("scheduled_at ASC").
		Find(&out).Error
	return out, err
}

// FindMissingVodOrResult returns broadcasts in the given statuses lacking a VOD row or a result row.
func (r *broadcastRepository) FindMissingVodOrResult(ctx context.Context, statuses []models.BroadcastStatus) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).Model(&models.Broadcast{}).
		Joins("LEFT JOIN vods ON vods.broadcast_id = broadcasts.id").
		Joins("LEFT JOIN broadcast_results ON broadcast_results.broadcast_id = broadcasts.id").
		Where("broadcasts.status IN ?", statuses).
		Where("vods.id IS NULL OR broadcast_results.broadcast_id IS NULL").
		Order("broadcasts.id ASC").
		Pluck("broadcasts.id", &ids).Error
	return ids, err
}

func (r *broadcastRepository) ListProducts(ctx context.Context, broadcastID uint) ([]models.BroadcastProduct, error) {
	var out []models.BroadcastProduct
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ? AND status <> ?", broadcastID, models.BroadcastProductDeleted).
		Order("display_order ASC").
		Find(&out).Error
	return out, err
}

func (r *broadcastRepository) FindOnAirIDsByProduct(ctx context.Context, productID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.BroadcastProduct{}).
		Distinct("broadcast_products.broadcast_id").
		Joins("JOIN broadcasts ON broadcasts.id = broadcast_products.broadcast_id").
		Where("broadcast_products.product_id = ? AND broadcasts.status = ?", productID, models.StatusOnAir).
		Pluck("broadcast_products.broadcast_id", &ids).Error
	return ids, err
}

// ReplaceProducts deletes the broadcast's products and inserts items in their place.
func (r *broadcastRepository) ReplaceProducts(ctx context.Context, broadcastID uint, items []models.BroadcastProduct) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("broadcast_id = ?", broadcastID).Delete(&models.BroadcastProduct{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].ID = 0
			items[i].BroadcastID = broadcastID
		}
		return tx.Create(&items).Error
	})
}

func (r *broadcastRepository) UpdateProductStatus(ctx context.Context, broadcastID, productID uint, status models.BroadcastProductStatus) error {
	return r.db.WithContext(ctx).Model(&models.BroadcastProduct{}).
		Where("broadcast_id = ? AND product_id = ?", broadcastID, productID).
		Update("status", status).Error
}

func (r *broadcastRepository) ListQcards(ctx context.Context, broadcastID uint) ([]models.Qcard, error) {
	var out []models.Qcard
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Order("sort_order ASC").
		Find(&out).Error
	return out, err
}

// ReplaceQcards deletes the broadcast's qcards and inserts items in their place.
func (r *broadcastRepository) ReplaceQcards(ctx context.Context, broadcastID uint, items []models.Qcard) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("broadcast_id = ?", broadcastID).Delete(&models.Qcard{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].ID = 0
			items[i].BroadcastID = broadcastID
		}
		return tx.Create(&items).Error
	})
}
