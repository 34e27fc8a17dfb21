package repository

import (
	"context"
	"errors"

	"livecommerce/internal/models"

	"gorm.io/gorm"
)

// ProductRepository reads and reprices catalog products.
type ProductRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Product, error)
	UpdatePrice(ctx context.Context, id uint, price int64) error
	// GetForSeller returns the products among ids owned by sellerID.
	GetForSeller(ctx context.Context, sellerID uint, ids []uint) ([]models.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository returns a new ProductRepository implementation.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Product", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &p, nil
}

func (r *productRepository) UpdatePrice(ctx context.Context, id uint, price int64) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Update("price", price)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Product", id)
	}
	return nil
}

func (r *productRepository) GetForSeller(ctx context.Context, sellerID uint, ids []uint) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Product
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND id IN ?", sellerID, ids).
		Find(&out).Error
	return out, err
}
