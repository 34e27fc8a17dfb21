package repository

import (
	"context"
	"time"

	"livecommerce/internal/models"

	"gorm.io/gorm"
)

// SalesRepository aggregates paid orders. It never writes.
type SalesRepository interface {
	TotalPaidSales(ctx context.Context, from, to time.Time, productIDs []uint) (int64, error)
	PaidSalesByProduct(ctx context.Context, from, to time.Time, productIDs []uint) (map[uint]int64, error)
}

type salesRepository struct {
	db *gorm.DB
}

// NewSalesRepository returns a new SalesRepository implementation.
func NewSalesRepository(db *gorm.DB) SalesRepository {
	return &salesRepository{db: db}
}

func (r *salesRepository) paidItems(ctx context.Context, from, to time.Time, productIDs []uint) *gorm.DB {
	return readDB(r.db).WithContext(ctx).
		Table("order_items").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.status = ?", models.OrderStatusPaid).
		Where("orders.paid_at >= ? AND orders.paid_at <= ?", from.UTC(), to.UTC()).
		Where("order_items.product_id IN ?", productIDs)
}

// TotalPaidSales sums quantity * unit price of paid lines in [from, to].
func (r *salesRepository) TotalPaidSales(ctx context.Context, from, to time.Time, productIDs []uint) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	var total int64
	err := r.paidItems(ctx, from, to, productIDs).
		Select("COALESCE(SUM(order_items.quantity * order_items.unit_price), 0)").
		Scan(&total).Error
	return total, err
}

func (r *salesRepository) PaidSalesByProduct(ctx context.Context, from, to time.Time, productIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ProductID uint
		Amount    int64
	}
	err := r.paidItems(ctx, from, to, productIDs).
		Select("order_items.product_id AS product_id, SUM(order_items.quantity * order_items.unit_price) AS amount").
		Group("order_items.product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ProductID] = row.Amount
	}
	return out, nil
}
