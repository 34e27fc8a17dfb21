package repository

import (
	"context"
	"testing"
	"time"

	"livecommerce/internal/models"
	"livecommerce/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaidSales(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewSalesRepository(db)
	ctx := context.Background()
	start := testutil.Slot(14, 0)
	end := start.Add(30 * time.Minute)

	inside := start.Add(10 * time.Minute)
	outside := end.Add(time.Minute)
	orders := []models.Order{
		{MemberID: 1, Status: models.OrderStatusPaid, PaidAt: &inside, Items: []models.OrderItem{
			{ProductID: 10, Quantity: 2, UnitPrice: 7000},
			{ProductID: 99, Quantity: 1, UnitPrice: 500},
		}},
		{MemberID: 2, Status: models.OrderStatusPaid, PaidAt: &inside, Items: []models.OrderItem{
			{ProductID: 20, Quantity: 1, UnitPrice: 3000},
		}},
		{MemberID: 3, Status: models.OrderStatusCanceled, PaidAt: &inside, Items: []models.OrderItem{
			{ProductID: 10, Quantity: 5, UnitPrice: 7000},
		}},
		{MemberID: 4, Status: models.OrderStatusPaid, PaidAt: &outside, Items: []models.OrderItem{
			{ProductID: 10, Quantity: 1, UnitPrice: 7000},
		}},
	}
	for i := range orders {
		require.NoError(t, db.Create(&orders[i]).Error)
	}

	total, err := repo.TotalPaidSales(ctx, start, end, []uint{10, 20})
	require.NoError(t, err)
	assert.Equal(t, int64(17000), total)

	byProduct, err := repo.PaidSalesByProduct(ctx, start, end, []uint{10, 20})
	require.NoError(t, err)
	assert.Equal(t, map[uint]int64{10: 14000, 20: 3000}, byProduct)

	total, err = repo.TotalPaidSales(ctx, start, end, nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}
