package repository

import (
	"context"
	"testing"

	"livecommerce/internal/models"
	"livecommerce/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRepository(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	mine := testutil.CreateProduct(t, db, models.Product{SellerID: 1, Price: 10000})
	theirs := testutil.CreateProduct(t, db, models.Product{SellerID: 2, Price: 500})

	require.NoError(t, repo.UpdatePrice(ctx, mine.ID, 7000))
	p, err := repo.GetByID(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), p.Price)

	owned, err := repo.GetForSeller(ctx, 1, []uint{mine.ID, theirs.ID})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, mine.ID, owned[0].ID)

	err = repo.UpdatePrice(ctx, 999, 1)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}
