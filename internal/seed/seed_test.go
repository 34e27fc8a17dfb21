package seed

import (
	"testing"
	"time"

	"livecommerce/internal/models"
	"livecommerce/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_PopulatesCatalogAndSchedule(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	opts := DefaultOptions()
	opts.Sellers = 4
	opts.RandSeed = 42

	sum, err := Seed(db, opts)
	require.NoError(t, err)
	assert.Equal(t, 32, sum.Products)
	assert.Equal(t, 4*(3+2), sum.Broadcasts)
	assert.Equal(t, 8, sum.Vods)

	var reserved []models.Broadcast
	require.NoError(t, db.Where("status = ?", models.StatusReserved).Find(&reserved).Error)
	require.Len(t, reserved, 12)

	perSlot := map[time.Time]int{}
	for _, b := range reserved {
		at := b.ScheduledAt.UTC()
		assert.True(t, at.After(time.Now()), "reservations are in the future")
		assert.Zero(t, at.Minute()%30, "reservations start on a slot")
		assert.GreaterOrEqual(t, at.Hour(), opts.OpenHour)
		assert.Less(t, at.Hour(), opts.CloseHour)
		perSlot[at]++
	}
	for slot, n := range perSlot {
		assert.LessOrEqual(t, n, opts.SlotCapacity, slot.String())
	}

	var vods int64
	require.NoError(t, db.Model(&models.Vod{}).Where("status = ?", models.VodPublic).Count(&vods).Error)
	assert.EqualValues(t, 8, vods)

	var orders int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orders).Error)
	assert.EqualValues(t, sum.Orders, orders)
}

func TestSeed_CleanIsRepeatable(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	opts := DefaultOptions()
	opts.Sellers = 1

	_, err := Seed(db, opts)
	require.NoError(t, err)
	_, err = Seed(db, opts)
	require.NoError(t, err)

	var products int64
	require.NoError(t, db.Model(&models.Product{}).Count(&products).Error)
	assert.EqualValues(t, opts.ProductsPerSeller, products)
}

func TestSeed_DryRunWritesNothing(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	opts := DefaultOptions()
	opts.DryRun = true

	sum, err := Seed(db, opts)
	require.NoError(t, err)
	assert.Positive(t, sum.Broadcasts)

	var n int64
	require.NoError(t, db.Model(&models.Broadcast{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSeed_RejectsBadHours(t *testing.T) {
	opts := DefaultOptions()
	opts.OpenHour, opts.CloseHour = 20, 10
	_, err := Seed(nil, opts)
	assert.Error(t, err)
}

func TestSlotPlanner_RespectsCapacityAndHours(t *testing.T) {
	opts := DefaultOptions()
	opts.OpenHour, opts.CloseHour = 22, 23
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	p := newSlotPlanner(now, opts)

	var got []time.Time
	for i := 0; i < 7; i++ {
		at, ok := p.next()
		require.True(t, ok)
		got = append(got, at)
	}
	day := time.Date(2026, 5, 21, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, day, got[0])
	assert.Equal(t, day, got[2])
	assert.Equal(t, day.Add(30*time.Minute), got[3])
	assert.Equal(t, day.Add(30*time.Minute), got[5])
	assert.Equal(t, day.Add(24*time.Hour), got[6], "the next day once the window is full")
}
