// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"testing"
	"time"

	"livecommerce/internal/database"
	"livecommerce/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB returns a migrated in-memory database private to the test.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

// NewRedis starts a miniredis server and returns a client bound to it.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// Slot returns a slot-aligned UTC time on a fixed day.
func Slot(hour, minute int) time.Time {
	return time.Date(2026, 5, 20, hour, minute, 0, 0, time.UTC)
}

// CreateBroadcast inserts a broadcast with sane defaults.
func CreateBroadcast(t *testing.T, db *gorm.DB, b models.Broadcast) *models.Broadcast {
	t.Helper()
	if b.SellerID == 0 {
		b.SellerID = 1
	}
	if b.Title == "" {
		b.Title = "test broadcast"
	}
	if b.Status == "" {
		b.Status = models.StatusReserved
	}
	if b.ScheduledAt.IsZero() {
		b.ScheduledAt = Slot(14, 0)
	}
	require.NoError(t, db.Create(&b).Error)
	return &b
}

// CreateProduct inserts a product.
func CreateProduct(t *testing.T, db *gorm.DB, p models.Product) *models.Product {
	t.Helper()
	if p.SellerID == 0 {
		p.SellerID = 1
	}
	if p.Name == "" {
		p.Name = "desk lamp"
	}
	require.NoError(t, db.Create(&p).Error)
	return &p
}
