package repository

import (
	"testing"

	"livecommerce/internal/database"
	"livecommerce/internal/testutil"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestReadDBRouting(t *testing.T) {
	primary := testutil.NewSQLiteDB(t)
	replica := testutil.NewSQLiteDB(t)
	other := testutil.NewSQLiteDB(t)

	prevDB, prevRead := database.DB, database.ReadDB
	t.Cleanup(func() { database.DB, database.ReadDB = prevDB, prevRead })
	database.DB, database.ReadDB = primary, replica

	assert.Same(t, replica, readDB(primary))
	assert.Same(t, other, readDB(other), "foreign handles are left alone")

	_ = primary.Transaction(func(tx *gorm.DB) error {
		assert.Same(t, tx, readDB(tx), "transactions read their own writes")
		return nil
	})

	database.ReadDB = nil
	assert.Same(t, primary, readDB(primary))
}
