package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testMigrations(t *testing.T, files fstest.MapFS) []Migration {
	t.Helper()
	list, err := LoadMigrations(files, "m")
	require.NoError(t, err)
	return list
}

func newMigrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	// Each pooled connection would get its own empty in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

var twoMigrations = fstest.MapFS{
	"m/000002_add_notice.up.sql":   {Data: []byte("ALTER TABLE shows ADD COLUMN notice TEXT;")},
	"m/000002_add_notice.down.sql": {Data: []byte("ALTER TABLE shows DROP COLUMN notice;")},
	"m/000001_init.up.sql":         {Data: []byte("CREATE TABLE shows (id INTEGER PRIMARY KEY, title TEXT);")},
	"m/000001_init.down.sql":       {Data: []byte("DROP TABLE shows;")},
	"m/README.md":                  {Data: []byte("ignored")},
}

func TestLoadMigrations(t *testing.T) {
	list := testMigrations(t, twoMigrations)
	require.Len(t, list, 2)
	assert.Equal(t, "000001_init", list[0].String())
	assert.Equal(t, "add_notice", list[1].Name)
	assert.Len(t, list[0].Checksum, 64)
	assert.NotEqual(t, list[0].Checksum, list[1].Checksum)
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"missing down": {
			"m/000001_init.up.sql": {Data: []byte("SELECT 1;")},
		},
		"bad name": {
			"m/init.up.sql":   {Data: []byte("SELECT 1;")},
			"m/init.down.sql": {Data: []byte("SELECT 1;")},
		},
		"duplicate version": {
			"m/000001_a.up.sql":   {Data: []byte("SELECT 1;")},
			"m/000001_a.down.sql": {Data: []byte("SELECT 1;")},
			"m/1_b.up.sql":        {Data: []byte("SELECT 1;")},
			"m/1_b.down.sql":      {Data: []byte("SELECT 1;")},
		},
	}
	for name, files := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMigrations(files, "m")
			assert.Error(t, err)
		})
	}
}

func TestRunMigrations_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	list := testMigrations(t, twoMigrations)

	n, err := runMigrations(ctx, db, list)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, db.Migrator().HasColumn("shows", "notice"))

	n, err = runMigrations(ctx, db, list)
	require.NoError(t, err)
	assert.Zero(t, n)

	logs, err := NewMigrationStore(db).Applied(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, list[1].Checksum, logs[1].Checksum)
}

func TestRunMigrations_FailedScriptLeavesNoLog(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	list := testMigrations(t, fstest.MapFS{
		"m/000001_broken.up.sql":   {Data: []byte("CREATE TABLE ok_table (id INTEGER); INSERT INTO missing VALUES (1);")},
		"m/000001_broken.down.sql": {Data: []byte("DROP TABLE ok_table;")},
	})

	_, err := runMigrations(ctx, db, list)
	require.Error(t, err)

	logs, err := NewMigrationStore(db).Applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRunMigrations_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	list := testMigrations(t, twoMigrations)
	_, err := runMigrations(ctx, db, list)
	require.NoError(t, err)

	edited := append([]Migration(nil), list...)
	edited[0].Checksum = "changed"
	_, err = runMigrations(ctx, db, edited)
	assert.ErrorContains(t, err, "edited after release")

	_, err = runMigrations(ctx, db, list[:1])
	assert.ErrorContains(t, err, "000002")
}

func TestPendingMigrations(t *testing.T) {
	list := testMigrations(t, twoMigrations)
	pending := pendingMigrations([]MigrationLog{{Version: 1}}, list)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)
}

func TestStoreRevert(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	list := testMigrations(t, twoMigrations)
	_, err := runMigrations(ctx, db, list)
	require.NoError(t, err)

	store := NewMigrationStore(db)
	require.NoError(t, store.Revert(ctx, list[1]))
	assert.False(t, db.Migrator().HasColumn("shows", "notice"))

	logs, err := store.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].Version)
}
