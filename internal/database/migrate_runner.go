package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"livecommerce/internal/middleware"

	"gorm.io/gorm"
)

// migrationLockName serializes schema changes across API instances that
// start at the same time.
const migrationLockName = "livecommerce:migrations"

// MigrationLog is one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (MigrationLog) TableName() string {
	return "migration_logs"
}

// MigrationStore records applied migrations. Apply and Revert run the
// script and the log change in one transaction.
type MigrationStore interface {
	Applied(ctx context.Context) ([]MigrationLog, error)
	Apply(ctx context.Context, m Migration) (bool, error)
	Revert(ctx context.Context, m Migration) error
}

type migrationStore struct {
	db *gorm.DB
}

func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &migrationStore{db: db}
}

func (s *migrationStore) Applied(ctx context.Context) ([]MigrationLog, error) {
	var logs []MigrationLog
	if err := s.db.WithContext(ctx).Order("version ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return logs, nil
}

// Apply runs m unless another instance applied it while this one waited for
// the lock. It reports whether this call applied it.
func (s *migrationStore) Apply(ctx context.Context, m Migration) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMigrations(tx); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&MigrationLog{}).Where("version = ?", m.Version).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := tx.Exec(m.UpScript).Error; err != nil {
			return fmt.Errorf("apply %s: %w", m.String(), err)
		}
		if err := tx.Create(&MigrationLog{Version: m.Version, Name: m.Name, Checksum: m.Checksum}).Error; err != nil {
			return fmt.Errorf("record %s: %w", m.String(), err)
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *migrationStore) Revert(ctx context.Context, m Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMigrations(tx); err != nil {
			return err
		}
		if err := tx.Exec(m.DownScript).Error; err != nil {
			return fmt.Errorf("roll back %s: %w", m.String(), err)
		}
		return tx.Where("version = ?", m.Version).Delete(&MigrationLog{}).Error
	})
}

// lockMigrations takes a transaction scoped advisory lock on postgres. Other
// dialects run single-process in tests and skip it.
func lockMigrations(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", migrationLockName).Error; err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	return nil
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if migrationsErr != nil {
		return fmt.Errorf("embedded migrations: %w", migrationsErr)
	}
	_, err := runMigrations(ctx, db, migrations)
	return err
}

func runMigrations(ctx context.Context, db *gorm.DB, registered []Migration) (int, error) {
	if err := db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return 0, fmt.Errorf("ensure migration_logs: %w", err)
	}

	store := NewMigrationStore(db)
	logs, err := store.Applied(ctx)
	if err != nil {
		return 0, err
	}
	if err := checkApplied(logs, registered); err != nil {
		return 0, err
	}

	count := 0
	for _, m := range pendingMigrations(logs, registered) {
		middleware.Logger.Info("Applying migration", slog.Int("version", m.Version), slog.String("name", m.Name))
		ok, err := store.Apply(ctx, m)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	if count > 0 {
		middleware.Logger.Info("Migrations applied", slog.Int("count", count))
	}
	return count, nil
}

func pendingMigrations(logs []MigrationLog, registered []Migration) []Migration {
	done := make(map[int]bool, len(logs))
	for _, l := range logs {
		done[l.Version] = true
	}
	var out []Migration
	for _, m := range registered {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// checkApplied rejects a database that is ahead of the code or whose applied
// scripts no longer match what ships.
func checkApplied(logs []MigrationLog, registered []Migration) error {
	byVersion := make(map[int]Migration, len(registered))
	for _, m := range registered {
		byVersion[m.Version] = m
	}

	var unknown, changed []string
	for _, l := range logs {
		m, ok := byVersion[l.Version]
		switch {
		case !ok:
			unknown = append(unknown, fmt.Sprintf("%06d", l.Version))
		case l.Checksum != "" && l.Checksum != m.Checksum:
			changed = append(changed, m.String())
		}
	}
	sort.Strings(unknown)

	if len(unknown) > 0 {
		return fmt.Errorf("database has migrations this build does not know: %s", strings.Join(unknown, ", "))
	}
	if len(changed) > 0 {
		return fmt.Errorf("applied migrations were edited after release: %s", strings.Join(changed, ", "))
	}
	return nil
}

// RollbackMigration reverts one applied migration. Version 0 means the
// latest applied one.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) (*Migration, error) {
	store := NewMigrationStore(db)
	logs, err := store.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("no migrations have been applied")
	}
	if version == 0 {
		version = logs[len(logs)-1].Version
	}

	found := false
	for _, l := range logs {
		if l.Version == version {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("migration %06d has not been applied", version)
	}
	m := GetMigrationByVersion(version)
	if m == nil {
		return nil, fmt.Errorf("migration %06d is not part of this build", version)
	}

	middleware.Logger.Info("Rolling back migration", slog.Int("version", version), slog.String("name", m.Name))
	if err := store.Revert(ctx, *m); err != nil {
		return nil, err
	}
	return m, nil
}
