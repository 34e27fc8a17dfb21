package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"livecommerce/internal/config"
	"livecommerce/internal/middleware"

	"gorm.io/gorm"
)

// Schema modes, selected with DB_SCHEMA_MODE.
const (
	// SchemaModeHybrid runs SQL migrations everywhere and AutoMigrate only
	// outside production-like environments.
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus describes what ApplySchema would do against a database.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	Applied            []MigrationLog
	Pending            []Migration
	// Drift is set when the database does not match the embedded migrations.
	Drift error
}

func isProdLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

func schemaMode(cfg *config.Config) string {
	if mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode)); mode != "" {
		return mode
	}
	return SchemaModeHybrid
}

func schemaPolicy(cfg *config.Config) (runSQL, runAuto bool, err error) {
	prodLike := isProdLikeEnv(cfg.Env)
	switch mode := schemaMode(cfg); mode {
	case SchemaModeSQL:
		return true, false, nil
	case SchemaModeAuto:
		// AutoMigrate never drops columns but can widen or retype them.
		if prodLike && !cfg.DBAutoMigrateAllowDestructive {
			return false, false, fmt.Errorf("DB_SCHEMA_MODE=auto in %q needs DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		return false, true, nil
	case SchemaModeHybrid:
		return true, !prodLike, nil
	default:
		return false, false, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
}

// ApplySchema brings the broadcast tables up to date for cfg's mode.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return err
	}

	if runSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations: %w", err)
		}
	}
	if runAuto {
		mode := schemaMode(cfg)
		if mode == SchemaModeAuto && isProdLikeEnv(cfg.Env) {
			middleware.Logger.Warn("AutoMigrate enabled in a production-like environment", slog.String("env", cfg.Env))
		}
		middleware.Logger.Info("Running AutoMigrate", slog.String("mode", mode), slog.Int("models", len(PersistentModels())))
		if err := db.WithContext(ctx).AutoMigrate(PersistentModels()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return nil
}

// GetSchemaStatus reports applied and pending migrations without changing
// anything.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{
		Mode:               schemaMode(cfg),
		Environment:        cfg.Env,
		WillRunSQL:         runSQL,
		WillRunAutoMigrate: runAuto,
	}
	if !runSQL {
		return status, nil
	}

	if db.Migrator().HasTable(&MigrationLog{}) {
		status.Applied, err = NewMigrationStore(db).Applied(ctx)
		if err != nil {
			return nil, err
		}
	}
	registered := GetMigrations()
	status.Pending = pendingMigrations(status.Applied, registered)
	status.Drift = checkApplied(status.Applied, registered)
	if migrationsErr != nil {
		status.Drift = migrationsErr
	}
	return status, nil
}
