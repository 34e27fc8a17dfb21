// Package bootstrap assembles the engine from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"livecommerce/internal/config"
	"livecommerce/internal/database"
	"livecommerce/internal/observability"
	"livecommerce/internal/scheduler"
	"livecommerce/internal/server"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
	"gorm.io/gorm"
)

// Runtime is a connected engine: the HTTP server, the background jobs and
// the resources they share.
type Runtime struct {
	Injector  do.Injector
	DB        *gorm.DB
	Redis     *redis.Client
	Server    *server.Server
	Scheduler *scheduler.Runner

	locks       *database.AdvisoryLocker
	stopTracing func(context.Context) error
}

// InitRuntime connects DB and Redis and builds every component.
func InitRuntime(cfg *config.Config, env *config.ProviderEnv) (*Runtime, error) {
	stopTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "livecommerce-api",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplerRatio: cfg.TracingSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	injector := NewInjector(cfg, env)
	rt := &Runtime{Injector: injector, stopTracing: stopTracing}

	if rt.DB, err = do.Invoke[*gorm.DB](injector); err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if rt.Redis, err = do.Invoke[*redis.Client](injector); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if rt.locks, err = do.Invoke[*database.AdvisoryLocker](injector); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("advisory lock pool failed: %w", err)
	}
	if rt.Server, err = do.Invoke[*server.Server](injector); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("server init failed: %w", err)
	}
	if rt.Scheduler, err = do.Invoke[*scheduler.Runner](injector); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return rt, nil
}

// Close releases what InitRuntime opened. The server and scheduler must be
// stopped first.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.locks != nil {
		rt.locks.Close()
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		database.Close()
	}
	if rt.stopTracing != nil {
		errs = append(errs, rt.stopTracing(ctx))
	}
	return errors.Join(errs...)
}
