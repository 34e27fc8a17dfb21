package bootstrap

import (
	"context"
	"fmt"
	"time"

	"livecommerce/internal/admission"
	"livecommerce/internal/cache"
	"livecommerce/internal/config"
	"livecommerce/internal/database"
	"livecommerce/internal/featureflags"
	"livecommerce/internal/livecounter"
	"livecommerce/internal/notifications"
	"livecommerce/internal/observability"
	"livecommerce/internal/pricing"
	"livecommerce/internal/recording"
	"livecommerce/internal/repository"
	"livecommerce/internal/scheduler"
	"livecommerce/internal/server"
	"livecommerce/internal/service"
	"livecommerce/internal/storage"
	"livecommerce/internal/vod"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
	"gorm.io/gorm"
)

const connectTimeout = 15 * time.Second

// objectStorage wraps the optional object store so an unconfigured bucket
// resolves to a nil interface rather than a typed nil.
type objectStorage struct {
	store storage.ObjectStore
}

// NewInjector registers every component of the engine. Nothing connects
// until the first Invoke.
func NewInjector(cfg *config.Config, env *config.ProviderEnv) do.Injector {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, env)

	registerInfrastructure(injector)
	registerRepositories(injector)
	registerRecording(injector)
	registerServices(injector)
	registerServer(injector)
	return injector
}

func registerInfrastructure(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return database.ConnectWithOptions(ctx, cfg, database.ConnectOptions{})
	})
	do.Provide(injector, func(i do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return cache.InitRedis(cfg.RedisURL)
	})
	do.Provide(injector, func(i do.Injector) (*database.AdvisoryLocker, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return database.NewAdvisoryLocker(ctx, cfg)
	})
	do.Provide(injector, func(i do.Injector) (*featureflags.Manager, error) {
		return featureflags.NewManager(do.MustInvoke[*config.Config](i).FeatureFlags), nil
	})
	do.Provide(injector, func(i do.Injector) (*cache.Locker, error) {
		return cache.NewLocker(do.MustInvoke[*redis.Client](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*livecounter.Store, error) {
		return livecounter.NewStore(do.MustInvoke[*redis.Client](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (objectStorage, error) {
		env := do.MustInvoke[*config.ProviderEnv](i)
		if !env.StorageEnabled() {
			observability.GlobalLogger.Warn("AWS_S3_BUCKET not set, VODs keep the provider URL")
			return objectStorage{}, nil
		}
		s3, err := storage.NewS3Store(env)
		if err != nil {
			return objectStorage{}, err
		}
		return objectStorage{store: s3}, nil
	})
	do.Provide(injector, func(i do.Injector) (*notifications.Notifier, error) {
		env := do.MustInvoke[*config.ProviderEnv](i)
		flags := do.MustInvoke[*featureflags.Manager](i)
		notifier := notifications.NewNotifier(do.MustInvoke[*redis.Client](i))
		if env.KinesisStream == "" || !flags.On(featureflags.EventStream) {
			return notifier, nil
		}
		sink, err := notifications.NewKinesisSink(env)
		if err != nil {
			return nil, fmt.Errorf("event stream: %w", err)
		}
		return notifier.WithSink(sink), nil
	})
	do.Provide(injector, func(i do.Injector) (*notifications.Hub, error) {
		return notifications.NewHub(), nil
	})
}

func registerRepositories(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.BroadcastRepository, error) {
		return repository.NewBroadcastRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (repository.ProductRepository, error) {
		return repository.NewProductRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (repository.ResultRepository, error) {
		return repository.NewResultRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (repository.VodRepository, error) {
		return repository.NewVodRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (repository.ViewHistoryRepository, error) {
		return repository.NewViewHistoryRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (repository.SalesRepository, error) {
		return repository.NewSalesRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
}

func registerRecording(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*recording.OpenViduClient, error) {
		cfg := do.MustInvoke[*config.Config](i)
		env := do.MustInvoke[*config.ProviderEnv](i)
		timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
		return recording.NewOpenViduClient(env.OpenViduURL, env.OpenViduSecret, timeout), nil
	})
	do.Provide(injector, func(i do.Injector) (*pricing.Overlay, error) {
		return pricing.NewOverlay(
			do.MustInvoke[*redis.Client](i),
			do.MustInvoke[repository.ProductRepository](i),
			do.MustInvoke[repository.BroadcastRepository](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*vod.Pipeline, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return vod.NewPipeline(vod.Deps{
			Broadcasts: do.MustInvoke[repository.BroadcastRepository](i),
			Vods:       do.MustInvoke[repository.VodRepository](i),
			Results:    do.MustInvoke[repository.ResultRepository](i),
			Sales:      do.MustInvoke[repository.SalesRepository](i),
			Views:      do.MustInvoke[repository.ViewHistoryRepository](i),
			Counters:   do.MustInvoke[*livecounter.Store](i),
			Prices:     do.MustInvoke[*pricing.Overlay](i),
			Assets:     do.MustInvoke[*recording.OpenViduClient](i),
			Store:      do.MustInvoke[objectStorage](i).store,
		}, vod.OptionsFromConfig(cfg)), nil
	})
	do.Provide(injector, func(i do.Injector) (*recording.Orchestrator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rdb := do.MustInvoke[*redis.Client](i)
		return recording.NewOrchestrator(
			do.MustInvoke[*recording.OpenViduClient](i),
			do.MustInvoke[repository.BroadcastRepository](i),
			do.MustInvoke[repository.VodRepository](i),
			do.MustInvoke[*vod.Pipeline](i),
			recording.NewStartQueue(rdb, cfg),
			recording.NewFinalizeQueue(rdb, cfg),
		), nil
	})
}

func registerServices(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*admission.Gate, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return admission.NewGate(
			do.MustInvoke[*cache.Locker](i),
			do.MustInvoke[*database.AdvisoryLocker](i),
			do.MustInvoke[repository.BroadcastRepository](i),
			admission.LimitsFromConfig(cfg),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*service.BroadcastService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewBroadcastService(service.BroadcastDeps{
			Broadcasts: do.MustInvoke[repository.BroadcastRepository](i),
			Products:   do.MustInvoke[repository.ProductRepository](i),
			Results:    do.MustInvoke[repository.ResultRepository](i),
			Vods:       do.MustInvoke[repository.VodRepository](i),
			Views:      do.MustInvoke[repository.ViewHistoryRepository](i),
			Gate:       do.MustInvoke[*admission.Gate](i),
			Counters:   do.MustInvoke[*livecounter.Store](i),
			Prices:     do.MustInvoke[*pricing.Overlay](i),
			Provider:   do.MustInvoke[*recording.OpenViduClient](i),
			Recorder:   do.MustInvoke[*recording.Orchestrator](i),
			Snapshots:  do.MustInvoke[*vod.Pipeline](i),
			Events:     do.MustInvoke[*notifications.Notifier](i),
			Locker:     do.MustInvoke[*cache.Locker](i),
			Redis:      do.MustInvoke[*redis.Client](i),
		}, service.SettingsFromConfig(cfg)), nil
	})
	do.Provide(injector, func(i do.Injector) (*service.AdminService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewAdminService(service.AdminDeps{
			Broadcasts: do.MustInvoke[repository.BroadcastRepository](i),
			Views:      do.MustInvoke[repository.ViewHistoryRepository](i),
			Counters:   do.MustInvoke[*livecounter.Store](i),
			Prices:     do.MustInvoke[*pricing.Overlay](i),
			Provider:   do.MustInvoke[*recording.OpenViduClient](i),
			Recorder:   do.MustInvoke[*recording.Orchestrator](i),
			Snapshots:  do.MustInvoke[*vod.Pipeline](i),
			Events:     do.MustInvoke[*notifications.Notifier](i),
			Locker:     do.MustInvoke[*cache.Locker](i),
		}, service.SettingsFromConfig(cfg)), nil
	})
	do.Provide(injector, func(i do.Injector) (*service.VodService, error) {
		return service.NewVodService(service.VodDeps{
			Broadcasts: do.MustInvoke[repository.BroadcastRepository](i),
			Vods:       do.MustInvoke[repository.VodRepository](i),
			Counters:   do.MustInvoke[*livecounter.Store](i),
			Store:      do.MustInvoke[objectStorage](i).store,
			Remover:    do.MustInvoke[*vod.Pipeline](i),
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (*scheduler.Runner, error) {
		cfg := do.MustInvoke[*config.Config](i)
		runner := scheduler.NewRunner(do.MustInvoke[*featureflags.Manager](i))
		RegisterJobs(runner, cfg.JobIntervals(), Sweeps{
			Broadcasts: do.MustInvoke[*service.BroadcastService](i),
			Recordings: do.MustInvoke[*recording.Orchestrator](i),
			Vods:       do.MustInvoke[*vod.Pipeline](i),
		})
		return runner, nil
	})
}

func registerServer(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*server.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		env := do.MustInvoke[*config.ProviderEnv](i)
		return server.NewServer(cfg, server.Deps{
			DB:           do.MustInvoke[*gorm.DB](i),
			Redis:        do.MustInvoke[*redis.Client](i),
			Notifier:     do.MustInvoke[*notifications.Notifier](i),
			Hub:          do.MustInvoke[*notifications.Hub](i),
			FeatureFlags: do.MustInvoke[*featureflags.Manager](i),
			Broadcasts:   do.MustInvoke[*service.BroadcastService](i),
			Admin:        do.MustInvoke[*service.AdminService](i),
			Vods:         do.MustInvoke[*service.VodService](i),
			Recordings:   do.MustInvoke[*recording.Orchestrator](i),
			WebhookToken: env.WebhookToken,
		}), nil
	})
}
