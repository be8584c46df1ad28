// Package app собирает зависимости прогона из конфигурации: хранилище, кэш,
// шину сообщений, адаптеры маркетплейсов и оркестратор.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/cache"
	"github.com/athebyme/gomarket-sync/internal/adapters/categories"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace/registry"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/infrastructure/postgres"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

// App собранные зависимости процесса
type App struct {
	Config       *config.Config
	Logger       interfaces.LoggerPort
	Orchestrator *services.Orchestrator
	Built        marketplace.BuildResult

	// Store nil, если postgres выключен
	Store *storage.CatalogStorage
	Cache interfaces.CachePort
	// Bus nil, если kafka выключена
	Bus interfaces.MessagingPort

	closers []func() error
}

// Options необязательные подмены для сборки
type Options struct {
	// Registry реестр адаптеров; по умолчанию все семь маркетплейсов
	Registry *marketplace.Registry
	// SkipMigrations не создавать схему БД при старте
	SkipMigrations bool
}

// Bootstrap подключает внешние зависимости и строит оркестратор.
// При ошибке уже открытые соединения закрываются.
func Bootstrap(ctx context.Context, cfg *config.Config, creds config.Credentials, log interfaces.LoggerPort, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Postgres.Enabled {
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Store, err = storage.NewCatalogStorage(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.Store.Close)
		if err := prepareStore(ctx, a.Store, !opts.SkipMigrations); err != nil {
			return nil, err
		}
		log.Info("Хранилище инициализировано")
	}

	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		a.Cache = rc
		log.Info("Кэш Redis инициализирован")
	} else {
		a.Cache = cache.NewMemoryCache()
	}
	a.closers = append(a.closers, a.Cache.Close)

	if cfg.Kafka.Enabled {
		bus, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации Kafka: %w", err)
		}
		a.Bus = bus
		a.closers = append(a.closers, bus.Close)
		log.Info("Система обмена сообщениями инициализирована")
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.Default()
	}
	a.Built = reg.BuildAll(ctx, cfg, creds, log)

	tracker := services.NewTracker(services.TrackerConfig{
		InitialDelay: cfg.Tracker.InitialDelay,
		MaxDelay:     cfg.Tracker.MaxDelay,
		Budget:       cfg.Tracker.Budget,
	}, log)
	deps := services.OrchestratorDeps{
		Dispatcher: services.NewDispatcher(services.DispatcherConfig{QueueSize: cfg.Dispatcher.QueueSize}, tracker, log),
		Categories: categories.NewMapper(a.categorySource(), a.Cache, cfg.Categories.CacheTTL, log),
		Lock:       a.Cache,
		Logger:     log,
	}
	if a.Store != nil {
		deps.Store = a.Store
	}
	if a.Bus != nil {
		deps.Publisher = messaging.NewEventPublisher(a.Bus, cfg.Kafka.EventsTopic)
	}
	a.Orchestrator = services.NewOrchestrator(services.OrchestratorConfig{
		WallClock: cfg.Run.WallClock,
		DryRun:    cfg.Run.DryRun,
		LockKey:   cfg.Run.LockKey,
	}, a.Built, deps)

	log.Info("Оркестратор готов",
		interfaces.LogField{Key: "adapters", Value: len(a.Built.Adapters)},
		interfaces.LogField{Key: "unavailable", Value: len(a.Built.Unavailable)},
	)
	return a, nil
}

// categorySource правила из конфигурации имеют приоритет над таблицей БД
func (a *App) categorySource() categories.Source {
	chain := categories.Chain{categories.NewStatic(a.Config.Categories.Mappings()...)}
	if a.Store != nil {
		chain = append(chain, a.Store)
	}
	return chain
}

func prepareStore(ctx context.Context, s interfaces.StoragePort, migrate bool) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("хранилище недоступно: %w", err)
	}
	if !migrate {
		return nil
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}
	return nil
}

// Health проверяет доступность хранилища
func (a *App) Health(ctx context.Context) error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Ping(ctx)
}

// Close закрывает соединения в обратном порядке
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
