package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/api"
	"github.com/athebyme/gomarket-sync/internal/api/handlers"
	"github.com/athebyme/gomarket-sync/internal/app"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/security"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	jwtManager, err := security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpirationMin, cfg.AppName)
	if err != nil {
		log.Fatal("Ошибка инициализации JWT", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	a, err := app.Bootstrap(ctx, cfg, config.LoadCredentials(), log, app.Options{})
	if err != nil {
		log.Fatal("Ошибка инициализации зависимостей", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	// С Kafka прогоны выполняет воркер; без нее прогон идет в этом процессе
	var trigger handlers.RunTrigger
	var history handlers.RunHistory
	local := &localRunner{orchestrator: a.Orchestrator, logger: log, ctx: ctx}
	if a.Bus != nil {
		trigger = messaging.NewCommandPublisher(a.Bus, cfg.Kafka.CommandsTopic)
	} else {
		trigger = local
		history = local
	}
	if a.Store != nil {
		history = a.Store
	}

	router := api.SetupRouter(api.RouterDeps{
		Trigger:            trigger,
		History:            history,
		JWT:                jwtManager,
		Logger:             log,
		CORSAllowedOrigins: cfg.Security.CORSAllowOrigins,
		Health:             func(r *http.Request) error { return a.Health(r.Context()) },
	})
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      http.MaxBytesHandler(router, int64(max(cfg.Server.BodyLimit, 1))<<20),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		log.Info("HTTP сервер остановлен")

		cancel()
		local.wait()

		if err := a.Close(); err != nil {
			log.Error("Ошибка при закрытии зависимостей", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		close(done)
	}()

	<-done
	log.Info("Сервер корректно завершил работу")
}

// localRunner выполняет прогоны в фоне внутри процесса API и помнит последний итог
type localRunner struct {
	orchestrator *services.Orchestrator
	logger       interfaces.LoggerPort
	ctx          context.Context

	mu   sync.Mutex
	last *models.ReportSnapshot
	wg   sync.WaitGroup
}

func (l *localRunner) Trigger(_ context.Context, cmd messaging.RunCommand) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		report, err := l.orchestrator.Run(l.ctx, cmd.Choice)
		if err != nil {
			level := l.logger.Error
			if errors.Is(err, apperrors.ErrLockNotAcquired) {
				level = l.logger.Warn
			}
			level("Прогон не выполнен",
				interfaces.LogField{Key: "requested_by", Value: cmd.RequestedBy},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			return
		}
		snap := report.Snapshot()
		l.mu.Lock()
		l.last = &snap
		l.mu.Unlock()
	}()
	return nil
}

func (l *localRunner) LastRun(context.Context) (models.ReportSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return models.ReportSnapshot{}, models.ErrNoRuns
	}
	return *l.last, nil
}

func (l *localRunner) wait() {
	l.wg.Wait()
}
