package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/app"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики для Prometheus
var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_processed_total",
		Help: "Общее количество обработанных сообщений",
	}, []string{"topic", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_message_processing_duration_seconds",
		Help:    "Длительность обработки сообщений",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"topic"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_goroutines",
		Help: "Количество активных горутин-обработчиков",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	a, err := app.Bootstrap(ctx, cfg, config.LoadCredentials(".env"), log, app.Options{})
	if err != nil {
		log.Fatal("Ошибка инициализации", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer a.Close()
	if a.Bus == nil {
		log.Fatal("Воркеру нужна Kafka: включите kafka.enabled")
	}

	// HTTP сервер для метрик и проверки здоровья
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				if err := a.Health(r.Context()); err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	subscribeToRunCommands(ctx, a, cfg.Kafka.CommandsTopic, log, &wg)

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, текущий прогон будет отменен")
		cancel()
		wg.Wait()
		close(done)
	}()

	log.Info("Воркер запущен и ждет команды прогона",
		interfaces.LogField{Key: "topic", Value: cfg.Kafka.CommandsTopic})
	<-done
	log.Info("Воркер корректно завершил работу")
}

// subscribeToRunCommands подписка на топик команд. Сами прогоны идут по одному
func subscribeToRunCommands(ctx context.Context, a *app.App, topic string,
	logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	handle := app.CommandHandler(a.Orchestrator, logger)
	handler := func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()

		err := handle(ctx, msg)
		messageProcessingDuration.WithLabelValues(msg.Topic).Observe(time.Since(startTime).Seconds())
		if err != nil {
			logger.ErrorWithContext(ctx, "Ошибка обработки команды",
				interfaces.LogField{Key: "message_id", Value: msg.ID},
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}
		messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()
		return nil
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		unsubscribe, err := a.Bus.Subscribe(ctx, topic, handler)
		if err != nil {
			logger.Error("Ошибка подписки на команды прогона",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на команды прогона установлена")
		<-ctx.Done()
		logger.Info("Отмена подписки на команды прогона")
	}()
}
