package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики для Prometheus
var (
	RecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_records_fetched_total",
		Help: "Количество прочитанных записей каталога",
	}, []string{"marketplace"})

	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_records_dropped_total",
		Help: "Записи, отброшенные при нормализации",
	}, []string{"marketplace"})

	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_intents_total",
		Help: "Итоги намерений по маркетплейсам",
	}, []string{"marketplace", "status"})

	SubmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_submits_total",
		Help: "Количество отправок пакетов в маркетплейсы",
	}, []string{"marketplace", "kind"})

	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_job_polls_total",
		Help: "Количество опросов асинхронных заданий",
	}, []string{"marketplace"})

	JobsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_jobs_terminal_total",
		Help: "Задания, дошедшие до конечного состояния",
	}, []string{"marketplace", "status"})

	HTTPRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_http_retries_total",
		Help: "Повторы HTTP запросов к маркетплейсам",
	}, []string{"marketplace", "kind"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_sync_http_request_duration_seconds",
		Help:    "Длительность HTTP запросов к маркетплейсам",
		Buckets: prometheus.DefBuckets,
	}, []string{"marketplace", "op"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_runs_total",
		Help: "Завершенные прогоны по режимам и кодам выхода",
	}, []string{"mode", "exit_code"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_sync_run_duration_seconds",
		Help:    "Длительность прогона",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"mode"})
)

// APIRequests длительность запросов HTTP API запуска прогонов
var APIRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "catalog_sync_api_request_duration_seconds",
	Help:    "Длительность запросов HTTP API",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})
