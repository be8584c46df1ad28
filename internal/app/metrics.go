package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_worker_commands_total",
		Help: "Обработанные команды запуска прогонов",
	}, []string{"status"})

	commandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_worker_command_duration_seconds",
		Help:    "Длительность выполнения команды запуска",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
