package wipe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики движка затирания.
var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dz_wipe_jobs_total",
			Help: "Количество завершённых заданий затирания по методу и итогу",
		},
		[]string{"method", "outcome"},
	)

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dz_wipe_jobs_active",
		Help: "Текущее количество незавершённых заданий",
	})

	bytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_wipe_bytes_written_total",
		Help: "Общий объём данных, записанных методами перезаписи (байт)",
	})

	ioRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_wipe_io_retries_total",
		Help: "Количество повторов ввода-вывода после временных ошибок",
	})
)
