// expiry.go — фоновое обслуживание сроков хранения.
//
// Сервис выполняет две задачи:
//  1. Переводит действительные сертификаты с истёкшим expiresAt в expired
//  2. Удаляет из журнала записи завершённых заданий старше DZ_JOURNAL_RETENTION
//
// Запускается как горутина с периодическим тикером (DZ_EXPIRY_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики обслуживания сроков
var (
	expiryRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_expiry_runs_total",
		Help: "Общее количество запусков обслуживания сроков",
	})

	expiryCertificatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_expiry_certificates_total",
		Help: "Количество сертификатов, переведённых в expired",
	})

	expiryJournalPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_expiry_journal_pruned_total",
		Help: "Количество удалённых записей журнала заданий",
	})

	expiryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dz_expiry_duration_seconds",
		Help:    "Длительность обслуживания сроков в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CertificateExpirer — перевод просроченных сертификатов в expired.
type CertificateExpirer interface {
	ExpireDue(now time.Time) (int, error)
}

// JournalPruner — очистка журнала заданий.
type JournalPruner interface {
	Prune(before time.Time) (int, error)
}

// ExpiryResult — результат одного запуска.
type ExpiryResult struct {
	// ExpiredCount — сертификаты, переведённые в expired
	ExpiredCount int
	// PrunedCount — удалённые записи журнала
	PrunedCount int
	// Errors — количество ошибок
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// ExpiryService — сервис обслуживания сроков.
type ExpiryService struct {
	certs     CertificateExpirer
	journal   JournalPruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExpiryService создаёт сервис. journal может быть nil, retention 0
// отключает очистку журнала.
func NewExpiryService(
	certs CertificateExpirer,
	journal JournalPruner,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *ExpiryService {
	return &ExpiryService{
		certs:     certs,
		journal:   journal,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "expiry")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *ExpiryService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)

	s.logger.Info("Обслуживание сроков запущено",
		slog.String("interval", s.interval.String()),
		slog.String("journal_retention", s.retention.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается текущего запуска.
func (s *ExpiryService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Обслуживание сроков остановлено")
}

func (s *ExpiryService) run(ctx context.Context) {
	defer close(s.done)

	// Первый запуск — сразу после старта
	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл обслуживания.
func (s *ExpiryService) RunOnce() *ExpiryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now()
	result := &ExpiryResult{}

	expired, err := s.certs.ExpireDue(now)
	result.ExpiredCount = expired
	if err != nil {
		result.Errors++
		s.logger.Error("Ошибка перевода сертификатов в expired",
			slog.String("error", err.Error()),
		)
	}

	if s.journal != nil && s.retention > 0 {
		pruned, err := s.journal.Prune(now.Add(-s.retention))
		result.PrunedCount = pruned
		if err != nil {
			result.Errors++
			s.logger.Error("Ошибка очистки журнала заданий",
				slog.String("error", err.Error()),
			)
		}
	}

	result.Duration = time.Since(start)

	expiryRunsTotal.Inc()
	expiryCertificatesTotal.Add(float64(result.ExpiredCount))
	expiryJournalPrunedTotal.Add(float64(result.PrunedCount))
	expiryDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Обслуживание сроков завершено",
		slog.Int("expired", result.ExpiredCount),
		slog.Int("pruned", result.PrunedCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}
