// ledger.go — выгрузка итогов в PostgreSQL-реестр.
//
// Локальный журнал и хранилище сертификатов остаются источником истины;
// реестр — зеркало для централизованной отчётности. На каждом тике
// выгружаются завершённые задания и сертификаты, изменившиеся с прошлой
// успешной выгрузки. Ошибки логируются, запись повторяется на следующем тике.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/repository"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
)

var (
	ledgerSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dz_ledger_synced_total",
		Help: "Количество записей, выгруженных в реестр",
	}, []string{"kind"})

	ledgerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_ledger_errors_total",
		Help: "Количество ошибок выгрузки в реестр",
	})
)

// JobLister — снимки заданий движка.
type JobLister interface {
	ListJobs() []model.WipeJob
}

// CertificateLister — выборка сертификатов.
type CertificateLister interface {
	List(f certindex.Filter) ([]*model.Certificate, int)
}

// LedgerResult — результат одного прохода выгрузки.
type LedgerResult struct {
	Jobs         int
	Certificates int
	Errors       int
}

// LedgerSync — сервис выгрузки в реестр.
type LedgerSync struct {
	repo     repository.LedgerRepository
	jobs     JobLister
	certs    CertificateLister
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex
	// синхронизированные версии: id → отпечаток изменяемых полей
	syncedJobs  map[string]string
	syncedCerts map[string]string
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewLedgerSync создаёт сервис выгрузки.
func NewLedgerSync(
	repo repository.LedgerRepository,
	jobs JobLister,
	certs CertificateLister,
	interval time.Duration,
	logger *slog.Logger,
) *LedgerSync {
	return &LedgerSync{
		repo:        repo,
		jobs:        jobs,
		certs:       certs,
		interval:    interval,
		timeout:     30 * time.Second,
		logger:      logger.With(slog.String("component", "ledger")),
		syncedJobs:  make(map[string]string),
		syncedCerts: make(map[string]string),
	}
}

// Start запускает фоновую выгрузку.
func (ls *LedgerSync) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	ls.cancel = cancel
	ls.done = make(chan struct{})

	go ls.run(runCtx)

	ls.logger.Info("Выгрузка в реестр запущена",
		slog.String("interval", ls.interval.String()),
	)
}

// Stop останавливает выгрузку и дожидается текущего прохода.
func (ls *LedgerSync) Stop() {
	if ls.cancel != nil {
		ls.cancel()
		<-ls.done
	}
	ls.logger.Info("Выгрузка в реестр остановлена")
}

func (ls *LedgerSync) run(ctx context.Context) {
	defer close(ls.done)

	ls.RunOnce(ctx)

	ticker := time.NewTicker(ls.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ls.RunOnce(ctx)
		}
	}
}

// RunOnce выгружает изменившиеся записи.
func (ls *LedgerSync) RunOnce(ctx context.Context) *LedgerResult {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ls.timeout)
	defer cancel()

	result := &LedgerResult{}

	for _, job := range ls.jobs.ListJobs() {
		if !job.Status.IsTerminal() {
			continue
		}
		fp := jobFingerprint(job)
		if ls.syncedJobs[job.ID] == fp {
			continue
		}
		if err := ls.repo.UpsertJob(ctx, job); err != nil {
			result.Errors++
			ls.logger.Warn("Ошибка выгрузки задания",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ls.syncedJobs[job.ID] = fp
		result.Jobs++
	}

	certs, _ := ls.certs.List(certindex.Filter{})
	for _, c := range certs {
		fp := certFingerprint(c)
		if ls.syncedCerts[c.ID] == fp {
			continue
		}
		if err := ls.repo.UpsertCertificate(ctx, c); err != nil {
			result.Errors++
			ls.logger.Warn("Ошибка выгрузки сертификата",
				slog.String("certificate_id", c.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ls.syncedCerts[c.ID] = fp
		result.Certificates++
	}

	ledgerSyncedTotal.WithLabelValues("job").Add(float64(result.Jobs))
	ledgerSyncedTotal.WithLabelValues("certificate").Add(float64(result.Certificates))
	ledgerErrorsTotal.Add(float64(result.Errors))

	if result.Jobs > 0 || result.Certificates > 0 || result.Errors > 0 {
		ls.logger.Info("Выгрузка в реестр выполнена",
			slog.Int("jobs", result.Jobs),
			slog.Int("certificates", result.Certificates),
			slog.Int("errors", result.Errors),
		)
	}
	return result
}

func jobFingerprint(j model.WipeJob) string {
	return fmt.Sprintf("%s|%s|%s", j.Status, j.CertificateID, j.ErrorKind)
}

func certFingerprint(c *model.Certificate) string {
	revoked := ""
	if c.RevokedAt != nil {
		revoked = c.RevokedAt.String()
	}
	return fmt.Sprintf("%s|%s", c.Status, revoked)
}
