// audit.go — сервис фоновой проверки целостности сертификатов.
//
// Аудит перечитывает каждый сертификат с диска и независимо пересчитывает
// хэш доказательной записи и подпись. Обнаруживает проблемы:
//   - hash_mismatch: хэш не совпадает с содержимым записи
//   - signature_invalid: подпись не проверяется ключом из сертификата
//   - untrusted_key: сертификат подписан не ключом этой станции
//   - unreadable_file: файл сертификата не читается или не является JSON
//   - orphaned_tmp: временный файл прерванной записи
//   - missing_in_index: сертификат на диске отсутствует в индексе
//
// Запускается как горутина с периодическим тикером (DZ_AUDIT_INTERVAL)
// и вручную через POST /api/maintenance/audit.
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dzap-backend/internal/certificate"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
	"github.com/bigkaa/dzap-backend/internal/storage/certstore"
)

// Prometheus метрики аудита
var (
	auditRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_audit_runs_total",
		Help: "Общее количество запусков аудита сертификатов",
	})

	auditIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dz_audit_issues_total",
		Help: "Общее количество проблем, обнаруженных аудитом",
	}, []string{"type"})

	auditDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dz_audit_duration_seconds",
		Help:    "Длительность аудита в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// Типы проблем аудита.
const (
	IssueHashMismatch     = "hash_mismatch"
	IssueSignatureInvalid = "signature_invalid"
	IssueUntrustedKey     = "untrusted_key"
	IssueUnreadableFile   = "unreadable_file"
	IssueOrphanedTmp      = "orphaned_tmp"
	IssueMissingInIndex   = "missing_in_index"
)

// DefaultTmpGrace — возраст временного файла, после которого он считается
// брошенным и удаляется.
const DefaultTmpGrace = time.Minute

// CertificateAuditor — доступ аудита к сертификатам.
type CertificateAuditor interface {
	Store() *certstore.Store
	Index() *certindex.Index
	Verify(cert *model.Certificate) certificate.VerifyResult
}

// AuditIssue — одна обнаруженная проблема.
type AuditIssue struct {
	Type          string `json:"type"`
	CertificateID string `json:"certificateId,omitempty"`
	Path          string `json:"path,omitempty"`
	Description   string `json:"description"`
}

// AuditSummary — сводка по типам проблем.
type AuditSummary struct {
	OK                int `json:"ok"`
	HashMismatches    int `json:"hashMismatches"`
	InvalidSignatures int `json:"invalidSignatures"`
	UntrustedKeys     int `json:"untrustedKeys"`
	UnreadableFiles   int `json:"unreadableFiles"`
	OrphanedTmp       int `json:"orphanedTmp"`
	MissingInIndex    int `json:"missingInIndex"`
}

// AuditResult — результат одного запуска аудита.
type AuditResult struct {
	StartedAt           time.Time    `json:"startedAt"`
	CompletedAt         time.Time    `json:"completedAt"`
	CertificatesChecked int          `json:"certificatesChecked"`
	Issues              []AuditIssue `json:"issues"`
	Summary             AuditSummary `json:"summary"`
}

// AuditService — сервис аудита сертификатов.
type AuditService struct {
	certs    CertificateAuditor
	interval time.Duration
	tmpGrace time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // аудит в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewAuditService создаёт сервис аудита.
func NewAuditService(certs CertificateAuditor, interval time.Duration, logger *slog.Logger) *AuditService {
	return &AuditService{
		certs:    certs,
		interval: interval,
		tmpGrace: DefaultTmpGrace,
		logger:   logger.With(slog.String("component", "audit")),
	}
}

// Start запускает фоновую горутину аудита с периодическим тикером.
func (as *AuditService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	as.cancel = cancel
	as.done = make(chan struct{})

	go as.run(runCtx)

	as.logger.Info("Аудит сертификатов запущен",
		slog.String("interval", as.interval.String()),
	)
}

// Stop останавливает фоновый процесс аудита.
func (as *AuditService) Stop() {
	if as.cancel != nil {
		as.cancel()
		<-as.done
	}
	as.logger.Info("Аудит сертификатов остановлен")
}

// IsInProgress возвращает true, если аудит выполняется.
func (as *AuditService) IsInProgress() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.inProcess
}

func (as *AuditService) run(ctx context.Context) {
	defer close(as.done)

	ticker := time.NewTicker(as.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			as.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл аудита.
// Если аудит уже выполняется, возвращает nil, true.
func (as *AuditService) RunOnce() (*AuditResult, bool) {
	as.mu.Lock()
	if as.inProcess {
		as.mu.Unlock()
		as.logger.Warn("Аудит уже выполняется, пропуск")
		return nil, true
	}
	as.inProcess = true
	as.mu.Unlock()

	defer func() {
		as.mu.Lock()
		as.inProcess = false
		as.mu.Unlock()
	}()

	result := &AuditResult{StartedAt: time.Now().UTC(), Issues: []AuditIssue{}}
	as.logger.Info("Аудит сертификатов начат")

	checked, issues := as.audit()
	result.CertificatesChecked = checked
	result.Issues = append(result.Issues, issues...)

	damaged := make(map[string]bool)
	for _, issue := range issues {
		switch issue.Type {
		case IssueHashMismatch:
			result.Summary.HashMismatches++
		case IssueSignatureInvalid:
			result.Summary.InvalidSignatures++
		case IssueUntrustedKey:
			result.Summary.UntrustedKeys++
		case IssueUnreadableFile:
			result.Summary.UnreadableFiles++
		case IssueOrphanedTmp:
			result.Summary.OrphanedTmp++
		case IssueMissingInIndex:
			result.Summary.MissingInIndex++
		}
		if issue.CertificateID != "" && issue.Type != IssueMissingInIndex {
			damaged[issue.CertificateID] = true
		}
		auditIssuesTotal.WithLabelValues(issue.Type).Inc()
	}
	result.Summary.OK = checked - len(damaged)

	result.CompletedAt = time.Now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)
	auditRunsTotal.Inc()
	auditDurationSeconds.Observe(duration.Seconds())

	level := slog.LevelInfo
	if len(damaged) > 0 || result.Summary.UnreadableFiles > 0 {
		level = slog.LevelWarn
	}
	as.logger.Log(context.Background(), level, "Аудит сертификатов завершён",
		slog.Int("checked", checked),
		slog.Int("issues", len(issues)),
		slog.Int("ok", result.Summary.OK),
		slog.Duration("duration", duration),
	)
	return result, false
}

// audit проверяет файлы хранилища. Возвращает число прочитанных
// сертификатов и список проблем.
func (as *AuditService) audit() (int, []AuditIssue) {
	store := as.certs.Store()
	idx := as.certs.Index()
	var issues []AuditIssue

	certs, broken, err := store.Scan()
	if err != nil {
		as.logger.Error("Ошибка сканирования хранилища сертификатов",
			slog.String("error", err.Error()),
		)
		return 0, issues
	}

	for _, path := range broken {
		issues = append(issues, AuditIssue{
			Type:        IssueUnreadableFile,
			Path:        path,
			Description: "Файл сертификата не читается",
		})
	}

	for _, c := range certs {
		path := store.Path(c.ID)
		res := as.certs.Verify(c)
		if !res.HashMatches {
			issues = append(issues, AuditIssue{
				Type:          IssueHashMismatch,
				CertificateID: c.ID,
				Path:          path,
				Description:   "Хэш доказательной записи не совпадает с содержимым",
			})
		}
		if !res.SignatureValid {
			issues = append(issues, AuditIssue{
				Type:          IssueSignatureInvalid,
				CertificateID: c.ID,
				Path:          path,
				Description:   "Подпись сертификата недействительна",
			})
		} else if !res.TrustedKey {
			issues = append(issues, AuditIssue{
				Type:          IssueUntrustedKey,
				CertificateID: c.ID,
				Path:          path,
				Description:   "Сертификат подписан ключом другой станции",
			})
		}

		if idx.Get(c.ID) == nil {
			idx.Put(c)
			issues = append(issues, AuditIssue{
				Type:          IssueMissingInIndex,
				CertificateID: c.ID,
				Path:          path,
				Description:   "Сертификат отсутствовал в индексе и добавлен",
			})
		}
	}

	tmps, err := store.OrphanedTmp()
	if err != nil {
		as.logger.Warn("Ошибка поиска временных файлов",
			slog.String("error", err.Error()),
		)
	}
	for _, path := range tmps {
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		// свежий temp может принадлежать записи, которая ещё идёт
		if time.Since(info.ModTime()) < as.tmpGrace {
			continue
		}
		desc := "Временный файл прерванной записи удалён"
		if rmErr := store.RemoveTmp(path); rmErr != nil {
			desc = "Временный файл прерванной записи: " + rmErr.Error()
		}
		issues = append(issues, AuditIssue{
			Type:        IssueOrphanedTmp,
			Path:        filepath.Base(path),
			Description: desc,
		})
	}

	return len(certs), issues
}
