// Пакет wipe — движок заданий затирания.
//
// Engine допускает задания (проверки устройства и busy-lock),
// исполняет каждое в отдельной горутине через стратегию метода,
// управляет паузой и отменой, ведёт журнал и публикует прогресс.
// Живое состояние задания принадлежит движку; наружу отдаются копии.
package wipe

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/dzap-backend/internal/blockdev"
	"github.com/bigkaa/dzap-backend/internal/catalog"
	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/events"
	"github.com/bigkaa/dzap-backend/internal/storage/journal"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
	"github.com/bigkaa/dzap-backend/internal/wipe/strategy"
)

// Причины отмены контекста задания.
var (
	errAborted  = errors.New("задание отменено оператором")
	errShutdown = errors.New("сервис останавливается")
)

// abortNote — пояснение к итогу отменённого задания.
const abortNote = "устройство оставлено в неопределённом состоянии, данные НЕ уничтожены"

// Resolver находит подключённое устройство по идентификатору.
type Resolver interface {
	Resolve(ctx context.Context, id string) (model.Device, error)
}

// CertificateIssuer выпускает сертификат для завершённого задания.
type CertificateIssuer interface {
	Issue(ctx context.Context, job model.WipeJob) (*model.Certificate, error)
}

// Request — запрос на запуск затирания.
type Request struct {
	// DeviceID — путь накопителя или serial мобильного устройства
	DeviceID     string
	Method       string
	DeviceSerial string
	DeviceType   model.DeviceClass
	// Verification — режим проверки ("" — значение по умолчанию)
	Verification string
	Operator     string
}

// Config — параметры движка.
type Config struct {
	Strategy            strategy.Config
	DefaultVerification model.VerificationMode
	// ArchiveSize, ArchiveTTL — архив завершённых заданий
	ArchiveSize int
	ArchiveTTL  time.Duration
	// JournalEvery — период записи позиции в журнал во время работы
	JournalEvery time.Duration
}

// Engine — движок заданий затирания.
type Engine struct {
	resolver  Resolver
	opener    blockdev.Opener
	runner    sysexec.Runner
	journal   *journal.Journal
	hub       *events.Hub
	coalescer *events.Coalescer
	cfg       Config
	logger    *slog.Logger

	issuerMu sync.RWMutex
	issuer   CertificateIssuer

	// admitMu сериализует допуск: проверка устройства и захват
	// busy-lock выполняются атомарно относительно других запусков
	admitMu sync.Mutex

	mu      sync.RWMutex
	jobs    map[string]*jobRuntime
	devices map[string]string
	archive *expirable.LRU[string, model.WipeJob]
	closed  bool

	wg  sync.WaitGroup
	now func() time.Time
}

// New создаёт Engine.
func New(
	resolver Resolver,
	opener blockdev.Opener,
	runner sysexec.Runner,
	jrnl *journal.Journal,
	hub *events.Hub,
	coalescer *events.Coalescer,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.ArchiveSize <= 0 {
		cfg.ArchiveSize = 256
	}
	if cfg.JournalEvery <= 0 {
		cfg.JournalEvery = 10 * time.Second
	}
	if cfg.DefaultVerification == "" {
		cfg.DefaultVerification = model.VerifyNone
	}

	e := &Engine{
		resolver:  resolver,
		opener:    opener,
		runner:    runner,
		journal:   jrnl,
		hub:       hub,
		coalescer: coalescer,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "wipe")),
		jobs:      make(map[string]*jobRuntime),
		devices:   make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.archive = expirable.NewLRU[string, model.WipeJob](cfg.ArchiveSize, func(id string, _ model.WipeJob) {
		coalescer.Forget(id)
	}, cfg.ArchiveTTL)
	return e
}

// SetIssuer подключает выпуск сертификатов по завершении заданий.
func (e *Engine) SetIssuer(issuer CertificateIssuer) {
	e.issuerMu.Lock()
	defer e.issuerMu.Unlock()
	e.issuer = issuer
}

func (e *Engine) certIssuer() CertificateIssuer {
	e.issuerMu.RLock()
	defer e.issuerMu.RUnlock()
	return e.issuer
}

// StartWipe допускает задание и запускает его исполнение.
// Возвращает id задания; ошибки допуска задание не создают.
func (e *Engine) StartWipe(ctx context.Context, req Request) (string, error) {
	mode, ok := model.ParseVerificationMode(req.Verification)
	if !ok {
		return "", apperr.New(apperr.KindValidation, req.DeviceID, "неизвестный режим верификации %q", req.Verification)
	}
	if req.Verification == "" {
		mode = e.cfg.DefaultVerification
	}

	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	dev, err := e.resolver.Resolve(ctx, req.DeviceID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return "", apperr.Wrap(apperr.KindIO, req.DeviceID, err, "не удалось опросить устройство")
		}
		return "", err
	}
	if err := checkDevice(dev, req); err != nil {
		return "", err
	}

	if e.IsBusy(dev.ID()) {
		return "", apperr.Busy(dev.ID(), "на устройстве уже выполняется задание затирания")
	}

	method, ok := catalog.Lookup(dev.Class(), req.Method)
	if !ok {
		return "", apperr.New(apperr.KindUnsupportedMethod, dev.ID(), "метод %q недоступен для устройства класса %s", req.Method, dev.Class())
	}
	if method.Strategy != model.StrategyOverwrite {
		// проверка firmware-методов не выполняется
		mode = model.VerifyNone
	}

	job := newJob(dev, req, method, mode, e.now())
	jobCtx, cancel := context.WithCancelCause(context.Background())
	rt := newRuntime(job, method, cancel)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel(errShutdown)
		return "", apperr.New(apperr.KindInvalidState, dev.ID(), "сервис останавливается")
	}
	e.devices[job.DeviceID] = job.ID
	e.jobs[job.ID] = rt
	e.mu.Unlock()

	if err := e.journal.Save(job, 0, 0); err != nil {
		e.mu.Lock()
		delete(e.devices, job.DeviceID)
		delete(e.jobs, job.ID)
		e.mu.Unlock()
		cancel(errShutdown)
		return "", apperr.Wrap(apperr.KindIO, job.DeviceID, err, "не удалось записать задание в журнал")
	}

	jobsActive.Inc()
	e.logger.Info("Задание затирания принято",
		slog.String("job_id", job.ID),
		slog.String("device", job.DeviceID),
		slog.String("method", job.Method),
		slog.String("verification", string(mode)),
	)
	e.hub.Publish(events.Log("Задание %s принято: %s, метод %s", job.ID, job.DeviceID, method.Name))
	e.coalescer.Update(events.ProgressFromJob(job, e.now()))

	e.wg.Add(1)
	go e.run(jobCtx, rt)

	return job.ID, nil
}

// checkDevice проверяет готовность устройства к затиранию.
// Порядок: системный диск, монтирование, frozen, соответствие serial и типа.
func checkDevice(dev model.Device, req Request) error {
	switch d := dev.(type) {
	case *model.StorageDevice:
		if d.IsOSDrive {
			return apperr.Forbidden(d.Path, "затирание системного диска запрещено")
		}
		if d.IsMounted {
			return apperr.Precondition(d.Path, "устройство смонтировано, требуется размонтирование")
		}
		if d.IsFrozen {
			return apperr.Precondition(d.Path, "устройство в состоянии security frozen")
		}
		if req.DeviceSerial != "" && d.Serial != "" && req.DeviceSerial != d.Serial {
			return apperr.Precondition(d.Path, "serial не совпадает: ожидался %s, устройство сообщает %s", req.DeviceSerial, d.Serial)
		}
	case *model.MobileDevice:
		if !d.Authorized {
			return apperr.Precondition(d.Serial, "устройство не подтвердило доверие хосту")
		}
	}
	if req.DeviceType != "" && dev.Class() != model.ClassUnknown && req.DeviceType != dev.Class() {
		return apperr.Precondition(dev.ID(), "тип не совпадает: ожидался %s, устройство определено как %s", req.DeviceType, dev.Class())
	}
	return nil
}

func newJob(dev model.Device, req Request, method model.WipeMethod, mode model.VerificationMode, now time.Time) model.WipeJob {
	job := model.WipeJob{
		ID:           uuid.New().String(),
		DeviceID:     dev.ID(),
		DeviceSerial: req.DeviceSerial,
		DeviceType:   dev.Class(),
		Method:       method.ID,
		MethodName:   method.Name,
		Operator:     req.Operator,
		Status:       model.JobQueued,
		TotalPasses:  method.Passes,
		CreatedAt:    now,
		Verification: model.Verification{Mode: mode},
	}
	switch d := dev.(type) {
	case *model.StorageDevice:
		job.DeviceModel = d.Model
		job.Extent = d.Size
		if d.Serial != "" {
			job.DeviceSerial = d.Serial
		}
	case *model.MobileDevice:
		job.DeviceModel = d.Model
		job.DeviceSerial = d.Serial
	}
	return job
}

// GetJob возвращает снимок задания (активного или из архива).
func (e *Engine) GetJob(id string) (model.WipeJob, error) {
	e.mu.RLock()
	rt, ok := e.jobs[id]
	e.mu.RUnlock()
	if ok {
		return rt.snapshot(), nil
	}
	if job, ok := e.archive.Get(id); ok {
		return job, nil
	}
	return model.WipeJob{}, apperr.NotFound("", "задание %s не найдено", id)
}

// ListJobs возвращает снимки всех известных заданий, новые первыми.
func (e *Engine) ListJobs() []model.WipeJob {
	e.mu.RLock()
	live := make([]*jobRuntime, 0, len(e.jobs))
	for _, rt := range e.jobs {
		live = append(live, rt)
	}
	e.mu.RUnlock()

	seen := make(map[string]bool, len(live))
	jobs := make([]model.WipeJob, 0, len(live)+e.archive.Len())
	for _, rt := range live {
		job := rt.snapshot()
		seen[job.ID] = true
		jobs = append(jobs, job)
	}
	for _, job := range e.archive.Values() {
		if !seen[job.ID] {
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// ActiveJobForDevice возвращает незавершённое задание устройства.
func (e *Engine) ActiveJobForDevice(deviceID string) (model.WipeJob, bool) {
	rt := e.activeRuntime(deviceID)
	if rt == nil {
		return model.WipeJob{}, false
	}
	return rt.snapshot(), true
}

// IsBusy сообщает, удерживает ли задание устройство.
func (e *Engine) IsBusy(deviceID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.devices[deviceID]
	return ok
}

// LatestJob возвращает последнее задание для serial (и метода, если задан).
func (e *Engine) LatestJob(serial, method string) (model.WipeJob, bool) {
	var (
		best  model.WipeJob
		found bool
	)
	for _, job := range e.ListJobs() {
		if job.DeviceSerial != serial && job.DeviceID != serial {
			continue
		}
		if method != "" && job.Method != method {
			continue
		}
		if !found || job.CreatedAt.After(best.CreatedAt) {
			best, found = job, true
		}
	}
	return best, found
}

// Shutdown прерывает активные задания и ждёт завершения их горутин.
// Прерванные задания закрываются как failed; устройство не считается очищенным.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, rt := range e.jobs {
		rt.cancel(errShutdown)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("Движок затирания остановлен")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) activeRuntime(deviceID string) *jobRuntime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.devices[deviceID]
	if !ok {
		return nil
	}
	return e.jobs[id]
}

func (e *Engine) runtime(jobID string) (*jobRuntime, error) {
	e.mu.RLock()
	rt, ok := e.jobs[jobID]
	e.mu.RUnlock()
	if ok {
		return rt, nil
	}
	if job, ok := e.archive.Get(jobID); ok {
		return nil, apperr.InvalidState("задание %s уже завершено (%s)", jobID, job.Status)
	}
	return nil, apperr.NotFound("", "задание %s не найдено", jobID)
}

// saveJournal записывает текущее состояние задания.
func (e *Engine) saveJournal(rt *jobRuntime) error {
	rt.saveMu.Lock()
	defer rt.saveMu.Unlock()

	job, pos := rt.position()
	if err := e.journal.Save(job, pos.Pass, pos.Offset); err != nil {
		e.logger.Error("Не удалось записать задание в журнал",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
