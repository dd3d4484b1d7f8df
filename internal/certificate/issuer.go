// Пакет certificate — выпуск, хранение и проверка сертификатов уничтожения.
//
// Сертификат выпускается ровно один раз на успешно завершённое задание.
// Доказательная запись (задание, устройство, метод, время, верификация)
// хэшируется SHA-256 и подписывается ключом станции Ed25519.
package certificate

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
	"github.com/bigkaa/dzap-backend/internal/storage/certstore"
)

// certificateEventsTotal — выпуск и смена статуса сертификатов.
var certificateEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dz_certificates_total",
		Help: "Количество сертификатов, переведённых в статус (valid — выпуск)",
	},
	[]string{"status"},
)

// JobSource — доступ к заданиям движка затирания.
type JobSource interface {
	GetJob(id string) (model.WipeJob, error)
	// LatestJob — последнее задание для serial (и метода, если задан)
	LatestJob(serial, method string) (model.WipeJob, bool)
}

// Options — параметры выпуска.
type Options struct {
	// Standard — политика, указываемая в сертификате
	Standard string
	// Operator — оператор по умолчанию
	Operator string
	// Validity — срок действия (0 — бессрочно)
	Validity time.Duration
}

// Issuer — выпуск и управление сертификатами.
type Issuer struct {
	store  *certstore.Store
	index  *certindex.Index
	signer *Signer
	opts   Options
	logger *slog.Logger

	// mu сериализует выпуск, обеспечивая единственность сертификата на задание
	mu   sync.Mutex
	jobs JobSource
	now  func() time.Time
}

// NewIssuer создаёт Issuer и строит индекс из файлов сертификатов.
func NewIssuer(store *certstore.Store, index *certindex.Index, signer *Signer, opts Options, logger *slog.Logger) (*Issuer, error) {
	certs, _, err := store.Scan()
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить сертификаты: %w", err)
	}
	index.Build(certs)

	return &Issuer{
		store:  store,
		index:  index,
		signer: signer,
		opts:   opts,
		logger: logger.With(slog.String("component", "certificate")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetJobSource подключает движок затирания для GenerateFor.
func (is *Issuer) SetJobSource(jobs JobSource) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.jobs = jobs
}

// Issue выпускает сертификат для завершённого задания. Повторный вызов
// для того же задания возвращает уже выпущенный сертификат.
func (is *Issuer) Issue(_ context.Context, job model.WipeJob) (*model.Certificate, error) {
	if job.Status != model.JobCompleted {
		return nil, apperr.InvalidState("сертификат выпускается только для завершённого задания (статус %s)", job.Status)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		return nil, apperr.InvalidState("у задания %s нет времени начала или окончания", job.ID)
	}

	is.mu.Lock()
	defer is.mu.Unlock()

	if existing := is.index.ByJob(job.ID); existing != nil {
		is.withValidity(existing)
		return existing, nil
	}

	now := is.now()
	operator := job.Operator
	if operator == "" {
		operator = is.opts.Operator
	}

	cert := &model.Certificate{
		ID:    uuid.New().String(),
		JobID: job.ID,
		Device: model.DeviceSnapshot{
			ID:     job.DeviceID,
			Model:  job.DeviceModel,
			Serial: job.DeviceSerial,
			Type:   job.DeviceType,
			Size:   job.Extent,
		},
		Method:       job.Method,
		MethodName:   job.MethodName,
		Passes:       job.TotalPasses,
		Standard:     is.opts.Standard,
		Operator:     operator,
		StartedAt:    job.StartedAt.UTC(),
		FinishedAt:   job.FinishedAt.UTC(),
		Verification: job.Verification,
		Status:       model.CertValid,
		IssuedAt:     now,
		PublicKey:    is.signer.PublicKeyPEM(),
	}
	if is.opts.Validity > 0 {
		exp := now.Add(is.opts.Validity)
		cert.ExpiresAt = &exp
	}

	digest, err := EvidenceHash(cert)
	if err != nil {
		return nil, err
	}
	cert.EvidenceHash = hex.EncodeToString(digest)
	cert.Signature = base64.StdEncoding.EncodeToString(is.signer.Sign(digest))

	if err := is.store.Write(cert); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, job.DeviceID, err, "не удалось сохранить сертификат")
	}
	is.index.Put(cert)
	certificateEventsTotal.WithLabelValues(string(model.CertValid)).Inc()

	is.logger.Info("Сертификат выпущен",
		slog.String("certificate_id", cert.ID),
		slog.String("job_id", job.ID),
		slog.String("device", job.DeviceID),
		slog.String("method", job.Method),
	)

	cert.SignatureValid = true
	return cert, nil
}

// GenerateFor находит последнее задание для устройства (serial и метод)
// и выпускает для него сертификат. jobID, если задан, имеет приоритет.
func (is *Issuer) GenerateFor(ctx context.Context, jobID, serial, method string) (*model.Certificate, error) {
	is.mu.Lock()
	jobs := is.jobs
	is.mu.Unlock()
	if jobs == nil {
		return nil, apperr.New(apperr.KindInternal, "", "движок затирания не подключён")
	}

	var job model.WipeJob
	if jobID != "" {
		j, err := jobs.GetJob(jobID)
		if err != nil {
			return nil, err
		}
		job = j
	} else {
		j, ok := jobs.LatestJob(serial, method)
		if !ok {
			return nil, apperr.NotFound(serial, "нет заданий затирания для устройства")
		}
		job = j
	}
	return is.Issue(ctx, job)
}

// Get возвращает сертификат с результатом проверки подписи.
func (is *Issuer) Get(id string) (*model.Certificate, error) {
	cert := is.index.Get(id)
	if cert == nil {
		return nil, apperr.NotFound("", "сертификат %s не найден", id)
	}
	is.withValidity(cert)
	return cert, nil
}

// List возвращает страницу сертификатов (новые первыми) и общее число.
func (is *Issuer) List(f certindex.Filter) ([]*model.Certificate, int) {
	certs, total := is.index.List(f)
	for _, c := range certs {
		is.withValidity(c)
	}
	return certs, total
}

// Revoke отзывает сертификат. Меняются только поля статуса.
func (is *Issuer) Revoke(id, reason string) (*model.Certificate, error) {
	is.mu.Lock()
	defer is.mu.Unlock()

	cert := is.index.Get(id)
	if cert == nil {
		return nil, apperr.NotFound("", "сертификат %s не найден", id)
	}
	if cert.Status == model.CertRevoked {
		return nil, apperr.InvalidState("сертификат %s уже отозван", id)
	}

	now := is.now()
	cert.Status = model.CertRevoked
	cert.RevokedAt = &now
	cert.RevocationReason = reason

	if err := is.store.Write(cert); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "", err, "не удалось сохранить отзыв сертификата")
	}
	is.index.Put(cert)
	certificateEventsTotal.WithLabelValues(string(model.CertRevoked)).Inc()

	is.logger.Warn("Сертификат отозван",
		slog.String("certificate_id", id),
		slog.String("reason", reason),
	)
	is.withValidity(cert)
	return cert, nil
}

// Verify выполняет независимую проверку сертификата.
func (is *Issuer) Verify(cert *model.Certificate) VerifyResult {
	return Verify(cert, is.signer.pub)
}

// ExpireDue переводит действительные сертификаты с истёкшим сроком в expired.
func (is *Issuer) ExpireDue(now time.Time) (int, error) {
	is.mu.Lock()
	defer is.mu.Unlock()

	certs, _ := is.index.List(certindex.Filter{Status: model.CertValid})
	expired := 0
	var errs []error
	for _, c := range certs {
		if !c.IsExpired(now) {
			continue
		}
		c.Status = model.CertExpired
		if err := is.store.Write(c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.ID, err))
			continue
		}
		is.index.Put(c)
		certificateEventsTotal.WithLabelValues(string(model.CertExpired)).Inc()
		expired++
	}
	return expired, errors.Join(errs...)
}

// Store возвращает файловое хранилище сертификатов (для аудита).
func (is *Issuer) Store() *certstore.Store {
	return is.store
}

// Index возвращает индекс сертификатов.
func (is *Issuer) Index() *certindex.Index {
	return is.index
}

// withValidity выставляет SignatureValid: подпись чужим ключом не засчитывается.
func (is *Issuer) withValidity(c *model.Certificate) {
	c.SignatureValid = is.Verify(c).Trusted()
}

// PublicKeyPEM возвращает открытый ключ станции.
func (is *Issuer) PublicKeyPEM() string {
	return is.signer.PublicKeyPEM()
}
