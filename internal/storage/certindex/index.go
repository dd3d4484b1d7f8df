// Пакет certindex — потокобезопасный in-memory индекс сертификатов.
//
// Индекс строится при старте из файлов сертификатов (Build)
// и обновляется синхронно при выпуске и отзыве (Put).
// Не персистентный: при рестарте пересобирается из certstore.
package certindex

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// Filter — параметры выборки сертификатов.
type Filter struct {
	Status model.CertificateStatus
	Serial string
	Method string
	// Limit — максимум элементов (0 = все)
	Limit  int
	Offset int
}

// Index — индекс сертификатов: id → сертификат, job_id → id.
type Index struct {
	mu     sync.RWMutex
	certs  map[string]*model.Certificate
	byJob  map[string]string
	ready  bool
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите Build.
func New(logger *slog.Logger) *Index {
	return &Index{
		certs:  make(map[string]*model.Certificate),
		byJob:  make(map[string]string),
		logger: logger.With(slog.String("component", "certindex")),
	}
}

// Build заменяет содержимое индекса и помечает его готовым.
func (idx *Index) Build(certs []*model.Certificate) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.certs = make(map[string]*model.Certificate, len(certs))
	idx.byJob = make(map[string]string, len(certs))
	for _, c := range certs {
		copied := *c
		idx.certs[c.ID] = &copied
		idx.byJob[c.JobID] = c.ID
	}
	idx.ready = true

	idx.logger.Info("Индекс сертификатов построен", slog.Int("certificates", len(idx.certs)))
}

// IsReady возвращает true, если индекс построен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Put добавляет или заменяет сертификат.
func (idx *Index) Put(cert *model.Certificate) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	copied := *cert
	idx.certs[cert.ID] = &copied
	idx.byJob[cert.JobID] = cert.ID
}

// Get возвращает копию сертификата или nil.
func (idx *Index) Get(id string) *model.Certificate {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c, ok := idx.certs[id]
	if !ok {
		return nil
	}
	copied := *c
	return &copied
}

// ByJob возвращает копию сертификата задания или nil.
func (idx *Index) ByJob(jobID string) *model.Certificate {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.byJob[jobID]
	if !ok {
		return nil
	}
	copied := *idx.certs[id]
	return &copied
}

// List возвращает отфильтрованную страницу (новые первыми) и общее число
// сертификатов, подходящих под фильтр.
func (idx *Index) List(f Filter) ([]*model.Certificate, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var filtered []*model.Certificate
	for _, c := range idx.certs {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Serial != "" && c.Device.Serial != f.Serial {
			continue
		}
		if f.Method != "" && c.Method != f.Method {
			continue
		}
		copied := *c
		filtered = append(filtered, &copied)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].IssuedAt.Equal(filtered[j].IssuedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].IssuedAt.After(filtered[j].IssuedAt)
	})

	total := len(filtered)
	if f.Offset >= total {
		return []*model.Certificate{}, total
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return filtered[f.Offset:end], total
}

// Count возвращает число сертификатов.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.certs)
}

// CountByStatus возвращает число сертификатов с указанным статусом.
func (idx *Index) CountByStatus(status model.CertificateStatus) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := 0
	for _, c := range idx.certs {
		if c.Status == status {
			count++
		}
	}
	return count
}
