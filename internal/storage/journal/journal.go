package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// ErrNotFound — записи для задания нет.
var ErrNotFound = errors.New("запись журнала не найдена")

// Journal — файловый журнал заданий.
// Все записи атомарны: temp файл → fsync → rename.
type Journal struct {
	// dir — директория хранения записей
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// seq — последние номера версий по заданиям
	seq    map[string]int
	logger *slog.Logger
}

// New создаёт журнал. Проверяет и создаёт директорию
// если она не существует. Возвращает ошибку при проблемах с FS.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:    dir,
		seq:    make(map[string]int),
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Save атомарно записывает снимок задания и позицию возобновления.
func (j *Journal) Save(job model.WipeJob, pass int, offset uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq[job.ID]++
	rec := &Record{
		Job:       job,
		Pass:      pass,
		Offset:    offset,
		Seq:       j.seq[job.ID],
		UpdatedAt: time.Now().UTC(),
	}

	if err := j.writeRecord(rec); err != nil {
		return fmt.Errorf("не удалось записать журнал задания %s: %w", job.ID, err)
	}

	j.logger.Debug("Запись журнала обновлена",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Int("seq", rec.Seq),
	)
	return nil
}

// Get читает запись задания.
func (j *Journal) Get(jobID string) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.readRecord(jobID)
}

// RecoverActive находит записи заданий в незавершённых состояниях.
// Вызывается при старте: такие задания прерваны падением процесса.
func (j *Journal) RecoverActive() ([]*Record, error) {
	all, err := j.List()
	if err != nil {
		return nil, err
	}

	var active []*Record
	for _, rec := range all {
		if rec.Job.Status.IsTerminal() {
			continue
		}
		active = append(active, rec)
		j.logger.Warn("Обнаружено незавершённое задание",
			slog.String("job_id", rec.Job.ID),
			slog.String("device", rec.Job.DeviceID),
			slog.String("status", string(rec.Job.Status)),
			slog.Time("updated_at", rec.UpdatedAt),
		)
	}
	return active, nil
}

// List возвращает все записи журнала, от новых к старым (по CreatedAt).
// Нечитаемые записи пропускаются с предупреждением.
func (j *Journal) List() ([]*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+recordSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	records := make([]*Record, 0, len(paths))
	for _, path := range paths {
		jobID := strings.TrimSuffix(filepath.Base(path), recordSuffix)
		rec, err := j.readRecord(jobID)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if rec.Seq > j.seq[jobID] {
			j.seq[jobID] = rec.Seq
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].Job.CreatedAt.After(records[b].Job.CreatedAt)
	})
	return records, nil
}

// Prune удаляет записи завершённых заданий, обновлённые раньше before.
func (j *Journal) Prune(before time.Time) (int, error) {
	all, err := j.List()
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	pruned := 0
	for _, rec := range all {
		if !rec.Job.Status.IsTerminal() || !rec.UpdatedAt.Before(before) {
			continue
		}
		path := filepath.Join(j.dir, recordFileName(rec.Job.ID))
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(j.seq, rec.Job.ID)
		pruned++
	}

	if pruned > 0 {
		j.logger.Info("Очистка журнала завершена", slog.Int("pruned", pruned))
	}
	return pruned, nil
}

// writeRecord атомарно записывает запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (j *Journal) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(j.dir, recordFileName(rec.Job.ID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readRecord читает запись журнала из файла.
func (j *Journal) readRecord(jobID string) (*Record, error) {
	path := filepath.Join(j.dir, recordFileName(jobID))

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}

	return &rec, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}
