// Пакет certstore — чтение и запись файлов сертификатов ({id}.cert.json).
// Файл сертификата — единственный источник истины: in-memory индекс
// строится из них при старте. Все записи выполняются атомарно:
// temp → fsync → rename.
package certstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// CertSuffix — суффикс файла сертификата.
const CertSuffix = ".cert.json"

// tmpSuffix — суффикс незавершённой записи.
const tmpSuffix = ".tmp"

// ErrNotFound — файла сертификата нет.
var ErrNotFound = errors.New("сертификат не найден")

// Store — директория сертификатов.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New создаёт Store. Проверяет и создаёт директорию если она не существует.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию сертификатов %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "certstore")),
	}, nil
}

// Dir возвращает путь к директории сертификатов.
func (s *Store) Dir() string {
	return s.dir
}

// Path возвращает путь к файлу сертификата.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+CertSuffix)
}

// Write атомарно записывает сертификат.
// Паттерн: JSON → temp файл → fsync → atomic rename.
// Поле SignatureValid вычисляется при чтении и не сохраняется.
func (s *Store) Write(cert *model.Certificate) error {
	stored := *cert
	stored.SignatureValid = false

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации сертификата: %w", err)
	}

	path := s.Path(cert.ID)
	tmpPath := path + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает и десериализует сертификат.
func (s *Store) Read(id string) (*model.Certificate, error) {
	return readFile(s.Path(id))
}

func readFile(path string) (*model.Certificate, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	var cert model.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}
	return &cert, nil
}

// Scan читает все сертификаты директории. Невалидные файлы
// пропускаются с предупреждением и возвращаются списком путей.
func (s *Store) Scan() ([]*model.Certificate, []string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+CertSuffix))
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка сканирования директории %s: %w", s.dir, err)
	}

	var certs []*model.Certificate
	var broken []string
	for _, path := range matches {
		cert, err := readFile(path)
		if err != nil {
			s.logger.Warn("Невалидный файл сертификата",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			broken = append(broken, path)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, broken, nil
}

// OrphanedTmp возвращает временные файлы, оставшиеся от прерванных записей.
func (s *Store) OrphanedTmp() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+CertSuffix+tmpSuffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", s.dir, err)
	}
	return matches, nil
}

// RemoveTmp удаляет временный файл прерванной записи.
func (s *Store) RemoveTmp(path string) error {
	if !strings.HasSuffix(path, tmpSuffix) {
		return fmt.Errorf("%s не является временным файлом", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления %s: %w", path, err)
	}
	return nil
}
