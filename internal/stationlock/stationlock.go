// Пакет stationlock — эксклюзивная блокировка станции через flock().
//
// Блокировка занятости устройств живёт в памяти одного процесса; второй
// экземпляр сервиса на том же хосте обошёл бы её. Поэтому при старте
// захватывается flock на ${DZ_STATE_DIR}/.station.lock, а в .station.info
// записывается, кто его держит. Второй экземпляр завершается сразу.
package stationlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// lockFileName — имя файла блокировки.
	lockFileName = ".station.lock"
	// infoFileName — имя файла с описанием владельца.
	infoFileName = ".station.info"
)

// ErrLocked — блокировку держит другой процесс.
var ErrLocked = errors.New("станция уже обслуживается другим экземпляром")

// Info — владелец блокировки.
type Info struct {
	Host      string    `json:"host"`
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"startedAt"`
}

// Lock — захваченная блокировка станции.
type Lock struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Acquire захватывает блокировку без ожидания. Если она занята,
// возвращает ошибку, обёртывающую ErrLocked, с описанием владельца.
func Acquire(dir, addr string, logger *slog.Logger) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	lockPath := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder, ok := ReadInfo(dir); ok {
				return nil, fmt.Errorf("%w: host=%s pid=%d addr=%s", ErrLocked, holder.Host, holder.PID, holder.Addr)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("ошибка захвата lock-файла %s: %w", lockPath, err)
	}

	l := &Lock{
		dir:    dir,
		logger: logger.With(slog.String("component", "stationlock")),
		file:   f,
	}

	host, _ := os.Hostname()
	info := Info{Host: host, PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()}
	if err := writeInfo(dir, info); err != nil {
		l.logger.Warn("Ошибка записи .station.info",
			slog.String("error", err.Error()),
		)
	}

	l.logger.Info("Блокировка станции захвачена",
		slog.String("path", lockPath),
		slog.Int("pid", info.PID),
	)
	return l, nil
}

// Release снимает блокировку. Повторный вызов безопасен.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	_ = os.Remove(filepath.Join(l.dir, infoFileName))
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	l.logger.Info("Блокировка станции освобождена")
}

// ReadInfo читает описание владельца блокировки.
func ReadInfo(dir string) (Info, bool) {
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if err != nil {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, false
	}
	return info, true
}

// writeInfo записывает .station.info атомарно.
func writeInfo(dir string, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	infoPath := filepath.Join(dir, infoFileName)
	tmpPath := infoPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp .station.info: %w", err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования .station.info: %w", err)
	}
	return nil
}
