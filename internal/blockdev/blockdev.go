// Пакет blockdev — прямой ввод-вывод на блочные устройства.
//
// Запись идёт с O_DIRECT|O_SYNC через выровненные буферы, поэтому
// успешно вернувшийся WriteAt означает, что данные приняты устройством,
// а не осели в page cache.
package blockdev

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alignment — выравнивание буферов и смещений для O_DIRECT.
const Alignment = 4096

// Device — открытое блочное устройство.
type Device interface {
	WriteAt(p []byte, off int64) (int, error)
	ReadAt(p []byte, off int64) (int, error)
	// Size — адресуемый объём в байтах
	Size() uint64
	Sync() error
	Close() error
}

// Opener открывает устройства. Подменяется в тестах.
type Opener interface {
	Open(path string) (Device, error)
}

// AlignedBuffer выделяет буфер размера size, выровненный по Alignment.
func AlignedBuffer(size int) []byte {
	raw := make([]byte, size+Alignment)
	off := alignOffset(raw)
	return raw[off : off+size : off+size]
}

// IsTransient — ошибка, после которой операцию имеет смысл повторить.
func IsTransient(err error) bool {
	return errors.Is(err, unix.EIO) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.ETIMEDOUT)
}

// IsHard — устройство пропало или недоступно для записи, повтор бессмыслен.
func IsHard(err error) bool {
	return errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.ENXIO) ||
		errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EROFS)
}
