package blockdev

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DirectOpener открывает устройства с O_DIRECT|O_SYNC.
type DirectOpener struct{}

type fileDevice struct {
	f    *os.File
	size uint64
}

// Open открывает устройство на чтение и запись. Если файловая система
// не поддерживает O_DIRECT (EINVAL, например tmpfs для образов),
// устройство открывается только с O_SYNC.
func (DirectOpener) Open(path string) (Device, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC | unix.O_SYNC
	fd, err := unix.Open(path, flags|unix.O_DIRECT, 0)
	if errors.Is(err, unix.EINVAL) {
		fd, err = unix.Open(path, flags, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть %s: %w", path, err)
	}

	size, err := deviceSize(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("не удалось определить размер %s: %w", path, err)
	}

	return &fileDevice{f: os.NewFile(uintptr(fd), path), size: size}, nil
}

// deviceSize возвращает объём блочного устройства (BLKGETSIZE64)
// или размер обычного файла.
func deviceSize(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return uint64(st.Size), nil
	}

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

func (d *fileDevice) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d *fileDevice) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d *fileDevice) Size() uint64                             { return d.size }
func (d *fileDevice) Sync() error                              { return d.f.Sync() }
func (d *fileDevice) Close() error                             { return d.f.Close() }
