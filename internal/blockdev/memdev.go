package blockdev

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// MemDevice — устройство в памяти для тестов движка затирания.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
	// FailWrite вызывается перед каждой записью; ненулевая ошибка возвращается вызывающему
	FailWrite func(off int64) error
	// WriteDelay — задержка каждой записи (имитация медленного носителя)
	WriteDelay time.Duration
	// ReadDelay — задержка каждого чтения
	ReadDelay time.Duration
	writes    int
	reads     int
	closed    bool
}

// NewMemDevice создаёт устройство заданного объёма, заполненное 0x5A.
func NewMemDevice(size int) *MemDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0x5A
	}
	return &MemDevice{data: data}
}

func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if m.WriteDelay > 0 {
		time.Sleep(m.WriteDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrite != nil {
		if err := m.FailWrite(off); err != nil {
			return 0, err
		}
	}
	if off < 0 || off >= int64(len(m.data)) {
		return 0, fmt.Errorf("смещение %d за пределами устройства", off)
	}
	n := copy(m.data[off:], p)
	m.writes++
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if m.ReadDelay > 0 {
		time.Sleep(m.ReadDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemDevice) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.data))
}

func (m *MemDevice) Sync() error { return nil }

func (m *MemDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes возвращает копию содержимого.
func (m *MemDevice) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Corrupt изменяет байт по смещению (имитация сбоя записи для проверки верификации).
func (m *MemDevice) Corrupt(off int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[off] ^= 0xFF
}

// Writes возвращает число успешных вызовов WriteAt.
func (m *MemDevice) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Reads возвращает число вызовов ReadAt.
func (m *MemDevice) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Closed сообщает, было ли устройство закрыто.
func (m *MemDevice) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MemOpener выдаёт заранее созданные MemDevice по пути.
type MemOpener struct {
	mu      sync.Mutex
	devices map[string]*MemDevice
}

// NewMemOpener создаёт пустой MemOpener.
func NewMemOpener() *MemOpener {
	return &MemOpener{devices: make(map[string]*MemDevice)}
}

// Add регистрирует устройство.
func (o *MemOpener) Add(path string, dev *MemDevice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices[path] = dev
}

func (o *MemOpener) Open(path string) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dev, ok := o.devices[path]
	if !ok {
		return nil, fmt.Errorf("не удалось открыть %s: устройство отсутствует", path)
	}
	return dev, nil
}
