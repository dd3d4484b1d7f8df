package blockdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestDirectOpener_RegularFile проверяет открытие образа-файла.
func TestDirectOpener_RegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, 64*1024), 0o600); err != nil {
		t.Fatalf("не удалось создать образ: %v", err)
	}

	dev, err := DirectOpener{}.Open(path)
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	defer dev.Close()

	if dev.Size() != 64*1024 {
		t.Errorf("ожидался размер 65536, получен %d", dev.Size())
	}

	buf := AlignedBuffer(Alignment)
	for i := range buf {
		buf[i] = 0xAB
	}
	if _, err := dev.WriteAt(buf, Alignment); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	back := AlignedBuffer(Alignment)
	if _, err := dev.ReadAt(back, Alignment); err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(buf, back) {
		t.Error("прочитанные данные не совпадают с записанными")
	}
}
