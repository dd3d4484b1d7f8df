package blockdev

import "unsafe"

// alignOffset возвращает сдвиг от начала среза до ближайшего адреса,
// кратного Alignment.
func alignOffset(b []byte) int {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	rem := int(addr & (Alignment - 1))
	if rem == 0 {
		return 0
	}
	return Alignment - rem
}

// IsAligned проверяет выравнивание начала буфера.
func IsAligned(b []byte) bool {
	return len(b) == 0 || alignOffset(b) == 0
}
