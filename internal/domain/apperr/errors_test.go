package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := Busy("/dev/sdb", "устройство удерживается заданием %s", "job-1")

	if !errors.Is(err, ErrDeviceBusy) {
		t.Error("ожидалось совпадение с ErrDeviceBusy")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("не ожидалось совпадение с ErrNotFound")
	}

	wrapped := fmt.Errorf("старт задания: %w", err)
	if !errors.Is(wrapped, ErrDeviceBusy) {
		t.Error("обёрнутая ошибка должна совпадать с ErrDeviceBusy")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{Forbidden("/dev/sda", "системный диск"), KindForbiddenOperation},
		{fmt.Errorf("обёртка: %w", Precondition("/dev/sdb", "смонтирован")), KindPreconditionFailed},
		{errors.New("посторонняя"), KindInternal},
		{Wrap(KindIO, "/dev/sdb", errors.New("EIO"), "запись"), KindIO},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v): ожидалось %s, получено %s", tt.err, tt.want, got)
		}
	}
}

func TestError_MessageIncludesDeviceAndCause(t *testing.T) {
	err := Wrap(KindHardwareFailure, "/dev/sdc", errors.New("no such device"), "устройство исчезло")
	want := "/dev/sdc: устройство исчезло: no such device"
	if err.Error() != want {
		t.Errorf("ожидалось %q, получено %q", want, err.Error())
	}
	if !errors.Is(err, ErrHardwareFailure) {
		t.Error("ожидалось совпадение с ErrHardwareFailure")
	}
}
