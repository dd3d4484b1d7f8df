// Пакет apperr — таксономия ошибок сервиса уничтожения данных.
//
// Каждая ошибка несёт машиночитаемый Kind, по которому HTTP-слой
// выбирает статус-код, а фронтенд показывает сообщение без изменений.
// Проверка вида ошибки — через errors.Is с sentinel-значениями Err*.
package apperr

import (
	"errors"
	"fmt"
)

// Kind — вид ошибки.
type Kind string

const (
	KindNotFound             Kind = "NOT_FOUND"
	KindForbiddenOperation   Kind = "FORBIDDEN_OPERATION"
	KindPreconditionFailed   Kind = "PRECONDITION_FAILED"
	KindDeviceBusy           Kind = "DEVICE_BUSY"
	KindUnsupportedMethod    Kind = "UNSUPPORTED_METHOD"
	KindUnsupportedOperation Kind = "UNSUPPORTED_OPERATION"
	KindUnsupportedDevice    Kind = "UNSUPPORTED_DEVICE"
	KindVerificationMismatch Kind = "VERIFICATION_MISMATCH"
	KindIO                   Kind = "IO_ERROR"
	KindHardwareFailure      Kind = "HARDWARE_FAILURE"
	KindInvalidState         Kind = "INVALID_STATE"
	KindValidation           Kind = "VALIDATION_ERROR"
	KindInternal             Kind = "INTERNAL_ERROR"
)

// Sentinel-ошибки для errors.Is.
var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "устройство или ресурс не найден"}
	ErrForbiddenOperation   = &Error{Kind: KindForbiddenOperation, Message: "операция запрещена политикой"}
	ErrPreconditionFailed   = &Error{Kind: KindPreconditionFailed, Message: "не выполнено предусловие"}
	ErrDeviceBusy           = &Error{Kind: KindDeviceBusy, Message: "устройство занято"}
	ErrUnsupportedMethod    = &Error{Kind: KindUnsupportedMethod, Message: "метод не поддерживается для устройства"}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation, Message: "операция не поддерживается методом"}
	ErrUnsupportedDevice    = &Error{Kind: KindUnsupportedDevice, Message: "устройство не предоставляет телеметрию"}
	ErrVerificationMismatch = &Error{Kind: KindVerificationMismatch, Message: "верификация обнаружила расхождение"}
	ErrIO                   = &Error{Kind: KindIO, Message: "ошибка ввода-вывода"}
	ErrHardwareFailure      = &Error{Kind: KindHardwareFailure, Message: "аппаратный сбой"}
	ErrInvalidState         = &Error{Kind: KindInvalidState, Message: "недопустимое состояние"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "некорректные входные данные"}
)

// Error — ошибка домена с видом, устройством и причиной.
type Error struct {
	Kind    Kind
	Message string
	// Device — идентификатор устройства, к которому относится ошибка (опционально)
	Device string
	// Err — исходная причина (опционально)
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Device != "" {
		msg = fmt.Sprintf("%s: %s", e.Device, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду: любая *Error того же Kind
// совпадает с соответствующим sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New создаёт ошибку указанного вида.
func New(kind Kind, device, format string, args ...any) *Error {
	return &Error{Kind: kind, Device: device, Message: fmt.Sprintf(format, args...)}
}

// Wrap создаёт ошибку указанного вида с причиной.
func Wrap(kind Kind, device string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Device: device, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf возвращает вид ошибки. Для ошибок вне таксономии — KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NotFound — устройство или ресурс не найден.
func NotFound(device, format string, args ...any) *Error {
	return New(KindNotFound, device, format, args...)
}

// Forbidden — операция запрещена (OS-диск, политика).
func Forbidden(device, format string, args ...any) *Error {
	return New(KindForbiddenOperation, device, format, args...)
}

// Precondition — не выполнено предусловие (смонтирован, frozen, несовпадение serial).
func Precondition(device, format string, args ...any) *Error {
	return New(KindPreconditionFailed, device, format, args...)
}

// Busy — устройство удерживается другим заданием.
func Busy(device, format string, args ...any) *Error {
	return New(KindDeviceBusy, device, format, args...)
}

// InvalidState — операция недопустима в текущем состоянии.
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, "", format, args...)
}
