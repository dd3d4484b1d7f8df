// Пакет errors — единый формат ответов с ошибкой:
// {"error": "<сообщение>", "code": "<KIND>"}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors //nolint:revive // имя пакета совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
)

// Коды, не относящиеся к доменной таксономии.
const (
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeAuditInProgress  = "AUDIT_IN_PROGRESS"
)

// errorBody — тело ответа ошибки.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError записывает ответ ошибки.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

// StatusFor возвращает HTTP-статус для вида ошибки.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbiddenOperation:
		return http.StatusForbidden
	case apperr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.KindDeviceBusy, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindUnsupportedMethod, apperr.KindUnsupportedOperation, apperr.KindUnsupportedDevice:
		return http.StatusUnprocessableEntity
	case apperr.KindIO:
		return http.StatusServiceUnavailable
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		// VerificationMismatch, HardwareFailure, Internal
		return http.StatusInternalServerError
	}
}

// FromError записывает доменную ошибку с кодом по её виду.
func FromError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	WriteError(w, StatusFor(kind), string(kind), err.Error())
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, string(apperr.KindValidation), message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, string(apperr.KindNotFound), message)
}

// MethodNotAllowed — 405 метод не поддерживается маршрутом.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, message)
}

// AuditInProgress — 409 аудит уже выполняется.
func AuditInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeAuditInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), message)
}
