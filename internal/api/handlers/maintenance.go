// maintenance.go — обработчик POST /api/maintenance/audit.
// Делегирует проверку хранилища сертификатов в AuditService.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/dzap-backend/internal/api/errors"
	"github.com/bigkaa/dzap-backend/internal/service"
)

// AuditRunner — запуск аудита хранилища сертификатов.
type AuditRunner interface {
	// RunOnce выполняет один цикл аудита.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce() (*service.AuditResult, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	auditor AuditRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(auditor AuditRunner) *MaintenanceHandler {
	return &MaintenanceHandler{auditor: auditor}
}

// RunAudit запускает синхронный аудит и возвращает результат.
// Если аудит уже выполняется — 409 AUDIT_IN_PROGRESS.
func (h *MaintenanceHandler) RunAudit(w http.ResponseWriter, _ *http.Request) {
	result, inProgress := h.auditor.RunOnce()
	if inProgress {
		apierrors.AuditInProgress(w, "Аудит хранилища сертификатов уже выполняется")
		return
	}
	if result.Issues == nil {
		result.Issues = []service.AuditIssue{}
	}
	writeJSON(w, http.StatusOK, result)
}
