// handler.go — APIHandler реализует routes.ServerInterface,
// делегируя вызовы в отдельные handler'ы по доменам.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/dzap-backend/internal/api/errors"
	"github.com/bigkaa/dzap-backend/internal/api/routes"
)

// maxBodyBytes — предел размера тела JSON-запроса.
const maxBodyBytes = 1 << 20

// APIHandler — единая реализация ServerInterface, собирающая
// все доменные handlers в один объект.
type APIHandler struct {
	drives       *DrivesHandler
	wipe         *WipeHandler
	certificates *CertificatesHandler
	maintenance  *MaintenanceHandler
	events       *EventsHandler
	health       *HealthHandler
	metrics      *MetricsHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	drives *DrivesHandler,
	wipe *WipeHandler,
	certificates *CertificatesHandler,
	maintenance *MaintenanceHandler,
	events *EventsHandler,
	health *HealthHandler,
	metrics *MetricsHandler,
) *APIHandler {
	return &APIHandler{
		drives:       drives,
		wipe:         wipe,
		certificates: certificates,
		maintenance:  maintenance,
		events:       events,
		health:       health,
		metrics:      metrics,
	}
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ routes.ServerInterface = (*APIHandler)(nil)

// --- Drives ---

func (h *APIHandler) ListDrives(w http.ResponseWriter, r *http.Request) {
	h.drives.ListDrives(w, r)
}

func (h *APIHandler) GetDriveHealth(w http.ResponseWriter, r *http.Request, name string) {
	h.drives.GetDriveHealth(w, r, name)
}

func (h *APIHandler) GetWipeMethods(w http.ResponseWriter, r *http.Request, id string) {
	h.drives.GetWipeMethods(w, r, id)
}

func (h *APIHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	h.drives.Unmount(w, r)
}

// --- Wipe ---

func (h *APIHandler) StartWipe(w http.ResponseWriter, r *http.Request) {
	h.wipe.StartWipe(w, r)
}

func (h *APIHandler) PauseWipe(w http.ResponseWriter, r *http.Request) {
	h.wipe.PauseWipe(w, r)
}

func (h *APIHandler) ResumeWipe(w http.ResponseWriter, r *http.Request) {
	h.wipe.ResumeWipe(w, r)
}

func (h *APIHandler) AbortWipe(w http.ResponseWriter, r *http.Request) {
	h.wipe.AbortWipe(w, r)
}

func (h *APIHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.wipe.ListJobs(w, r)
}

func (h *APIHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	h.wipe.GetJob(w, r, jobID)
}

// --- Certificates ---

func (h *APIHandler) GenerateCertificate(w http.ResponseWriter, r *http.Request) {
	h.certificates.GenerateCertificate(w, r)
}

func (h *APIHandler) ListCertificates(w http.ResponseWriter, r *http.Request, params routes.ListCertificatesParams) {
	h.certificates.ListCertificates(w, r, params)
}

func (h *APIHandler) GetCertificate(w http.ResponseWriter, r *http.Request, id string) {
	h.certificates.GetCertificate(w, r, id)
}

func (h *APIHandler) RevokeCertificate(w http.ResponseWriter, r *http.Request, id string) {
	h.certificates.RevokeCertificate(w, r, id)
}

func (h *APIHandler) VerifyCertificate(w http.ResponseWriter, r *http.Request, id string) {
	h.certificates.VerifyCertificate(w, r, id)
}

// --- Maintenance ---

func (h *APIHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	h.maintenance.RunAudit(w, r)
}

// --- Events ---

func (h *APIHandler) Events(w http.ResponseWriter, r *http.Request) {
	h.events.Events(w, r)
}

// --- Health & Metrics ---

func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.GetMetrics(w, r)
}

// ParamErrorHandler отвечает 400 на ошибки разбора параметров.
func ParamErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	apierrors.ValidationError(w, err.Error())
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON разбирает тело запроса в dst. Пустое тело и
// лишние данные после объекта считаются ошибкой.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("тело запроса пустое")
		}
		return fmt.Errorf("некорректное тело запроса: %w", err)
	}
	if dec.More() {
		return errors.New("некорректное тело запроса: лишние данные после JSON-объекта")
	}
	return nil
}
