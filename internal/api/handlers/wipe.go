// wipe.go — обработчики заданий затирания: запуск, пауза,
// возобновление, отмена и снимки заданий.
package handlers

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/dzap-backend/internal/api/errors"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/wipe"
)

// WipeEngine — движок заданий затирания.
type WipeEngine interface {
	StartWipe(ctx context.Context, req wipe.Request) (string, error)
	PauseDevice(deviceID string) (model.WipeJob, error)
	ResumeDevice(deviceID string) (model.WipeJob, error)
	AbortDevice(deviceID string) (model.WipeJob, error)
	ListJobs() []model.WipeJob
	GetJob(id string) (model.WipeJob, error)
}

// WipeHandler — обработчики /api/wipe*.
type WipeHandler struct {
	engine WipeEngine
}

// NewWipeHandler создаёт обработчик заданий.
func NewWipeHandler(engine WipeEngine) *WipeHandler {
	return &WipeHandler{engine: engine}
}

// wipeRequest — тело POST /api/wipe. Имена полей совпадают
// с контрактом фронтенда.
type wipeRequest struct {
	DevicePath   string `json:"DevicePath"`
	Method       string `json:"Method"`
	DeviceSerial string `json:"DeviceSerial"`
	DeviceType   string `json:"DeviceType"`
	Verification string `json:"Verification"`
	Operator     string `json:"Operator"`
}

type jobAccepted struct {
	JobID string `json:"jobId"`
}

type deviceControlRequest struct {
	DeviceID string `json:"deviceId"`
}

// ackResponse — подтверждение операции управления.
type ackResponse struct {
	Status string          `json:"status"`
	Job    *model.WipeJob `json:"job,omitempty"`
}

// StartWipe обрабатывает POST /api/wipe.
// Ошибки допуска возвращаются синхронно, задание при этом не создаётся.
func (h *WipeHandler) StartWipe(w http.ResponseWriter, r *http.Request) {
	var req wipeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	req.DevicePath = strings.TrimSpace(req.DevicePath)
	if req.DevicePath == "" || req.Method == "" {
		apierrors.ValidationError(w, "DevicePath и Method обязательны")
		return
	}

	jobID, err := h.engine.StartWipe(r.Context(), wipe.Request{
		DeviceID:     req.DevicePath,
		Method:       req.Method,
		DeviceSerial: req.DeviceSerial,
		DeviceType:   model.DeviceClass(req.DeviceType),
		Verification: req.Verification,
		Operator:     req.Operator,
	})
	if err != nil {
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

// PauseWipe обрабатывает POST /api/wipe/pause.
func (h *WipeHandler) PauseWipe(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.engine.PauseDevice)
}

// ResumeWipe обрабатывает POST /api/wipe/resume.
func (h *WipeHandler) ResumeWipe(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.engine.ResumeDevice)
}

// AbortWipe обрабатывает POST /api/wipe/abort.
func (h *WipeHandler) AbortWipe(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.engine.AbortDevice)
}

func (h *WipeHandler) control(w http.ResponseWriter, r *http.Request, op func(string) (model.WipeJob, error)) {
	var req deviceControlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.DeviceID == "" {
		apierrors.ValidationError(w, "deviceId обязателен")
		return
	}

	job, err := op(req.DeviceID)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: string(job.Status), Job: &job})
}

// ListJobs обрабатывает GET /api/wipe/jobs.
func (h *WipeHandler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := h.engine.ListJobs()
	if jobs == nil {
		jobs = []model.WipeJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob обрабатывает GET /api/wipe/jobs/{jobId}.
func (h *WipeHandler) GetJob(w http.ResponseWriter, _ *http.Request, jobID string) {
	job, err := h.engine.GetJob(jobID)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
