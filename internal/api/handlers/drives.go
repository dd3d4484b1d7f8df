// drives.go — обработчики инвентаризации устройств:
// список, состояние SMART, доступные методы, размонтирование.
package handlers

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/dzap-backend/internal/api/errors"
	"github.com/bigkaa/dzap-backend/internal/catalog"
	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// DeviceService — инвентаризация подключённых устройств.
type DeviceService interface {
	ListDevices(ctx context.Context) (*model.DeviceList, error)
	Resolve(ctx context.Context, id string) (model.Device, error)
	Unmount(ctx context.Context, deviceID string) error
}

// HealthAssessor — оценка состояния накопителя.
type HealthAssessor interface {
	GetHealth(ctx context.Context, deviceID string) (*model.DriveHealth, error)
}

// DrivesHandler — обработчики /api/drive*, /api/unmount.
type DrivesHandler struct {
	devices DeviceService
	health  HealthAssessor
}

// NewDrivesHandler создаёт обработчик устройств.
func NewDrivesHandler(devices DeviceService, health HealthAssessor) *DrivesHandler {
	return &DrivesHandler{devices: devices, health: health}
}

// ListDrives обрабатывает GET /api/drives.
func (h *DrivesHandler) ListDrives(w http.ResponseWriter, r *http.Request) {
	list, err := h.devices.ListDevices(r.Context())
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if list.Storage == nil {
		list.Storage = []model.StorageDevice{}
	}
	if list.Mobile == nil {
		list.Mobile = []model.MobileDevice{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetDriveHealth обрабатывает GET /api/drive/{name}/health.
// name — имя ядра накопителя, путь строится как /dev/{name}.
func (h *DrivesHandler) GetDriveHealth(w http.ResponseWriter, r *http.Request, name string) {
	path, ok := devicePath(name)
	if !ok {
		apierrors.ValidationError(w, "некорректное имя устройства: "+name)
		return
	}
	result, err := h.health.GetHealth(r.Context(), path)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetWipeMethods обрабатывает GET /api/drive/{id}/wipe-methods.
// id — имя ядра накопителя или serial мобильного устройства:
// сначала ищется накопитель /dev/{id}, затем мобильное устройство.
func (h *DrivesHandler) GetWipeMethods(w http.ResponseWriter, r *http.Request, id string) {
	var (
		dev model.Device
		err error
	)
	if path, ok := devicePath(id); ok {
		dev, err = h.devices.Resolve(r.Context(), path)
	}
	if dev == nil && (err == nil || apperr.KindOf(err) == apperr.KindNotFound) {
		dev, err = h.devices.Resolve(r.Context(), id)
	}
	if err != nil {
		apierrors.FromError(w, err)
		return
	}

	methods := catalog.GetMethods(dev.Class())
	if methods == nil {
		methods = []model.WipeMethod{}
	}
	writeJSON(w, http.StatusOK, methods)
}

type unmountRequest struct {
	DevicePath string `json:"devicePath"`
}

// Unmount обрабатывает POST /api/unmount.
func (h *DrivesHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	var req unmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if !strings.HasPrefix(req.DevicePath, "/dev/") {
		apierrors.ValidationError(w, "devicePath должен начинаться с /dev/")
		return
	}

	if err := h.devices.Unmount(r.Context(), req.DevicePath); err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "unmounted"})
}

// devicePath строит путь накопителя из имени ядра.
func devicePath(name string) (string, bool) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return "", false
	}
	return "/dev/" + name, true
}
