package health

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticResolver map[string]model.Device

func (r staticResolver) Resolve(_ context.Context, id string) (model.Device, error) {
	d, ok := r[id]
	if !ok {
		return nil, apperr.NotFound(id, "устройство не подключено")
	}
	return d, nil
}

type busySet map[string]bool

func (b busySet) IsBusy(id string) bool { return b[id] }

func devices() staticResolver {
	return staticResolver{
		"/dev/sda":     &model.StorageDevice{Path: "/dev/sda", Type: model.ClassHDD},
		"/dev/nvme0n1": &model.StorageDevice{Path: "/dev/nvme0n1", Type: model.ClassNVMe},
		"/dev/sdc":     &model.StorageDevice{Path: "/dev/sdc", Type: model.ClassUSB},
		"R58M":         &model.MobileDevice{Serial: "R58M", Type: model.ClassAndroid},
	}
}

const ataHealthy = `{
  "smartctl": {"exit_status": 0},
  "smart_status": {"passed": true},
  "ata_smart_attributes": {"table": [
    {"id": 5, "name": "Reallocated_Sector_Ct", "value": 100, "raw": {"value": 0}},
    {"id": 9, "name": "Power_On_Hours", "value": 90, "raw": {"value": 12000}},
    {"id": 194, "name": "Temperature_Celsius", "value": 65, "raw": {"value": 171798691875}},
    {"id": 197, "name": "Current_Pending_Sector", "value": 100, "raw": {"value": 0}},
    {"id": 1, "name": "Raw_Read_Error_Rate", "value": 100, "raw": {"value": 0}}
  ]}
}`

const ataFailing = `{
  "smartctl": {"exit_status": 8},
  "smart_status": {"passed": true},
  "ata_smart_attributes": {"table": [
    {"id": 5, "name": "Reallocated_Sector_Ct", "value": 80, "raw": {"value": 250}},
    {"id": 197, "name": "Current_Pending_Sector", "value": 100, "raw": {"value": 8}}
  ]}
}`

const nvmeWorn = `{
  "smartctl": {"exit_status": 0},
  "smart_status": {"passed": true},
  "nvme_smart_health_information_log": {
    "critical_warning": 0, "temperature": 41, "available_spare": 100,
    "available_spare_threshold": 10, "percentage_used": 93, "media_errors": 0,
    "power_on_hours": 8760, "unsafe_shutdowns": 12
  }
}`

// TestGetHealth проверяет оценку по разным наборам телеметрии.
func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		stdout     string
		runErr     error
		wantStatus model.PredictedStatus
		minProb    float64
		maxProb    float64
	}{
		{"healthy hdd", "/dev/sda", ataHealthy, nil, model.HealthHealthy, 0, 0.2},
		{"failing hdd with status bits", "/dev/sda", ataFailing, &sysexec.ExitError{Command: "smartctl", ExitCode: 8}, model.HealthAtRisk, 0.5, 1},
		{"worn nvme", "/dev/nvme0n1", nvmeWorn, nil, model.HealthWarning, 0.2, 0.5},
		{"smart failed", "/dev/sda", `{"smart_status":{"passed":false}}`, nil, model.HealthAtRisk, 0.9, 1},
		{"no telemetry", "/dev/sda", `{"smartctl":{"exit_status":0}}`, nil, model.HealthUnknown, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sysexec.NewFake()
			f.Set("smartctl -a -j "+tt.device, sysexec.FakeResult{Stdout: []byte(tt.stdout), Err: tt.runErr})
			a := New(devices(), nil, f, time.Second, testLogger())

			h, err := a.GetHealth(context.Background(), tt.device)
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if h.PredictedStatus != tt.wantStatus {
				t.Errorf("ожидался статус %s, получен %s (p=%.2f)", tt.wantStatus, h.PredictedStatus, h.FailureProbability)
			}
			if h.FailureProbability < tt.minProb || h.FailureProbability > tt.maxProb {
				t.Errorf("вероятность %.2f вне диапазона [%.2f, %.2f]", h.FailureProbability, tt.minProb, tt.maxProb)
			}
			if h.Degraded {
				t.Error("degraded не ожидался")
			}
		})
	}
}

// TestGetHealth_Fields проверяет удобные поля и фильтрацию атрибутов.
func TestGetHealth_Fields(t *testing.T) {
	f := sysexec.NewFake()
	f.SetOutput("smartctl -a -j /dev/sda", ataHealthy)
	a := New(devices(), nil, f, time.Second, testLogger())

	h, err := a.GetHealth(context.Background(), "/dev/sda")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if h.Temperature == nil || *h.Temperature != 35 {
		t.Errorf("ожидалась температура 35, получено %v", h.Temperature)
	}
	if h.PowerOnHours == nil || *h.PowerOnHours != 12000 {
		t.Errorf("ожидалось 12000 часов, получено %v", h.PowerOnHours)
	}
	if _, ok := h.SmartAttributes["Raw_Read_Error_Rate"]; ok {
		t.Error("атрибут вне оценки не должен попадать в ответ")
	}
	if h.SmartStatus != "PASSED" {
		t.Errorf("ожидался PASSED, получен %s", h.SmartStatus)
	}
}

// TestGetHealth_Unsupported проверяет отказ для USB и мобильных устройств.
func TestGetHealth_Unsupported(t *testing.T) {
	a := New(devices(), nil, sysexec.NewFake(), time.Second, testLogger())
	for _, id := range []string{"/dev/sdc", "R58M"} {
		if _, err := a.GetHealth(context.Background(), id); !errors.Is(err, apperr.ErrUnsupportedDevice) {
			t.Errorf("%s: ожидалась UnsupportedDevice, получено %v", id, err)
		}
	}
	if _, err := a.GetHealth(context.Background(), "/dev/sdz"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ожидалась NotFound, получено %v", err)
	}
}

// TestGetHealth_BusyDegraded проверяет деградацию при занятом устройстве.
func TestGetHealth_BusyDegraded(t *testing.T) {
	f := sysexec.NewFake()
	f.Set("smartctl -a -j /dev/sda", sysexec.FakeResult{Delay: 5 * time.Second})
	a := New(devices(), busySet{"/dev/sda": true}, f, 50*time.Millisecond, testLogger())

	start := time.Now()
	h, err := a.GetHealth(context.Background(), "/dev/sda")
	if err != nil {
		t.Fatalf("занятое устройство не должно давать ошибку: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("опрос не был ограничен таймаутом")
	}
	if h.PredictedStatus != model.HealthUnknown || !h.Degraded {
		t.Errorf("ожидался Unknown/degraded, получено %s/%v", h.PredictedStatus, h.Degraded)
	}
}

// TestGetHealth_ProbeError проверяет ошибку опроса свободного устройства.
func TestGetHealth_ProbeError(t *testing.T) {
	a := New(devices(), busySet{}, sysexec.NewFake(), time.Second, testLogger())
	if _, err := a.GetHealth(context.Background(), "/dev/sda"); !errors.Is(err, apperr.ErrIO) {
		t.Errorf("ожидалась IOError, получено %v", err)
	}
}
