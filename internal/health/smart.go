package health

import (
	"encoding/json"
	"fmt"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// smartctlOutput — интересующая часть вывода "smartctl -a -j".
type smartctlOutput struct {
	Smartctl struct {
		ExitStatus int `json:"exit_status"`
	} `json:"smartctl"`
	SmartStatus *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	ATAAttributes *struct {
		Table []struct {
			ID    int    `json:"id"`
			Name  string `json:"name"`
			Value int    `json:"value"`
			Raw   struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	NVMeLog *struct {
		CriticalWarning         int64 `json:"critical_warning"`
		Temperature             int64 `json:"temperature"`
		AvailableSpare          int64 `json:"available_spare"`
		AvailableSpareThreshold int64 `json:"available_spare_threshold"`
		PercentageUsed          int64 `json:"percentage_used"`
		MediaErrors             int64 `json:"media_errors"`
		PowerOnHours            int64 `json:"power_on_hours"`
		UnsafeShutdowns         int64 `json:"unsafe_shutdowns"`
	} `json:"nvme_smart_health_information_log"`
	Temperature *struct {
		Current int `json:"current"`
	} `json:"temperature"`
	PowerOnTime *struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
}

// Идентификаторы ATA-атрибутов, участвующих в оценке.
const (
	attrReallocated     = 5
	attrPowerOnHours    = 9
	attrWearLeveling    = 177
	attrReportedUncorr  = 187
	attrTemperature     = 194
	attrPendingSectors  = 197
	attrOfflineUncorr   = 198
	attrSSDLifeLeft     = 231
	attrTotalLBAWritten = 241
)

var scoredATA = map[int]bool{
	attrReallocated: true, attrPowerOnHours: true, attrWearLeveling: true,
	attrReportedUncorr: true, attrTemperature: true, attrPendingSectors: true,
	attrOfflineUncorr: true, attrSSDLifeLeft: true, attrTotalLBAWritten: true,
}

// parseSmartctl разбирает JSON smartctl. Биты 0-1 кода возврата —
// фатальные ошибки (не удалось открыть устройство), остальные — флаги состояния.
func parseSmartctl(data []byte) (*smartctlOutput, error) {
	var out smartctlOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ошибка разбора вывода smartctl: %w", err)
	}
	if out.Smartctl.ExitStatus&0x3 != 0 {
		return nil, fmt.Errorf("smartctl не смог опросить устройство (код %d)", out.Smartctl.ExitStatus)
	}
	return &out, nil
}

// assess вычисляет оценку здоровья по эвристике над атрибутами.
func assess(out *smartctlOutput) model.DriveHealth {
	h := model.DriveHealth{
		SmartAttributes: make(map[string]model.SmartAttribute),
		SmartStatus:     "UNKNOWN",
	}

	hasTelemetry := false
	score := 0.0

	if out.SmartStatus != nil {
		hasTelemetry = true
		h.SmartStatus = "PASSED"
		if !out.SmartStatus.Passed {
			h.SmartStatus = "FAILED"
		}
	}

	if out.ATAAttributes != nil {
		for _, a := range out.ATAAttributes.Table {
			if !scoredATA[a.ID] {
				continue
			}
			hasTelemetry = true
			h.SmartAttributes[a.Name] = model.SmartAttribute{
				ID: a.ID, Name: a.Name, Normalized: a.Value, Raw: a.Raw.Value,
			}
			score += ataScore(a.ID, a.Value, a.Raw.Value, &h)
		}
	}

	if n := out.NVMeLog; n != nil {
		hasTelemetry = true
		add := func(name string, v int64) {
			h.SmartAttributes[name] = model.SmartAttribute{Name: name, Raw: v}
		}
		add("critical_warning", n.CriticalWarning)
		add("percentage_used", n.PercentageUsed)
		add("media_errors", n.MediaErrors)
		add("available_spare", n.AvailableSpare)
		add("temperature", n.Temperature)
		add("power_on_hours", n.PowerOnHours)
		add("unsafe_shutdowns", n.UnsafeShutdowns)

		if n.CriticalWarning != 0 {
			score += 0.5
		}
		switch {
		case n.PercentageUsed >= 100:
			score += 0.4
		case n.PercentageUsed >= 90:
			score += 0.2
		}
		if n.MediaErrors > 0 {
			score += 0.3
		}
		if n.AvailableSpareThreshold > 0 && n.AvailableSpare < n.AvailableSpareThreshold {
			score += 0.4
		}
		if n.Temperature > 70 {
			score += 0.1
		}
		temp := int(n.Temperature)
		hours := n.PowerOnHours
		h.Temperature = &temp
		h.PowerOnHours = &hours
	}

	if out.Temperature != nil && h.Temperature == nil {
		temp := out.Temperature.Current
		h.Temperature = &temp
	}
	if out.PowerOnTime != nil && h.PowerOnHours == nil {
		hours := out.PowerOnTime.Hours
		h.PowerOnHours = &hours
	}

	if !hasTelemetry {
		h.PredictedStatus = model.HealthUnknown
		h.SmartAttributes = nil
		return h
	}

	if score > 1 {
		score = 1
	}
	if h.SmartStatus == "FAILED" && score < 0.9 {
		score = 0.9
	}
	h.FailureProbability = score

	switch {
	case score >= 0.5:
		h.PredictedStatus = model.HealthAtRisk
	case score >= 0.2:
		h.PredictedStatus = model.HealthWarning
	default:
		h.PredictedStatus = model.HealthHealthy
	}
	return h
}

// ataScore возвращает вклад ATA-атрибута в вероятность отказа.
func ataScore(id, normalized int, raw int64, h *model.DriveHealth) float64 {
	switch id {
	case attrReallocated:
		switch {
		case raw >= 100:
			return 0.5
		case raw >= 10:
			return 0.3
		case raw > 0:
			return 0.15
		}
	case attrReportedUncorr:
		if raw > 0 {
			return 0.2
		}
	case attrPendingSectors, attrOfflineUncorr:
		if raw > 0 {
			return 0.25
		}
	case attrWearLeveling, attrSSDLifeLeft:
		switch {
		case normalized < 10:
			return 0.3
		case normalized < 30:
			return 0.1
		}
	case attrTemperature:
		// младший байт raw — текущая температура
		temp := int(raw & 0xFF)
		h.Temperature = &temp
		if temp > 60 {
			return 0.1
		}
	case attrPowerOnHours:
		hours := raw
		h.PowerOnHours = &hours
		if raw > 50000 {
			return 0.1
		}
	}
	return 0
}
