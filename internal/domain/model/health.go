package model

// PredictedStatus — прогноз состояния накопителя.
type PredictedStatus string

const (
	HealthHealthy PredictedStatus = "Healthy"
	HealthWarning PredictedStatus = "Warning"
	HealthAtRisk  PredictedStatus = "At Risk"
	HealthUnknown PredictedStatus = "Unknown"
)

// SmartAttribute — атрибут S.M.A.R.T. (или поле журнала NVMe).
type SmartAttribute struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Normalized int    `json:"normalized"`
	Raw        int64  `json:"raw"`
}

// DriveHealth — производная оценка здоровья накопителя.
// Вычисляется на каждый запрос и нигде не кэшируется.
type DriveHealth struct {
	PredictedStatus    PredictedStatus           `json:"predictedStatus"`
	FailureProbability float64                   `json:"failureProbability"`
	SmartStatus        string                    `json:"smartStatus"`
	SmartAttributes    map[string]SmartAttribute `json:"smartAttributes,omitempty"`
	Temperature        *int                      `json:"temperature,omitempty"`
	PowerOnHours       *int64                    `json:"powerOnHours,omitempty"`
	// Degraded — телеметрия неполная: устройство занято активным заданием
	Degraded bool `json:"degraded,omitempty"`
}
