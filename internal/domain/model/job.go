package model

import "time"

// JobStatus — состояние жизненного цикла задания затирания.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobAborted   JobStatus = "aborted"
)

// IsTerminal проверяет, является ли состояние конечным.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobAborted
}

// Outcome — итог завершённого задания.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAborted Outcome = "aborted"
)

// VerificationMode — режим проверки записанных данных.
type VerificationMode string

const (
	VerifyNone  VerificationMode = "none"
	VerifyBasic VerificationMode = "basic"
	VerifyFull  VerificationMode = "full"
)

// ParseVerificationMode преобразует строку в VerificationMode.
// Пустая строка — VerifyNone.
func ParseVerificationMode(s string) (VerificationMode, bool) {
	switch VerificationMode(s) {
	case "", VerifyNone:
		return VerifyNone, true
	case VerifyBasic:
		return VerifyBasic, true
	case VerifyFull:
		return VerifyFull, true
	default:
		return "", false
	}
}

// Verification — результат проверки записанных данных.
type Verification struct {
	Mode VerificationMode `json:"mode"`
	// Passed — nil, если проверка не выполнялась
	Passed *bool `json:"passed,omitempty"`
	// BytesChecked — объём прочитанных и сверенных данных
	BytesChecked uint64 `json:"bytesChecked,omitempty"`
}

// WipeJob — снимок задания затирания. Живое состояние принадлежит
// движку; наружу отдаются только копии этой структуры.
type WipeJob struct {
	ID           string      `json:"id"`
	DeviceID     string      `json:"deviceId"`
	DeviceSerial string      `json:"deviceSerial,omitempty"`
	DeviceModel  string      `json:"deviceModel,omitempty"`
	DeviceType   DeviceClass `json:"deviceType"`
	Method       string      `json:"method"`
	MethodName   string      `json:"methodName"`
	Operator     string      `json:"operator,omitempty"`
	Status       JobStatus   `json:"status"`

	// Progress — доля выполнения [0,1]
	Progress    float64 `json:"progress"`
	CurrentPass int     `json:"currentPass"`
	TotalPasses int     `json:"totalPasses"`
	// Offset — байтовое смещение внутри текущего прохода
	Offset       uint64 `json:"offset"`
	SectorNumber uint64 `json:"sectorNumber"`
	// Extent — адресуемый объём устройства в байтах
	Extent uint64 `json:"extent"`
	// Speed — оценка пропускной способности, байт/с
	Speed float64 `json:"speed"`
	// Approximate — прогресс синтетический (firmware-метод)
	Approximate bool `json:"approximate,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ETA        *time.Time `json:"eta,omitempty"`

	Verification Verification `json:"verification"`
	Outcome      Outcome      `json:"outcome,omitempty"`
	ErrorKind    string       `json:"errorKind,omitempty"`
	Error        string       `json:"error,omitempty"`
	// Note — пояснение к итогу (состояние устройства после отмены)
	Note    string `json:"note,omitempty"`
	Retries int    `json:"retries"`

	CertificateID string `json:"certificateId,omitempty"`
}

// BytesPerSector — размер сектора для поля SectorNumber.
const BytesPerSector = 512
