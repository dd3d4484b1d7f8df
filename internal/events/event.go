// Пакет events — рассылка событий затирания подписчикам (WebSocket).
//
// События трёх видов: текстовые строки журнала, снимки прогресса
// и терминальные события заданий. Медленные подписчики отключаются,
// движок затирания никогда не ждёт доставки.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// Kind — вид события.
type Kind string

const (
	KindLog      Kind = "log"
	KindProgress Kind = "progress"
	KindTerminal Kind = "terminal"
)

// Префиксы текстовых строк для оператора.
const (
	prefixError   = "ERROR: "
	prefixSuccess = "SUCCESS: "
)

// Progress — JSON-объект прогресса, отправляемый клиентам.
type Progress struct {
	DeviceID    string `json:"deviceId"`
	DeviceModel string `json:"deviceModel,omitempty"`
	JobID       string `json:"jobId"`
	Method      string `json:"method"`
	MethodName  string `json:"methodName,omitempty"`
	Status      string `json:"status"`
	// Progress — проценты 0..100
	Progress     float64 `json:"progress"`
	CurrentPass  int     `json:"currentPass"`
	TotalPasses  int     `json:"totalPasses"`
	Speed        string  `json:"speed"`
	ETA          string  `json:"eta"`
	SectorNumber uint64  `json:"sectorNumber"`
	Approximate  bool    `json:"approximate,omitempty"`
	Outcome      string  `json:"outcome,omitempty"`
	Error        string  `json:"error,omitempty"`
	// CertificateID — для успешно завершённых заданий
	CertificateID string `json:"certificateId,omitempty"`
}

// Event — единица рассылки.
type Event struct {
	Kind     Kind
	JobID    string
	Text     string
	Progress *Progress
}

// Payload возвращает сообщение для WebSocket: текст как есть,
// прогресс и терминальные события в JSON.
func (e Event) Payload() ([]byte, error) {
	if e.Kind == KindLog || e.Progress == nil {
		return []byte(e.Text), nil
	}
	data, err := json.Marshal(e.Progress)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return data, nil
}

// Log создаёт текстовое событие.
func Log(format string, args ...any) Event {
	return Event{Kind: KindLog, Text: fmt.Sprintf(format, args...)}
}

// Error создаёт текстовое событие с префиксом ERROR.
func Error(format string, args ...any) Event {
	return Event{Kind: KindLog, Text: prefixError + fmt.Sprintf(format, args...)}
}

// Success создаёт текстовое событие с префиксом SUCCESS.
func Success(format string, args ...any) Event {
	return Event{Kind: KindLog, Text: prefixSuccess + fmt.Sprintf(format, args...)}
}

// ProgressFromJob строит объект прогресса из снимка задания.
func ProgressFromJob(job model.WipeJob, now time.Time) Progress {
	p := Progress{
		DeviceID:      job.DeviceID,
		DeviceModel:   job.DeviceModel,
		JobID:         job.ID,
		Method:        job.Method,
		MethodName:    job.MethodName,
		Status:        string(job.Status),
		Progress:      job.Progress * 100,
		CurrentPass:   job.CurrentPass,
		TotalPasses:   job.TotalPasses,
		Speed:         FormatSpeed(job.Speed),
		SectorNumber:  job.SectorNumber,
		Approximate:   job.Approximate,
		Outcome:       string(job.Outcome),
		Error:         job.Error,
		CertificateID: job.CertificateID,
	}
	if job.ETA != nil {
		p.ETA = FormatETA(job.ETA.Sub(now))
	}
	return p
}

// FormatSpeed форматирует скорость в "12.34 MB/s".
func FormatSpeed(bytesPerSec float64) string {
	return fmt.Sprintf("%.2f MB/s", bytesPerSec/1024/1024)
}

// FormatETA форматирует оставшееся время в секундах ("120s").
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.0fs", d.Seconds())
}
