// Пакет journal — файловый журнал заданий затирания.
// Каждое задание — отдельный файл {job_id}.job.json в ${DZ_STATE_DIR}/journal.
// Запись создаётся при допуске задания (queued) и перезаписывается при каждом
// переходе состояния; при рестарте незавершённые записи восстанавливаются.
package journal

import (
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// Record — запись журнала. Хранится как JSON-файл {job_id}.job.json.
type Record struct {
	// Job — снимок задания на момент записи
	Job model.WipeJob `json:"job"`

	// Pass, Offset — позиция возобновления перезаписи
	Pass   int    `json:"pass"`
	Offset uint64 `json:"offset"`

	// Seq — номер версии записи, растёт с каждой перезаписью
	Seq int `json:"seq"`

	// UpdatedAt — время последней записи (UTC)
	UpdatedAt time.Time `json:"updated_at"`
}

// recordFileName возвращает имя файла журнала для задания.
func recordFileName(jobID string) string {
	return jobID + recordSuffix
}

const recordSuffix = ".job.json"
