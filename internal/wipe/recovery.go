package wipe

import (
	"fmt"
	"log/slog"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// interruptedMessage — причина закрытия задания, прерванного падением процесса.
const interruptedMessage = "задание прервано перезапуском сервиса"

// Recover загружает журнал при старте: незавершённые задания закрываются
// как failed (устройство не считается очищенным), завершённые попадают
// в архив. Возвращает число закрытых заданий.
func (e *Engine) Recover() (int, error) {
	records, err := e.journal.List()
	if err != nil {
		return 0, fmt.Errorf("не удалось прочитать журнал заданий: %w", err)
	}

	now := e.now()
	closed := 0
	// от старых к новым: самые свежие задания последними попадают в LRU
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		job := rec.Job
		if !job.Status.IsTerminal() {
			job.Status = model.JobFailed
			job.Outcome = model.OutcomeFailure
			job.ErrorKind = string(apperr.KindHardwareFailure)
			job.Error = interruptedMessage
			job.FinishedAt = &now
			job.ETA = nil
			if err := e.journal.Save(job, rec.Pass, rec.Offset); err != nil {
				return closed, fmt.Errorf("не удалось закрыть задание %s: %w", job.ID, err)
			}
			jobsTotal.WithLabelValues(job.Method, string(job.Outcome)).Inc()
			closed++
			e.logger.Warn("Незавершённое задание закрыто как failed",
				slog.String("job_id", job.ID),
				slog.String("device", job.DeviceID),
				slog.Int("pass", rec.Pass+1),
				slog.Uint64("offset", rec.Offset),
			)
		}
		e.archive.Add(job.ID, job)
	}

	e.logger.Info("Журнал заданий загружен",
		slog.Int("jobs", len(records)),
		slog.Int("interrupted", closed),
	)
	return closed, nil
}
