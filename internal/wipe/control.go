package wipe

import (
	"log/slog"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/events"
)

// PauseJob приостанавливает задание. Исполнитель останавливается на
// следующей контрольной точке (после текущей единицы записи) и
// записывает точную позицию возобновления.
func (e *Engine) PauseJob(jobID string) (model.WipeJob, error) {
	rt, err := e.runtime(jobID)
	if err != nil {
		return model.WipeJob{}, err
	}

	rt.mu.Lock()
	if !rt.method.Pausable {
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.New(apperr.KindUnsupportedOperation, rt.job.DeviceID, "метод %s не поддерживает паузу", rt.method.ID)
	}
	if rt.job.Status != model.JobRunning {
		status := rt.job.Status
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.InvalidState("пауза возможна только для выполняемого задания (статус %s)", status)
	}
	if rt.finalizing {
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.InvalidState("задание %s завершается, пауза невозможна", jobID)
	}
	if err := rt.transition(model.JobPaused); err != nil {
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.InvalidState("%v", err)
	}
	rt.resume = make(chan struct{})
	rt.pauseRecorded = false
	rt.job.ETA = nil
	rt.job.Speed = 0
	job := rt.job
	rt.mu.Unlock()

	_ = e.saveJournal(rt)
	e.coalescer.Update(events.ProgressFromJob(job, e.now()))
	e.logger.Info("Запрошена пауза задания", slog.String("job_id", jobID))
	return job, nil
}

// ResumeJob возобновляет приостановленное задание с записанной позиции.
func (e *Engine) ResumeJob(jobID string) (model.WipeJob, error) {
	rt, err := e.runtime(jobID)
	if err != nil {
		return model.WipeJob{}, err
	}

	rt.mu.Lock()
	if !rt.method.Pausable {
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.New(apperr.KindUnsupportedOperation, rt.job.DeviceID, "метод %s не поддерживает паузу", rt.method.ID)
	}
	if rt.job.Status != model.JobPaused {
		status := rt.job.Status
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.InvalidState("возобновить можно только приостановленное задание (статус %s)", status)
	}
	if err := rt.transition(model.JobRunning); err != nil {
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.InvalidState("%v", err)
	}
	close(rt.resume)
	rt.resume = nil
	rt.startActive(e.now())
	job := rt.job
	pos := rt.pos
	rt.mu.Unlock()

	_ = e.saveJournal(rt)
	e.coalescer.Update(events.ProgressFromJob(job, e.now()))
	e.hub.Publish(events.Log("Задание %s возобновлено: проход %d, смещение %d", jobID, pos.Pass+1, pos.Offset))
	e.logger.Info("Задание возобновлено",
		slog.String("job_id", jobID),
		slog.Int("pass", pos.Pass+1),
		slog.Uint64("offset", pos.Offset),
	)
	return job, nil
}

// AbortJob отменяет задание. Переход в aborted выполняет горутина
// задания после прерывания текущей операции ввода-вывода.
func (e *Engine) AbortJob(jobID string) (model.WipeJob, error) {
	rt, err := e.runtime(jobID)
	if err != nil {
		return model.WipeJob{}, err
	}

	rt.mu.Lock()
	if !rt.sm.CanAbort() {
		status := rt.job.Status
		rt.mu.Unlock()
		return model.WipeJob{}, apperr.InvalidState("задание в статусе %s не может быть отменено", status)
	}
	job := rt.job
	rt.mu.Unlock()

	rt.cancel(errAborted)
	e.logger.Warn("Запрошена отмена задания",
		slog.String("job_id", jobID),
		slog.String("device", job.DeviceID),
	)
	return job, nil
}

// PauseDevice приостанавливает активное задание устройства.
func (e *Engine) PauseDevice(deviceID string) (model.WipeJob, error) {
	rt := e.activeRuntime(deviceID)
	if rt == nil {
		return model.WipeJob{}, apperr.NotFound(deviceID, "нет активного задания для устройства")
	}
	return e.PauseJob(rt.snapshot().ID)
}

// ResumeDevice возобновляет задание устройства.
func (e *Engine) ResumeDevice(deviceID string) (model.WipeJob, error) {
	rt := e.activeRuntime(deviceID)
	if rt == nil {
		return model.WipeJob{}, apperr.NotFound(deviceID, "нет активного задания для устройства")
	}
	return e.ResumeJob(rt.snapshot().ID)
}

// AbortDevice отменяет задание устройства.
func (e *Engine) AbortDevice(deviceID string) (model.WipeJob, error) {
	rt := e.activeRuntime(deviceID)
	if rt == nil {
		return model.WipeJob{}, apperr.NotFound(deviceID, "нет активного задания для устройства")
	}
	return e.AbortJob(rt.snapshot().ID)
}
