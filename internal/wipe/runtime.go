package wipe

import (
	"context"
	"sync"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/jobstate"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/wipe/strategy"
)

// jobRuntime — живое состояние задания. Поля job меняются под mu;
// наружу отдаётся только копия (snapshot).
type jobRuntime struct {
	mu     sync.Mutex
	job    model.WipeJob
	sm     *jobstate.StateMachine
	method model.WipeMethod
	pos    strategy.Position

	cancel context.CancelCauseFunc
	// resume не nil, пока задание на паузе; закрывается при возобновлении
	resume chan struct{}
	// pauseRecorded — позиция паузы уже записана в журнал
	pauseRecorded bool
	// finalizing — исполнитель завершил работу, пауза больше не принимается
	finalizing bool

	// оценка скорости: байты и время с начала активного отрезка
	activeSince time.Time
	activeBytes uint64
	lastJournal time.Time
	// saveMu упорядочивает записи в журнал: позиция читается под ним
	saveMu sync.Mutex

	releaseOnce sync.Once
}

func newRuntime(job model.WipeJob, method model.WipeMethod, cancel context.CancelCauseFunc) *jobRuntime {
	return &jobRuntime{
		job:    job,
		sm:     jobstate.New(),
		method: method,
		cancel: cancel,
	}
}

func (rt *jobRuntime) snapshot() model.WipeJob {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.job
}

// position возвращает позицию возобновления и копию задания.
func (rt *jobRuntime) position() (model.WipeJob, strategy.Position) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.job, rt.pos
}

// transition выполняет переход и синхронизирует job.Status. Вызывается под mu.
func (rt *jobRuntime) transition(to model.JobStatus) error {
	if err := rt.sm.TransitionTo(to); err != nil {
		return err
	}
	rt.job.Status = to
	return nil
}

// applyReport переносит отчёт исполнителя в задание. Вызывается под mu.
// Позиция и прогресс только растут.
func (rt *jobRuntime) applyReport(r strategy.Report, now time.Time) {
	if r.Progress > rt.job.Progress {
		rt.job.Progress = r.Progress
	}
	if r.Approximate {
		rt.job.Approximate = true
		return
	}

	if r.Pass > rt.pos.Pass || (r.Pass == rt.pos.Pass && r.Offset > rt.pos.Offset) {
		rt.pos = r.Position
	}
	rt.job.CurrentPass = rt.pos.Pass + 1
	rt.job.Offset = rt.pos.Offset
	rt.job.SectorNumber = rt.pos.Offset / model.BytesPerSector
	if r.Extent > 0 {
		rt.job.Extent = r.Extent
	}

	rt.activeBytes += r.Written
	if elapsed := now.Sub(rt.activeSince).Seconds(); elapsed > 0 {
		rt.job.Speed = float64(rt.activeBytes) / elapsed
	}
	if rt.job.Speed > 0 && rt.job.Extent > 0 {
		total := float64(rt.job.Extent) * float64(rt.job.TotalPasses)
		remaining := (1 - rt.job.Progress) * total
		eta := now.Add(time.Duration(remaining / rt.job.Speed * float64(time.Second)))
		rt.job.ETA = &eta
	}
}

// startActive начинает новый отрезок оценки скорости (старт, возобновление).
func (rt *jobRuntime) startActive(now time.Time) {
	rt.activeSince = now
	rt.activeBytes = 0
}
