package wipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/events"
	"github.com/bigkaa/dzap-backend/internal/wipe/strategy"
)

// outcome — итог исполнения, передаваемый в finish.
type outcome struct {
	status model.JobStatus
	result *strategy.Result
	err    error
}

// run — горутина задания. Устройство освобождается ровно один раз,
// в том числе при панике исполнителя.
func (e *Engine) run(ctx context.Context, rt *jobRuntime) {
	defer e.wg.Done()
	defer e.releaseDevice(rt)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Паника в исполнителе затирания",
				slog.String("job_id", rt.snapshot().ID),
				slog.Any("panic", r),
			)
			e.finish(rt, outcome{
				status: model.JobFailed,
				err:    apperr.New(apperr.KindHardwareFailure, rt.snapshot().DeviceID, "внутренняя ошибка исполнителя: %v", r),
			})
		}
	}()

	if ctx.Err() != nil {
		e.finish(rt, e.cancelled(ctx))
		return
	}

	strat, err := strategy.For(rt.method, e.cfg.Strategy, e.opener, e.runner)
	if err != nil {
		e.finish(rt, outcome{status: model.JobFailed, err: apperr.Wrap(apperr.KindUnsupportedMethod, rt.snapshot().DeviceID, err, "нет исполнителя для метода")})
		return
	}

	rt.mu.Lock()
	if err := rt.transition(model.JobRunning); err != nil {
		rt.mu.Unlock()
		e.finish(rt, e.cancelled(ctx))
		return
	}
	now := e.now()
	rt.job.StartedAt = &now
	rt.startActive(now)
	rt.lastJournal = now
	job := rt.job
	start := rt.pos
	rt.mu.Unlock()

	_ = e.saveJournal(rt)
	e.coalescer.Update(events.ProgressFromJob(job, now))
	e.hub.Publish(events.Log("Затирание %s начато: %s", job.DeviceID, job.MethodName))
	e.logger.Info("Затирание начато",
		slog.String("job_id", job.ID),
		slog.String("device", job.DeviceID),
		slog.String("method", job.Method),
	)

	env := &strategy.Env{
		Device:       job.DeviceID,
		Method:       rt.method,
		Verification: job.Verification.Mode,
		Start:        start,
		Checkpoint: func(cctx context.Context, r strategy.Report) error {
			return e.checkpoint(cctx, rt, r)
		},
		OnRetry: func(err error) {
			ioRetriesTotal.Inc()
			rt.mu.Lock()
			rt.job.Retries++
			rt.mu.Unlock()
			e.logger.Warn("Временная ошибка ввода-вывода, повтор",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		},
	}

	res, err := strat.Run(ctx, env)
	switch {
	case ctx.Err() != nil:
		e.finish(rt, e.cancelled(ctx))
	case err != nil:
		e.finish(rt, outcome{status: model.JobFailed, err: err})
	default:
		if err := e.awaitResume(ctx, rt); err != nil {
			e.finish(rt, e.cancelled(ctx))
			return
		}
		e.finish(rt, outcome{status: model.JobCompleted, result: res})
	}
}

// awaitResume удерживает завершение, пока задание на паузе, принятой
// после последней контрольной точки. После возврата nil пауза отклоняется.
func (e *Engine) awaitResume(ctx context.Context, rt *jobRuntime) error {
	for {
		rt.mu.Lock()
		resume := rt.resume
		if resume == nil {
			rt.finalizing = true
			rt.mu.Unlock()
			return nil
		}
		job := rt.job
		rt.mu.Unlock()

		e.logger.Info("Задание приостановлено перед завершением",
			slog.String("job_id", job.ID),
		)
		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cancelled определяет итог по причине отмены контекста.
func (e *Engine) cancelled(ctx context.Context) outcome {
	if errors.Is(context.Cause(ctx), errAborted) {
		return outcome{status: model.JobAborted}
	}
	return outcome{
		status: model.JobFailed,
		err:    apperr.New(apperr.KindHardwareFailure, "", "задание прервано остановкой сервиса"),
	}
}

// checkpoint вызывается исполнителем после каждой единицы записи.
// Если задание на паузе, записывает позицию и ждёт возобновления или отмены.
func (e *Engine) checkpoint(ctx context.Context, rt *jobRuntime, r strategy.Report) error {
	now := e.now()

	rt.mu.Lock()
	rt.applyReport(r, now)
	job := rt.job
	resume := rt.resume
	recordPause := resume != nil && !rt.pauseRecorded
	if recordPause {
		rt.pauseRecorded = true
	}
	journalDue := now.Sub(rt.lastJournal) >= e.cfg.JournalEvery
	if journalDue || recordPause {
		rt.lastJournal = now
	}
	rt.mu.Unlock()

	if r.Written > 0 {
		bytesWrittenTotal.Add(float64(r.Written))
	}
	e.coalescer.Update(events.ProgressFromJob(job, now))
	if journalDue || recordPause {
		_ = e.saveJournal(rt)
	}

	if resume == nil {
		return ctx.Err()
	}

	if recordPause {
		e.logger.Info("Задание приостановлено",
			slog.String("job_id", job.ID),
			slog.Int("pass", job.CurrentPass),
			slog.Uint64("offset", job.Offset),
		)
		e.hub.Publish(events.Log("Задание %s приостановлено: проход %d, смещение %d", job.ID, job.CurrentPass, job.Offset))
	}

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish переводит задание в конечное состояние, фиксирует итог
// в журнале, выпускает сертификат и публикует терминальное событие.
func (e *Engine) finish(rt *jobRuntime, out outcome) {
	now := e.now()

	rt.mu.Lock()
	if rt.job.Status.IsTerminal() {
		rt.mu.Unlock()
		return
	}
	if err := rt.transition(out.status); err != nil {
		// queued → completed невозможен: такое задание считается сбойным
		out = outcome{status: model.JobFailed, err: fmt.Errorf("недопустимое завершение: %w", err)}
		rt.job.Status = model.JobFailed
	}
	rt.job.FinishedAt = &now
	rt.job.ETA = nil
	rt.resume = nil

	switch out.status {
	case model.JobCompleted:
		rt.job.Outcome = model.OutcomeSuccess
		rt.job.Progress = 1
		rt.job.Approximate = false
		rt.job.CurrentPass = rt.job.TotalPasses
		if out.result != nil {
			rt.job.Verification = out.result.Verification
			if out.result.Extent > 0 {
				rt.job.Extent = out.result.Extent
			}
		}
		rt.job.Offset = rt.job.Extent
		rt.job.SectorNumber = rt.job.Extent / model.BytesPerSector
	case model.JobAborted:
		rt.job.Outcome = model.OutcomeAborted
		rt.job.Note = abortNote
	default:
		rt.job.Outcome = model.OutcomeFailure
		kind := apperr.KindOf(out.err)
		if kind == apperr.KindInternal {
			kind = apperr.KindHardwareFailure
		}
		rt.job.ErrorKind = string(kind)
		if out.err != nil {
			rt.job.Error = out.err.Error()
		}
		if kind == apperr.KindVerificationMismatch {
			passed := false
			rt.job.Verification.Passed = &passed
		}
	}
	job := rt.job
	rt.mu.Unlock()

	if err := e.saveJournal(rt); err != nil {
		e.hub.Publish(events.Error("итог задания %s не записан в журнал: %v", job.ID, err))
	}

	if job.Status == model.JobCompleted {
		if issuer := e.certIssuer(); issuer != nil {
			cert, err := issuer.Issue(context.Background(), job)
			if err != nil {
				e.logger.Error("Не удалось выпустить сертификат",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				e.hub.Publish(events.Error("сертификат для задания %s не выпущен: %v", job.ID, err))
			} else {
				rt.mu.Lock()
				rt.job.CertificateID = cert.ID
				job = rt.job
				rt.mu.Unlock()
				_ = e.saveJournal(rt)
			}
		}
	}

	jobsTotal.WithLabelValues(job.Method, string(job.Outcome)).Inc()
	e.releaseDevice(rt)

	e.archive.Add(job.ID, job)
	e.mu.Lock()
	delete(e.jobs, job.ID)
	e.mu.Unlock()

	logAttrs := []any{
		slog.String("job_id", job.ID),
		slog.String("device", job.DeviceID),
		slog.String("status", string(job.Status)),
	}
	switch job.Status {
	case model.JobCompleted:
		e.logger.Info("Затирание завершено", logAttrs...)
		e.hub.Publish(events.Success("затирание %s завершено (%s)", job.DeviceID, job.MethodName))
	case model.JobAborted:
		e.logger.Warn("Затирание отменено", logAttrs...)
		e.hub.Publish(events.Error("затирание %s отменено: %s", job.DeviceID, abortNote))
	default:
		e.logger.Error("Затирание завершилось ошибкой", append(logAttrs, slog.String("error", job.Error))...)
		e.hub.Publish(events.Error("затирание %s: %s", job.DeviceID, job.Error))
	}
	e.coalescer.Finish(events.ProgressFromJob(job, now))
}

// releaseDevice снимает busy-lock устройства. Повторные вызовы игнорируются.
func (e *Engine) releaseDevice(rt *jobRuntime) {
	rt.releaseOnce.Do(func() {
		job := rt.snapshot()
		rt.cancel(nil)
		e.mu.Lock()
		if e.devices[job.DeviceID] == job.ID {
			delete(e.devices, job.DeviceID)
		}
		e.mu.Unlock()
		jobsActive.Dec()
	})
}
