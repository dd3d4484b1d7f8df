package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/dzap-backend/internal/blockdev"
	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// verifySampleStride — при basic-верификации читается каждая 64-я единица
// записи, а также первая и последняя.
const verifySampleStride = 64

// Overwrite — N проходов записи шаблонов по всему объёму устройства.
type Overwrite struct {
	cfg    Config
	opener blockdev.Opener
	// seeds — seed псевдослучайных проходов, живут всё время задания
	seeds [][32]byte
}

// Run выполняет проходы начиная с env.Start. Пауза обеспечивается
// блокировкой env.Checkpoint; отмена — через ctx.
func (o *Overwrite) Run(ctx context.Context, env *Env) (*Result, error) {
	passes := len(env.Method.Patterns)
	if passes == 0 {
		return nil, apperr.New(apperr.KindUnsupportedMethod, env.Device, "у метода %s нет шаблонов перезаписи", env.Method.ID)
	}
	if o.seeds == nil {
		o.seeds = newSeeds(passes)
	}

	dev, err := o.opener.Open(env.Device)
	if err != nil {
		return nil, classifyIOErr(env.Device, err, "не удалось открыть устройство")
	}
	defer dev.Close()

	extent := dev.Size()
	if extent == 0 {
		return nil, apperr.New(apperr.KindHardwareFailure, env.Device, "устройство сообщает нулевой объём")
	}

	unit := o.cfg.WriteUnit
	buf := blockdev.AlignedBuffer(unit)
	total := float64(extent) * float64(passes)

	for pass := env.Start.Pass; pass < passes; pass++ {
		src := newPatternSource(env.Method.Patterns[pass], o.seeds[pass])
		var off uint64
		if pass == env.Start.Pass {
			off = env.Start.Offset
		}
		// шаблон постоянного байта заполняется один раз на проход
		if !src.pattern.Random {
			src.fill(buf, 0)
		}

		for off < extent {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			n := uint64(unit)
			if rem := extent - off; rem < n {
				n = rem
			}
			chunk := buf[:n]
			if src.pattern.Random {
				src.fill(chunk, off/uint64(unit))
			}

			if err := o.writeUnit(ctx, env, dev, chunk, off); err != nil {
				return nil, err
			}
			off += n

			done := float64(pass)*float64(extent) + float64(off)
			if err := env.Checkpoint(ctx, Report{
				Position: Position{Pass: pass, Offset: off},
				Extent:   extent,
				Progress: done / total,
				Written:  n,
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := dev.Sync(); err != nil {
		return nil, classifyIOErr(env.Device, err, "не удалось сбросить кэш устройства")
	}

	ver, err := o.verify(ctx, env, dev, extent)
	if err != nil {
		return nil, err
	}
	return &Result{Verification: ver, Extent: extent}, nil
}

// writeUnit записывает единицу с повторами при временных ошибках.
// Задержка удваивается от cfg.Backoff до cfg.MaxBackoff и прерывается отменой.
func (o *Overwrite) writeUnit(ctx context.Context, env *Env, dev blockdev.Device, chunk []byte, off uint64) error {
	backoff := o.cfg.Backoff
	for attempt := 0; ; attempt++ {
		n, err := dev.WriteAt(chunk, int64(off))
		if err == nil && n == len(chunk) {
			return nil
		}
		if err == nil {
			return apperr.New(apperr.KindHardwareFailure, env.Device,
				"короткая запись на смещении %d: %d из %d байт", off, n, len(chunk))
		}
		if !blockdev.IsTransient(err) || attempt >= o.cfg.Retries {
			return classifyIOErr(env.Device, err, fmt.Sprintf("ошибка записи на смещении %d", off))
		}

		if env.OnRetry != nil {
			env.OnRetry(err)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > o.cfg.MaxBackoff {
			backoff = o.cfg.MaxBackoff
		}
	}
}

// verify читает записанное последним проходом и сверяет с шаблоном.
// После каждой проверенной единицы вызывается env.Checkpoint, поэтому
// пауза и отмена действуют и на чтение.
func (o *Overwrite) verify(ctx context.Context, env *Env, dev blockdev.Device, extent uint64) (model.Verification, error) {
	ver := model.Verification{Mode: env.Verification}
	if env.Verification == model.VerifyNone || env.Verification == "" {
		ver.Mode = model.VerifyNone
		return ver, nil
	}

	last := len(env.Method.Patterns) - 1
	src := newPatternSource(env.Method.Patterns[last], o.seeds[last])
	unit := uint64(o.cfg.WriteUnit)
	units := (extent + unit - 1) / unit

	want := blockdev.AlignedBuffer(int(unit))
	got := blockdev.AlignedBuffer(int(unit))

	for idx := uint64(0); idx < units; idx++ {
		if env.Verification == model.VerifyBasic && idx%verifySampleStride != 0 && idx != units-1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ver, err
		}

		off := idx * unit
		n := unit
		if rem := extent - off; rem < n {
			n = rem
		}
		src.fill(want[:n], idx)

		if _, err := dev.ReadAt(got[:n], int64(off)); err != nil {
			return ver, classifyIOErr(env.Device, err, fmt.Sprintf("ошибка чтения при верификации на смещении %d", off))
		}
		ver.BytesChecked += n

		if !bytes.Equal(want[:n], got[:n]) {
			passed := false
			ver.Passed = &passed
			return ver, apperr.New(apperr.KindVerificationMismatch, env.Device,
				"данные на смещении %d не совпадают с шаблоном прохода %d", off, last+1)
		}

		// позиция не меняется: запись завершена, пауза держит чтение
		if err := env.Checkpoint(ctx, Report{
			Position: Position{Pass: last, Offset: extent},
			Extent:   extent,
			Progress: 1,
		}); err != nil {
			return ver, err
		}
	}

	passed := true
	ver.Passed = &passed
	return ver, nil
}

// classifyIOErr переводит ошибку ввода-вывода в таксономию домена.
func classifyIOErr(device string, err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if blockdev.IsHard(err) {
		return apperr.Wrap(apperr.KindHardwareFailure, device, err, "%s", msg)
	}
	return apperr.Wrap(apperr.KindIO, device, err, "%s", msg)
}
