// Пакет health — оценка состояния накопителя по S.M.A.R.T.
// Оценка вычисляется на каждый запрос и не кэшируется.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
)

// Resolver находит подключённое устройство.
type Resolver interface {
	Resolve(ctx context.Context, id string) (model.Device, error)
}

// BusyChecker сообщает, удерживается ли устройство активным заданием.
type BusyChecker interface {
	IsBusy(deviceID string) bool
}

// Assessor — оценщик здоровья накопителей.
type Assessor struct {
	resolver Resolver
	busy     BusyChecker
	runner   sysexec.Runner
	timeout  time.Duration
	logger   *slog.Logger
}

// New создаёт Assessor. timeout ограничивает время работы smartctl.
func New(resolver Resolver, busy BusyChecker, runner sysexec.Runner, timeout time.Duration, logger *slog.Logger) *Assessor {
	return &Assessor{
		resolver: resolver,
		busy:     busy,
		runner:   runner,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "health")),
	}
}

// GetHealth возвращает оценку здоровья накопителя.
// Для USB, мобильных и нераспознанных устройств — UnsupportedDevice.
// Если устройство занято затиранием, а опрос не удался, возвращается
// Unknown с degraded=true вместо ошибки.
func (a *Assessor) GetHealth(ctx context.Context, deviceID string) (*model.DriveHealth, error) {
	dev, err := a.resolver.Resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	switch dev.Class() {
	case model.ClassHDD, model.ClassSATASSD, model.ClassNVMe:
	default:
		return nil, apperr.New(apperr.KindUnsupportedDevice, deviceID,
			"устройство класса %s не предоставляет S.M.A.R.T.", dev.Class())
	}

	busy := a.busy != nil && a.busy.IsBusy(deviceID)

	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, runErr := a.runner.Output(probeCtx, "smartctl", "-a", "-j", dev.ID())
	// smartctl возвращает ненулевой код и при исправном опросе
	// (флаги состояния), поэтому сначала пробуем разобрать JSON.
	var parsed *smartctlOutput
	var parseErr error
	if len(out) > 0 {
		parsed, parseErr = parseSmartctl(out)
	}

	if parsed == nil {
		cause := runErr
		if cause == nil {
			cause = parseErr
		}
		if busy {
			a.logger.Info("Телеметрия недоступна во время затирания",
				slog.String("device", deviceID),
			)
			return &model.DriveHealth{
				PredictedStatus: model.HealthUnknown,
				SmartStatus:     "UNKNOWN",
				Degraded:        true,
			}, nil
		}
		if cause == nil {
			return &model.DriveHealth{PredictedStatus: model.HealthUnknown, SmartStatus: "UNKNOWN"}, nil
		}
		return nil, apperr.Wrap(apperr.KindIO, deviceID, cause, "не удалось получить S.M.A.R.T.")
	}

	h := assess(parsed)
	h.Degraded = busy

	a.logger.Debug("Оценка здоровья вычислена",
		slog.String("device", deviceID),
		slog.String("status", string(h.PredictedStatus)),
		slog.Float64("failure_probability", h.FailureProbability),
	)
	return &h, nil
}
