// Пакет strategy — исполнители методов затирания.
//
// Overwrite пишет шаблоны напрямую на устройство и поддерживает паузу
// на границе единицы записи. Firmware делегирует затирание контроллеру
// (hdparm, nvme, adb) и сообщает синтетический прогресс.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/dzap-backend/internal/blockdev"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
)

// Position — точка возобновления: номер прохода (с нуля) и смещение в нём.
type Position struct {
	Pass   int    `json:"pass"`
	Offset uint64 `json:"offset"`
}

// Report — отчёт исполнителя на контрольной точке.
type Report struct {
	Position
	// Extent — адресуемый объём устройства
	Extent uint64
	// Progress — доля выполнения [0,1]
	Progress float64
	// Approximate — прогресс синтетический
	Approximate bool
	// Written — байт записано с предыдущей контрольной точки
	Written uint64
}

// Env — параметры одного запуска исполнителя.
type Env struct {
	// Device — путь накопителя или serial мобильного устройства
	Device       string
	Method       model.WipeMethod
	Verification model.VerificationMode
	Start        Position
	// Checkpoint вызывается после каждой единицы записи (или такта heartbeat).
	// Блокируется, пока задание на паузе; ошибка означает отмену.
	Checkpoint func(ctx context.Context, r Report) error
	// OnRetry вызывается перед каждой повторной попыткой ввода-вывода
	OnRetry func(err error)
}

// Result — итог успешного исполнения.
type Result struct {
	Verification model.Verification
	Extent       uint64
}

// Strategy — исполнитель семейства методов.
type Strategy interface {
	Run(ctx context.Context, env *Env) (*Result, error)
}

// Config — общие параметры исполнителей.
type Config struct {
	// WriteUnit — размер единицы записи, кратен blockdev.Alignment
	WriteUnit int
	// Retries — число повторов при временных ошибках
	Retries int
	// Backoff — начальная задержка повтора, удваивается до MaxBackoff
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Heartbeat — период синтетического прогресса firmware-методов
	Heartbeat time.Duration
}

// DefaultConfig — значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		WriteUnit:  1 << 20,
		Retries:    5,
		Backoff:    50 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		Heartbeat:  500 * time.Millisecond,
	}
}

// For выбирает исполнителя по тегу стратегии метода.
func For(m model.WipeMethod, cfg Config, opener blockdev.Opener, runner sysexec.Runner) (Strategy, error) {
	switch m.Strategy {
	case model.StrategyOverwrite:
		return &Overwrite{cfg: cfg, opener: opener}, nil
	case model.StrategyFirmwareErase, model.StrategyNVMeSanitize,
		model.StrategyCryptoErase, model.StrategyFactoryReset:
		return &Firmware{cfg: cfg, runner: runner}, nil
	default:
		return nil, fmt.Errorf("неизвестная стратегия %q", m.Strategy)
	}
}

// sleepCtx ждёт d или отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
