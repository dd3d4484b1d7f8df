package strategy

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/bigkaa/dzap-backend/internal/catalog"
	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
)

// approxCeiling — предел синтетического прогресса до завершения команды.
const approxCeiling = 0.95

// ataPassword — временный пароль ATA Security, снимается самим Security Erase.
const ataPassword = "dZap"

// sanitizePollLimit — максимум опросов sanitize-log (при такте heartbeat).
const sanitizePollLimit = 7200

// Sanitize Status (SSTAT) журнала NVMe Sanitize.
const (
	sstatInProgress = 2
	sstatFailed     = 3
)

// Firmware — затирание встроенной командой контроллера или устройства.
type Firmware struct {
	cfg    Config
	runner sysexec.Runner
}

// Run запускает firmware-команду и параллельно сообщает синтетический
// прогресс: монотонно растёт к 0.95 по ожидаемой длительности метода.
func (f *Firmware) Run(ctx context.Context, env *Env) (*Result, error) {
	steps, err := commandSteps(env.Method.Command, env.Device)
	if err != nil {
		return nil, err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		f.heartbeat(hbCtx, env)
	}()
	defer func() {
		stopHeartbeat()
		<-hbDone
	}()

	for _, step := range steps {
		if err := f.runner.Run(ctx, step[0], step[1:]...); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apperr.Wrap(apperr.KindHardwareFailure, env.Device, err, "firmware-команда %s завершилась ошибкой", step[0])
		}
	}

	if env.Method.Command == catalog.CmdNVMeSanitizeCrypto {
		if err := f.waitSanitize(ctx, env.Device); err != nil {
			return nil, err
		}
	}

	// Верификация firmware-методов не выполняется: содержимое после
	// команды зависит от реализации контроллера.
	return &Result{Verification: model.Verification{Mode: model.VerifyNone}}, nil
}

func (f *Firmware) heartbeat(ctx context.Context, env *Env) {
	typical := time.Duration(env.Method.TypicalSeconds) * time.Second
	if typical <= 0 {
		typical = time.Minute
	}
	start := time.Now()
	ticker := time.NewTicker(f.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := env.Checkpoint(ctx, Report{
				Progress:    approxProgress(time.Since(start), typical),
				Approximate: true,
			}); err != nil {
				return
			}
		}
	}
}

// approxProgress — 0.95·(1 − e^(−t/T)): монотонно, асимптотически к 0.95.
func approxProgress(elapsed, typical time.Duration) float64 {
	return approxCeiling * (1 - math.Exp(-float64(elapsed)/float64(typical)))
}

// commandSteps возвращает последовательность команд для варианта метода.
func commandSteps(command, device string) ([][]string, error) {
	switch command {
	case catalog.CmdATASecurityErase:
		return [][]string{
			{"hdparm", "--user-master", "u", "--security-set-pass", ataPassword, device},
			{"hdparm", "--user-master", "u", "--security-erase", ataPassword, device},
		}, nil
	case catalog.CmdATACryptoErase:
		return [][]string{
			{"hdparm", "--user-master", "u", "--security-set-pass", ataPassword, device},
			{"hdparm", "--user-master", "u", "--security-erase-enhanced", ataPassword, device},
		}, nil
	case catalog.CmdNVMeFormatUser:
		return [][]string{{"nvme", "format", device, "--ses=1", "--force"}}, nil
	case catalog.CmdNVMeFormatCrypto:
		return [][]string{{"nvme", "format", device, "--ses=2", "--force"}}, nil
	case catalog.CmdNVMeSanitizeCrypto:
		return [][]string{{"nvme", "sanitize", device, "--sanact=4"}}, nil
	case catalog.CmdAndroidWipeData:
		return [][]string{{"adb", "-s", device, "reboot", "recovery"}}, nil
	case catalog.CmdIOSErase:
		return [][]string{{"idevicerestore", "--erase", "--no-input", "--udid", device}}, nil
	default:
		return nil, apperr.New(apperr.KindUnsupportedMethod, device, "неизвестная firmware-команда %q", command)
	}
}

// waitSanitize опрашивает журнал Sanitize до завершения операции:
// команда sanitize возвращается сразу, контроллер работает в фоне.
func (f *Firmware) waitSanitize(ctx context.Context, device string) error {
	for i := 0; i < sanitizePollLimit; i++ {
		out, err := f.runner.Output(ctx, "nvme", "sanitize-log", device, "--output-format=json")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperr.Wrap(apperr.KindHardwareFailure, device, err, "не удалось прочитать журнал sanitize")
		}
		status, ok := findSanitizeStatus(out)
		if !ok {
			// журнал без SSTAT: считаем, что команда синхронна
			return nil
		}
		switch status & 0x7 {
		case sstatInProgress:
			if err := sleepCtx(ctx, f.cfg.Heartbeat); err != nil {
				return err
			}
		case sstatFailed:
			return apperr.New(apperr.KindHardwareFailure, device, "контроллер сообщил о сбое sanitize")
		default:
			return nil
		}
	}
	return apperr.New(apperr.KindHardwareFailure, device, "sanitize не завершился за отведённое время")
}

// findSanitizeStatus ищет поле sstat на любой глубине: формат журнала
// различается между версиями nvme-cli.
func findSanitizeStatus(data []byte) (int, bool) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, false
	}
	var walk func(v any) (int, bool)
	walk = func(v any) (int, bool) {
		switch t := v.(type) {
		case map[string]any:
			for k, val := range t {
				if k == "sstat" || k == "SSTAT" {
					if n, ok := val.(float64); ok {
						return int(n), true
					}
				}
			}
			for _, val := range t {
				if n, ok := walk(val); ok {
					return n, true
				}
			}
		case []any:
			for _, val := range t {
				if n, ok := walk(val); ok {
					return n, true
				}
			}
		}
		return 0, false
	}
	return walk(doc)
}
