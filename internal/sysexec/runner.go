// Пакет sysexec — запуск системных утилит (lsblk, hdparm, nvme, smartctl,
// adb, umount). Все обращения к внешним программам идут через Runner,
// чтобы тесты могли подменять вывод.
package sysexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner — исполнитель внешних команд.
type Runner interface {
	// Output запускает команду и возвращает stdout.
	// При ненулевом коде возврата stdout возвращается вместе с *ExitError.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Run запускает команду, вывод используется только в тексте ошибки.
	Run(ctx context.Context, name string, args ...string) error
	// LookPath проверяет наличие утилиты в PATH.
	LookPath(name string) bool
}

// ExitError — команда завершилась с ненулевым кодом.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("команда %q завершилась с кодом %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExecRunner — реализация Runner поверх os/exec.
type ExecRunner struct {
	// ionice — оборачивать Run в "ionice -c 3" (idle-класс планировщика I/O)
	ionice bool
	logger *slog.Logger
}

// New создаёт ExecRunner.
func New(ionice bool, logger *slog.Logger) *ExecRunner {
	return &ExecRunner{
		ionice: ionice,
		logger: logger.With(slog.String("component", "sysexec")),
	}
}

// Output запускает команду без обёртки ionice (короткие опросы).
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.exec(ctx, name, args)
}

// Run запускает длительную команду. При включённом ionice команда
// выполняется в idle-классе, чтобы не мешать остальным устройствам.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	if r.ionice && r.LookPath("ionice") {
		args = append([]string{"-c", "3", name}, args...)
		name = "ionice"
	}
	_, err := r.exec(ctx, name, args)
	return err
}

// LookPath проверяет наличие утилиты в PATH.
func (r *ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (r *ExecRunner) exec(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Запуск команды",
		slog.String("command", name),
		slog.String("args", strings.Join(args, " ")),
	)

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), fmt.Errorf("команда %s прервана: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExitError{
			Command:  name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	return nil, fmt.Errorf("не удалось запустить %s: %w", name, err)
}
