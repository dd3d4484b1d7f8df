package sysexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeResult — заранее заданный результат команды.
type FakeResult struct {
	Stdout []byte
	Err    error
	// Delay — задержка перед ответом (прерывается отменой контекста)
	Delay time.Duration
}

// Fake — подменный Runner для тестов. Ключ — строка "name arg1 arg2 ...".
type Fake struct {
	mu      sync.Mutex
	results map[string]FakeResult
	paths   map[string]bool
	calls   []string
}

// NewFake создаёт пустой Fake.
func NewFake() *Fake {
	return &Fake{
		results: make(map[string]FakeResult),
		paths:   make(map[string]bool),
	}
}

// Set задаёт результат для команды.
func (f *Fake) Set(cmdline string, res FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[cmdline] = res
	f.paths[strings.Fields(cmdline)[0]] = true
}

// SetOutput задаёт stdout для команды.
func (f *Fake) SetOutput(cmdline, stdout string) {
	f.Set(cmdline, FakeResult{Stdout: []byte(stdout)})
}

// Calls возвращает выполненные команды (копия).
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	f.calls = append(f.calls, key)
	res, ok := f.results[key]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("не удалось запустить %s: команда не задана", key)
	}
	if res.Delay > 0 {
		select {
		case <-time.After(res.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("команда %s прервана: %w", name, ctx.Err())
		}
	}
	return res.Stdout, res.Err
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) error {
	_, err := f.Output(ctx, name, args...)
	return err
}

func (f *Fake) LookPath(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[name]
}
