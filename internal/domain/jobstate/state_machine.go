// Пакет jobstate — конечный автомат жизненного цикла задания затирания.
//
//	queued → running → {completed, failed, aborted}
//	running ⇄ paused, paused → aborted
//	queued → {failed, aborted} — сбой запуска или остановка до старта воркера
//
// Конечные состояния (completed, failed, aborted) не имеют исходящих переходов.
// Потокобезопасен через sync.RWMutex.
package jobstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      model.JobStatus `json:"from"`
	To        model.JobStatus `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[model.JobStatus]map[model.JobStatus]bool{
	model.JobQueued:    {model.JobRunning: true, model.JobFailed: true, model.JobAborted: true},
	model.JobRunning:   {model.JobPaused: true, model.JobCompleted: true, model.JobFailed: true, model.JobAborted: true},
	model.JobPaused:    {model.JobRunning: true, model.JobAborted: true, model.JobFailed: true},
	model.JobCompleted: {},
	model.JobFailed:    {},
	model.JobAborted:   {},
}

// abortable — состояния, из которых принимается Abort оператора.
// queued → aborted остаётся внутренним переходом (остановка сервиса до старта воркера).
var abortable = map[model.JobStatus]bool{
	model.JobRunning: true,
	model.JobPaused:  true,
}

// StateMachine — конечный автомат одного задания.
type StateMachine struct {
	mu      sync.RWMutex
	current model.JobStatus
	history []TransitionRecord
}

// New создаёт автомат в состоянии queued.
func New() *StateMachine {
	return &StateMachine{
		current: model.JobQueued,
		history: make([]TransitionRecord, 0, 4),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() model.JobStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет допустимость перехода.
func (sm *StateMachine) CanTransitionTo(target model.JobStatus) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// CanAbort проверяет, принимается ли Abort в текущем состоянии.
func (sm *StateMachine) CanAbort() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return abortable[sm.current]
}

// TransitionTo выполняет переход. Возвращает *TransitionError,
// если переход недопустим.
func (sm *StateMachine) TransitionTo(target model.JobStatus) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransitions[sm.current][target] {
		return &TransitionError{From: sm.current, To: target}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
	return nil
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — недопустимый переход между состояниями.
type TransitionError struct {
	From model.JobStatus
	To   model.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход %s → %s недопустим", e.From, e.To)
}
