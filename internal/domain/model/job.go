// Пакет model — доменные типы запусков измерений.
//
// Жизненный цикл слот-задачи:
//   queued → running → {done, failed, cancelled}
//   queued → cancelled
//
// Все переходы однонаправленные; терминальные состояния не покидаются.
package model

import (
	"fmt"
	"time"
)

// JobState — состояние слот-задачи.
type JobState string

const (
	// StateQueued — задача создана, слот закреплён, воркер ещё не стартовал режим
	StateQueued JobState = "queued"
	// StateRunning — воркер выполняет очередной режим
	StateRunning JobState = "running"
	// StateDone — все режимы выполнены успешно
	StateDone JobState = "done"
	// StateFailed — драйвер вернул ошибку, оставшиеся режимы не выполняются
	StateFailed JobState = "failed"
	// StateCancelled — задача отменена (из очереди или через abort драйвера)
	StateCancelled JobState = "cancelled"
)

// validTransitions — матрица допустимых переходов состояний слот-задачи.
var validTransitions = map[JobState]map[JobState]bool{
	StateQueued:    {StateRunning: true, StateCancelled: true, StateFailed: true},
	StateRunning:   {StateDone: true, StateFailed: true, StateCancelled: true},
	StateDone:      {},
	StateFailed:    {},
	StateCancelled: {},
}

// IsTerminal возвращает true для done, failed и cancelled.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода в целевое состояние.
func (s JobState) CanTransition(to JobState) bool {
	next, ok := validTransitions[s]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionError — ошибка недопустимого перехода состояний.
type TransitionError struct {
	From JobState
	To   JobState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход %s → %s", e.From, e.To)
}

// SlotJob — выполнение последовательности режимов одним слотом внутри Run.
// Мутируется только владеющим воркером и шедулером под его мьютексом.
type SlotJob struct {
	// Slot — имя слота (slot01, slot02, ...)
	Slot string
	// State — текущее состояние жизненного цикла
	State JobState
	// CurrentMode — выполняемый режим (пусто вне running)
	CurrentMode string
	// CompletedModes — количество полностью выполненных режимов
	CompletedModes int
	// ModeStartedAt — момент старта текущего режима
	ModeStartedAt time.Time
	// StartedAt / EndedAt — границы выполнения задачи
	StartedAt time.Time
	EndedAt   time.Time
	// Message — текст последней ошибки или "cancelled"
	Message string
	// Files — относительные пути созданных файлов
	Files []string
}

// Transition переводит задачу в новое состояние с проверкой матрицы переходов.
func (j *SlotJob) Transition(to JobState) error {
	if !j.State.CanTransition(to) {
		return &TransitionError{From: j.State, To: to}
	}
	j.State = to
	return nil
}

// Run — единица работы, созданная из одного запроса.
// Владеет одной SlotJob на каждый участвующий слот.
type Run struct {
	// RunID — глобально уникальный идентификатор запуска
	RunID string
	// GroupID — идентификатор группы из запроса (сырой), опционально
	GroupID string
	// GroupFolder — санированное имя подпапки группы, опционально
	GroupFolder string
	// Modes — полный упорядоченный список режимов запроса
	Modes []string
	// ParamsByMode — параметры каждого режима (неизменяемые после приёма)
	ParamsByMode map[string]map[string]any
	// RootDir — корневая директория результата
	RootDir string
	// StartedAt / EndedAt — границы запуска
	StartedAt time.Time
	EndedAt   time.Time
	// Jobs — слот-задачи в порядке слотов
	Jobs []*SlotJob
}

// Status возвращает агрегированное состояние запуска по состояниям слотов:
// пока хоть один слот queued/running — running; иначе failed, если есть
// сбойный слот; иначе cancelled, если есть отменённый; иначе done.
func (r *Run) Status() JobState {
	anyFailed := false
	anyCancelled := false
	for _, j := range r.Jobs {
		switch j.State {
		case StateQueued, StateRunning:
			return StateRunning
		case StateFailed:
			anyFailed = true
		case StateCancelled:
			anyCancelled = true
		}
	}
	if anyFailed {
		return StateFailed
	}
	if anyCancelled {
		return StateCancelled
	}
	return StateDone
}

// OverviewStatus — статус для списка запусков: queued, пока ни один слот
// не начал выполняться, иначе совпадает со Status.
func (r *Run) OverviewStatus() JobState {
	if len(r.Jobs) == 0 {
		return r.Status()
	}
	allQueued := true
	for _, j := range r.Jobs {
		if j.State != StateQueued {
			allQueued = false
			break
		}
	}
	if allQueued {
		return StateQueued
	}
	return r.Status()
}

// Job возвращает слот-задачу по имени слота или nil.
func (r *Run) Job(slot string) *SlotJob {
	for _, j := range r.Jobs {
		if j.Slot == slot {
			return j
		}
	}
	return nil
}

// Clone возвращает глубокую копию запуска для снапшотов статуса.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Modes = append([]string(nil), r.Modes...)
	cp.Jobs = make([]*SlotJob, len(r.Jobs))
	for i, j := range r.Jobs {
		jc := *j
		jc.Files = append([]string(nil), j.Files...)
		cp.Jobs[i] = &jc
	}
	// ParamsByMode неизменяем после приёма, копия по ссылке допустима
	return &cp
}
