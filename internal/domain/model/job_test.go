package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from JobState
		to   JobState
		ok   bool
	}{
		{StateQueued, StateRunning, true},
		{StateQueued, StateCancelled, true},
		{StateQueued, StateDone, false},
		{StateRunning, StateDone, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StateQueued, false},
		{StateDone, StateRunning, false},
		{StateFailed, StateCancelled, false},
		{StateCancelled, StateRunning, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s → %s): хотели %v, получили %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []JobState{StateDone, StateFailed, StateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("состояние %s должно быть терминальным", s)
		}
	}
	for _, s := range []JobState{StateQueued, StateRunning} {
		if s.IsTerminal() {
			t.Errorf("состояние %s не должно быть терминальным", s)
		}
	}
}

func TestSlotJobTransition(t *testing.T) {
	j := &SlotJob{Slot: "slot01", State: StateQueued}
	if err := j.Transition(StateRunning); err != nil {
		t.Fatalf("queued → running: неожиданная ошибка %v", err)
	}
	if err := j.Transition(StateDone); err != nil {
		t.Fatalf("running → done: неожиданная ошибка %v", err)
	}
	err := j.Transition(StateRunning)
	if err == nil {
		t.Fatal("done → running должен вернуть ошибку")
	}
	var te *TransitionError
	if ok := asTransitionError(err, &te); !ok {
		t.Fatalf("хотели *TransitionError, получили %T", err)
	}
	if te.From != StateDone || te.To != StateRunning {
		t.Errorf("неверные поля ошибки: %v", te)
	}
	if j.State != StateDone {
		t.Errorf("состояние не должно меняться при запрещённом переходе, получили %s", j.State)
	}
}

func asTransitionError(err error, target **TransitionError) bool {
	te, ok := err.(*TransitionError)
	if ok {
		*target = te
	}
	return ok
}

func TestRunStatus(t *testing.T) {
	cases := []struct {
		name   string
		states []JobState
		want   JobState
	}{
		{"все в очереди", []JobState{StateQueued, StateQueued}, StateRunning},
		{"один выполняется", []JobState{StateDone, StateRunning}, StateRunning},
		{"все успешны", []JobState{StateDone, StateDone}, StateDone},
		{"есть сбой", []JobState{StateDone, StateFailed}, StateFailed},
		{"сбой важнее отмены", []JobState{StateCancelled, StateFailed}, StateFailed},
		{"есть отмена", []JobState{StateDone, StateCancelled}, StateCancelled},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &Run{}
			for i, s := range c.states {
				r.Jobs = append(r.Jobs, &SlotJob{Slot: slotName(i), State: s})
			}
			if got := r.Status(); got != c.want {
				t.Errorf("Status(): хотели %s, получили %s", c.want, got)
			}
		})
	}
}

func TestRunOverviewStatus(t *testing.T) {
	r := &Run{Jobs: []*SlotJob{
		{Slot: "slot01", State: StateQueued},
		{Slot: "slot02", State: StateQueued},
	}}
	if got := r.OverviewStatus(); got != StateQueued {
		t.Errorf("все слоты в очереди: хотели queued, получили %s", got)
	}
	r.Jobs[0].State = StateRunning
	if got := r.OverviewStatus(); got != StateRunning {
		t.Errorf("один слот запущен: хотели running, получили %s", got)
	}
}

func TestRunClone(t *testing.T) {
	r := &Run{
		RunID: "r1",
		Modes: []string{"CV"},
		Jobs:  []*SlotJob{{Slot: "slot01", State: StateRunning, Files: []string{"a.csv"}}},
	}
	cp := r.Clone()
	cp.Jobs[0].State = StateDone
	cp.Jobs[0].Files[0] = "b.csv"
	if r.Jobs[0].State != StateRunning {
		t.Error("изменение копии не должно затрагивать оригинал (State)")
	}
	if r.Jobs[0].Files[0] != "a.csv" {
		t.Error("изменение копии не должно затрагивать оригинал (Files)")
	}
}

func slotName(i int) string {
	return []string{"slot01", "slot02", "slot03"}[i]
}
