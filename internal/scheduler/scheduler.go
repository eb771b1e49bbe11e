// Пакет scheduler — приём, выполнение и отмена запусков измерений.
//
// На каждый занятый слот запускается отдельный воркер, выполняющий
// режимы строго последовательно. Состояние запусков хранится в памяти
// под одним мьютексом и записывается насквозь в журнал; операции
// статуса и отмены никогда не блокируются на работе драйвера.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevalab/boxd/internal/device"
	"github.com/sevalab/boxd/internal/domain/model"
	"github.com/sevalab/boxd/internal/storage/layout"
)

var (
	// ErrRunNotFound — запуск с таким run_id неизвестен.
	ErrRunNotFound = errors.New("запуск не найден")
	// ErrRunConflict — run_id уже используется.
	ErrRunConflict = errors.New("run_id уже используется")
	// ErrNoModes — в запросе нет ни одного режима.
	ErrNoModes = errors.New("список режимов пуст")
	// ErrNoDevices — в запросе нет ни одного устройства.
	ErrNoDevices = errors.New("не указано ни одного устройства")
)

// MissingParamsError — для режима из списка нет параметров.
type MissingParamsError struct {
	Mode string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("нет параметров для режима %s", e.Mode)
}

// UnknownSlotsError — в запросе названы незарегистрированные слоты.
type UnknownSlotsError struct {
	Slots []string
}

func (e *UnknownSlotsError) Error() string {
	return fmt.Sprintf("неизвестные слоты: %s", strings.Join(e.Slots, ", "))
}

// AllSlotsBusyError — все пригодные слоты заняты другими запусками.
type AllSlotsBusyError struct {
	Busy []string
}

func (e *AllSlotsBusyError) Error() string {
	return fmt.Sprintf("все слоты заняты: %s", strings.Join(e.Busy, ", "))
}

// RunStore — журнал запусков, переживающий перезапуск.
type RunStore interface {
	SaveRun(r *model.Run) error
}

// Uploader принимает запуск в очередь выгрузки. Вызов не блокирует.
type Uploader interface {
	EnqueueUpload(runID string) bool
}

// SubmitRequest — принятый и разобранный запрос запуска.
type SubmitRequest struct {
	// Devices — имена слотов; пустой список при AllDevices
	Devices    []string
	AllDevices bool

	Modes        []string
	ParamsByMode map[string]map[string]any

	TIAGain          int
	SamplingInterval float64

	ExperimentName string
	Subdir         string
	ClientDatetime string
	RunName        string
	FolderName     string
	MakePlot       bool
}

// SubmitResult — итог приёма: снимок запуска и пропущенные слоты.
type SubmitResult struct {
	Run *model.Run
	// BusySlots — запрошенные, но занятые слоты; работа на них не начата
	BusySlots []string
}

// runState — живое состояние запуска внутри шедулера.
type runState struct {
	run  *model.Run
	req  SubmitRequest
	info layout.RunStorageInfo

	// cancel закрывается один раз при запросе отмены
	cancel    chan struct{}
	cancelled bool
}

// Scheduler — движок запусков.
type Scheduler struct {
	registry *device.Registry
	layout   *layout.Manager
	store    RunStore
	plotter  device.Plotter
	uploader Uploader

	cancelGrace time.Duration
	log         *slog.Logger

	mu   sync.Mutex
	runs map[string]*runState

	wg sync.WaitGroup
}

// New создаёт шедулер. plotter и uploader могут быть nil.
func New(
	registry *device.Registry,
	lm *layout.Manager,
	store RunStore,
	plotter device.Plotter,
	uploader Uploader,
	cancelGrace time.Duration,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		registry:    registry,
		layout:      lm,
		store:       store,
		plotter:     plotter,
		uploader:    uploader,
		cancelGrace: cancelGrace,
		log:         log.With(slog.String("component", "scheduler")),
		runs:        make(map[string]*runState),
	}
}

// AdoptPersisted добавляет восстановленные из журнала запуски в память,
// чтобы статус и список видели историю прошлых сессий.
func (s *Scheduler) AdoptPersisted(runs []*model.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range runs {
		if _, exists := s.runs[r.RunID]; exists {
			continue
		}
		s.runs[r.RunID] = &runState{
			run:    r,
			cancel: make(chan struct{}),
		}
	}
}

// Wait блокирует до завершения всех воркеров. Используется при
// остановке сервиса.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func newRunID(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return strings.TrimSpace(requested)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return time.Now().UTC().Format("20060102T150405") + "_" + suffix
}

// Submit принимает запуск: проверяет запрос, закрепляет свободные
// слоты и запускает воркеры. Занятые слоты пропускаются и сообщаются
// в результате; запуск отклоняется, лишь когда свободных не осталось.
func (s *Scheduler) Submit(req SubmitRequest) (SubmitResult, error) {
	if len(req.Modes) == 0 {
		return SubmitResult{}, ErrNoModes
	}
	for _, m := range req.Modes {
		if _, ok := req.ParamsByMode[m]; !ok {
			return SubmitResult{}, &MissingParamsError{Mode: m}
		}
	}

	info, err := layout.BuildRunStorageInfo(req.ExperimentName, req.Subdir, req.FolderName, req.ClientDatetime)
	if err != nil {
		return SubmitResult{}, err
	}

	var slots []string
	if req.AllDevices {
		slots = s.registry.Names()
	} else {
		known := make(map[string]bool)
		for _, name := range s.registry.Names() {
			known[name] = true
		}
		var unknown []string
		for _, name := range req.Devices {
			if known[name] {
				slots = append(slots, name)
			} else {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			return SubmitResult{}, &UnknownSlotsError{Slots: unknown}
		}
		sort.Strings(slots)
	}
	if len(slots) == 0 {
		return SubmitResult{}, ErrNoDevices
	}

	runID := newRunID(req.RunName)

	s.mu.Lock()
	if _, exists := s.runs[runID]; exists {
		s.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrRunConflict, runID)
	}
	s.mu.Unlock()

	var claimed, busy []string
	for _, slot := range slots {
		if err := s.registry.Claim(slot, runID); err != nil {
			if errors.Is(err, device.ErrSlotBusy) {
				busy = append(busy, slot)
				busySlotsSkippedTotal.Inc()
				continue
			}
			s.releaseAll(claimed, runID)
			return SubmitResult{}, err
		}
		claimed = append(claimed, slot)
	}
	if len(claimed) == 0 {
		return SubmitResult{}, &AllSlotsBusyError{Busy: busy}
	}

	runDir, err := s.layout.CreateRunDir(runID, info)
	if err != nil {
		s.releaseAll(claimed, runID)
		return SubmitResult{}, err
	}

	groupID := strings.TrimSpace(req.FolderName)
	if groupID == "" {
		groupID = strings.TrimSpace(req.Subdir)
	}

	run := &model.Run{
		RunID:        runID,
		GroupID:      groupID,
		GroupFolder:  info.Subdir,
		Modes:        append([]string(nil), req.Modes...),
		ParamsByMode: req.ParamsByMode,
		RootDir:      runDir,
		StartedAt:    time.Now().UTC(),
	}
	for _, slot := range claimed {
		run.Jobs = append(run.Jobs, &model.SlotJob{Slot: slot, State: model.StateQueued})
	}

	st := &runState{
		run:    run,
		req:    req,
		info:   info,
		cancel: make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.runs[runID]; exists {
		s.mu.Unlock()
		s.releaseAll(claimed, runID)
		_ = s.layout.Forget(runID)
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrRunConflict, runID)
	}
	s.runs[runID] = st
	snapshot := run.Clone()
	s.mu.Unlock()

	if err := s.store.SaveRun(snapshot); err != nil {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
		s.releaseAll(claimed, runID)
		_ = s.layout.Forget(runID)
		return SubmitResult{}, fmt.Errorf("не удалось записать журнал запусков: %w", err)
	}

	jobsStartedTotal.Inc()
	s.log.Info("запуск принят",
		"run_id", runID,
		"modes", req.Modes,
		"slots", claimed,
		"busy", busy,
	)

	for _, job := range st.run.Jobs {
		s.wg.Add(1)
		go s.runSlot(st, job)
	}

	return SubmitResult{Run: snapshot, BusySlots: busy}, nil
}

func (s *Scheduler) releaseAll(slots []string, runID string) {
	for _, slot := range slots {
		s.registry.Release(slot, runID)
	}
}

// Status возвращает снимок запуска.
func (s *Scheduler) Status(runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return st.run.Clone(), nil
}

// BatchStatus возвращает снимки перечисленных запусков. Неизвестные
// run_id пропускаются.
func (s *Scheduler) BatchStatus(runIDs []string) map[string]*model.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.Run, len(runIDs))
	for _, id := range runIDs {
		if st, ok := s.runs[id]; ok {
			out[id] = st.run.Clone()
		}
	}
	return out
}

// List возвращает снимки запусков, отфильтрованные по состоянию
// ("active", "completed" или пусто) и идентификатору группы.
// Фильтр вычисляется по живому состоянию на момент вызова.
func (s *Scheduler) List(state, group string) []*model.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	groupNorm := strings.ToLower(strings.TrimSpace(group))
	var out []*model.Run
	for _, st := range s.runs {
		overview := st.run.OverviewStatus()
		switch state {
		case "active":
			if overview.IsTerminal() {
				continue
			}
		case "completed":
			if !overview.IsTerminal() {
				continue
			}
		}
		if groupNorm != "" {
			candidates := []string{st.run.GroupID, st.run.GroupFolder}
			match := false
			for _, c := range candidates {
				if strings.ToLower(strings.TrimSpace(c)) == groupNorm {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, st.run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	return out
}

// Cancel запрашивает отмену запуска. Слот-задачи из очереди отменяются
// и освобождаются немедленно; выполняемым посылается abort драйвера, их
// слоты освободит воркер, когда драйвер вернёт управление. Отмена
// завершённого запуска — no-op.
func (s *Scheduler) Cancel(runID string) (model.JobState, error) {
	s.mu.Lock()
	st, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	status := st.run.Status()
	if status.IsTerminal() {
		s.mu.Unlock()
		return status, nil
	}

	cancelsTotal.Inc()
	if !st.cancelled {
		st.cancelled = true
		close(st.cancel)
	}

	now := time.Now().UTC()
	var released []string
	for _, j := range st.run.Jobs {
		if j.State != model.StateQueued {
			continue
		}
		_ = j.Transition(model.StateCancelled)
		if j.StartedAt.IsZero() {
			j.StartedAt = now
		}
		j.EndedAt = now
		j.Message = "cancelled"
		released = append(released, j.Slot)
		slotJobsFinishedTotal.WithLabelValues(string(model.StateCancelled)).Inc()
	}
	if st.run.Status().IsTerminal() && st.run.EndedAt.IsZero() {
		st.run.EndedAt = now
	}
	snapshot := st.run.Clone()
	s.mu.Unlock()

	s.releaseAll(released, runID)
	if err := s.store.SaveRun(snapshot); err != nil {
		s.log.Error("не удалось записать журнал после отмены", "run_id", runID, "error", err)
	}

	s.log.Info("запрошена отмена запуска", "run_id", runID, "released_queued", len(released))
	return model.StateCancelled, nil
}

// persist пишет снимок запуска в журнал, не держа мьютекс шедулера.
func (s *Scheduler) persist(st *runState) {
	s.mu.Lock()
	snapshot := st.run.Clone()
	s.mu.Unlock()
	if err := s.store.SaveRun(snapshot); err != nil {
		s.log.Error("не удалось записать журнал запусков", "run_id", snapshot.RunID, "error", err)
	}
}
