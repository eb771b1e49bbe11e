// jobs.go — обработчики жизненного цикла запусков: приём, статус,
// список, массовый статус, отмена.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/sevalab/boxd/internal/api/errors"
	"github.com/sevalab/boxd/internal/domain/model"
	"github.com/sevalab/boxd/internal/domain/progress"
	"github.com/sevalab/boxd/internal/scheduler"
	"github.com/sevalab/boxd/internal/storage/layout"
)

// deviceSelector принимает либо строку "all", либо список имён слотов.
type deviceSelector struct {
	All   bool
	Slots []string
}

func (d *deviceSelector) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if strings.EqualFold(s, "all") {
			d.All = true
			return nil
		}
		return fmt.Errorf(`поле devices: ожидали "all" или список слотов, получили %q`, s)
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("поле devices: %w", err)
	}
	d.Slots = list
	return nil
}

// jobRequest — тело POST /api/v1/jobs.
type jobRequest struct {
	Devices          deviceSelector            `json:"devices"`
	Modes            []string                  `json:"modes"`
	ParamsByMode     map[string]map[string]any `json:"params_by_mode"`
	TIAGain          int                       `json:"tia_gain"`
	SamplingInterval float64                   `json:"sampling_interval"`
	ExperimentName   string                    `json:"experiment_name"`
	Subdir           string                    `json:"subdir"`
	ClientDatetime   string                    `json:"client_datetime"`
	RunName          string                    `json:"run_name"`
	FolderName       string                    `json:"folder_name"`
	// MakePlot по умолчанию true
	MakePlot *bool `json:"make_plot"`
}

// slotStatus — состояние одной слот-задачи в ответе API.
type slotStatus struct {
	Slot      string   `json:"slot"`
	Status    string   `json:"status"`
	StartedAt string   `json:"started_at,omitempty"`
	EndedAt   string   `json:"ended_at,omitempty"`
	Message   string   `json:"message,omitempty"`
	Files     []string `json:"files"`
}

// jobStatus — снимок запуска в ответе API. Поле mode хранит текущий
// режим (совместимость со старыми клиентами).
type jobStatus struct {
	RunID          string       `json:"run_id"`
	Mode           string       `json:"mode"`
	Status         string       `json:"status"`
	StartedAt      string       `json:"started_at"`
	EndedAt        string       `json:"ended_at,omitempty"`
	Slots          []slotStatus `json:"slots"`
	ProgressPct    int          `json:"progress_pct"`
	RemainingS     *int         `json:"remaining_s"`
	Modes          []string     `json:"modes"`
	CurrentMode    string       `json:"current_mode,omitempty"`
	RemainingModes []string     `json:"remaining_modes"`
	// BusySlots — запрошенные, но занятые слоты (только в ответе приёма)
	BusySlots []string `json:"busy_slots,omitempty"`
}

// jobOverview — облегчённая запись списка запусков.
type jobOverview struct {
	RunID     string   `json:"run_id"`
	Mode      string   `json:"mode"`
	Status    string   `json:"status"`
	StartedAt string   `json:"started_at,omitempty"`
	EndedAt   string   `json:"ended_at,omitempty"`
	Devices   []string `json:"devices"`
}

// JobsHandler — обработчик endpoints запусков.
type JobsHandler struct {
	sched *scheduler.Scheduler
	log   *slog.Logger
}

// NewJobsHandler создаёт обработчик запусков.
func NewJobsHandler(sched *scheduler.Scheduler, log *slog.Logger) *JobsHandler {
	return &JobsHandler{
		sched: sched,
		log:   log.With(slog.String("component", "jobs_api")),
	}
}

func fmtOptTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// jobStatusFromRun строит снимок запуска для ответа API.
func jobStatusFromRun(r *model.Run, now time.Time) jobStatus {
	slots := make([]slotStatus, 0, len(r.Jobs))
	currentMode := ""
	minCompleted := len(r.Modes)
	for _, j := range r.Jobs {
		files := j.Files
		if files == nil {
			files = []string{}
		}
		slots = append(slots, slotStatus{
			Slot:      j.Slot,
			Status:    string(j.State),
			StartedAt: fmtOptTime(j.StartedAt),
			EndedAt:   fmtOptTime(j.EndedAt),
			Message:   j.Message,
			Files:     files,
		})
		if currentMode == "" && j.CurrentMode != "" {
			currentMode = j.CurrentMode
		}
		if !j.State.IsTerminal() && j.CompletedModes < minCompleted {
			minCompleted = j.CompletedModes
		}
	}

	remainingModes := []string{}
	if r.Status() == model.StateRunning && minCompleted < len(r.Modes) {
		remainingModes = append(remainingModes, r.Modes[minCompleted:]...)
		if currentMode != "" && len(remainingModes) > 0 && remainingModes[0] == currentMode {
			remainingModes = remainingModes[1:]
		}
	}

	mode := currentMode
	if mode == "" && len(r.Modes) > 0 {
		mode = r.Modes[0]
	}

	est := progress.RunEstimate(r, now)
	var remaining *int
	if est.RemainingKnown {
		v := est.RemainingS
		remaining = &v
	}

	return jobStatus{
		RunID:          r.RunID,
		Mode:           mode,
		Status:         string(r.Status()),
		StartedAt:      fmtOptTime(r.StartedAt),
		EndedAt:        fmtOptTime(r.EndedAt),
		Slots:          slots,
		ProgressPct:    est.Pct,
		RemainingS:     remaining,
		Modes:          r.Modes,
		CurrentMode:    currentMode,
		RemainingModes: remainingModes,
	}
}

// StartJob обрабатывает POST /api/v1/jobs.
// Занятые слоты не валят запрос целиком: они перечисляются в busy_slots,
// работа начинается на свободных.
func (h *JobsHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err))
		return
	}

	makePlot := true
	if req.MakePlot != nil {
		makePlot = *req.MakePlot
	}

	result, err := h.sched.Submit(scheduler.SubmitRequest{
		Devices:          req.Devices.Slots,
		AllDevices:       req.Devices.All,
		Modes:            req.Modes,
		ParamsByMode:     req.ParamsByMode,
		TIAGain:          req.TIAGain,
		SamplingInterval: req.SamplingInterval,
		ExperimentName:   req.ExperimentName,
		Subdir:           req.Subdir,
		ClientDatetime:   req.ClientDatetime,
		RunName:          req.RunName,
		FolderName:       req.FolderName,
		MakePlot:         makePlot,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.log.Info("запуск принят",
		"run_id", result.Run.RunID,
		"slots", len(result.Run.Jobs),
		"busy", len(result.BusySlots),
	)

	resp := jobStatusFromRun(result.Run, time.Now())
	resp.BusySlots = result.BusySlots
	writeJSON(w, http.StatusOK, resp)
}

// writeSubmitError переводит ошибки приёма в HTTP-ответы.
func (h *JobsHandler) writeSubmitError(w http.ResponseWriter, err error) {
	var missingParams *scheduler.MissingParamsError
	var unknownSlots *scheduler.UnknownSlotsError
	var allBusy *scheduler.AllSlotsBusyError
	var badSegment *layout.InvalidSegmentError

	switch {
	case errors.Is(err, scheduler.ErrNoModes):
		apierrors.ValidationError(w, "Список режимов пуст")
	case errors.As(err, &missingParams):
		apierrors.ValidationError(w, fmt.Sprintf("Нет параметров для режима %s", missingParams.Mode))
	case errors.As(err, &badSegment):
		apierrors.ValidationError(w, err.Error())
	case errors.As(err, &unknownSlots):
		apierrors.SlotUnknown(w, fmt.Sprintf("Неизвестные слоты: %s", strings.Join(unknownSlots.Slots, ", ")))
	case errors.Is(err, scheduler.ErrNoDevices):
		apierrors.BadRequest(w, "Не указано ни одного устройства")
	case errors.As(err, &allBusy):
		apierrors.SlotBusy(w, fmt.Sprintf("Все запрошенные слоты заняты: %s", strings.Join(allBusy.Busy, ", ")))
	case errors.Is(err, scheduler.ErrRunConflict):
		apierrors.RunConflict(w, "run_id уже используется")
	default:
		apierrors.InternalError(w, err.Error())
	}
}

// JobStatus обрабатывает GET /api/v1/jobs/{run_id}.
func (h *JobsHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := h.sched.Status(runID)
	if err != nil {
		apierrors.NotFound(w, fmt.Sprintf("Запуск %s не найден", runID))
		return
	}
	writeJSON(w, http.StatusOK, jobStatusFromRun(run, time.Now()))
}

// bulkStatusRequest — тело POST /api/v1/jobs/status.
type bulkStatusRequest struct {
	RunIDs []string `json:"run_ids"`
}

// BulkStatus обрабатывает POST /api/v1/jobs/status.
// Все запрошенные run_id должны быть известны, иначе 404.
func (h *JobsHandler) BulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err))
		return
	}

	runIDs := make([]string, 0, len(req.RunIDs))
	for _, id := range req.RunIDs {
		if id != "" {
			runIDs = append(runIDs, id)
		}
	}
	if len(runIDs) == 0 {
		apierrors.BadRequest(w, "Не указано ни одного run_id")
		return
	}

	found := h.sched.BatchStatus(runIDs)
	var missing []string
	for _, id := range runIDs {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		apierrors.NotFound(w, fmt.Sprintf("Неизвестные run_id: %s", strings.Join(missing, ", ")))
		return
	}

	now := time.Now()
	resp := make([]jobStatus, 0, len(runIDs))
	for _, id := range runIDs {
		resp = append(resp, jobStatusFromRun(found[id], now))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs обрабатывает GET /api/v1/jobs?state=&group_id=.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	switch state {
	case "", "active", "completed":
	case "incomplete":
		// псевдоним из старого API
		state = "active"
	default:
		apierrors.BadRequest(w, fmt.Sprintf("Недопустимое значение state: %q", state))
		return
	}
	group := r.URL.Query().Get("group_id")

	runs := h.sched.List(state, group)
	resp := make([]jobOverview, 0, len(runs))
	for _, run := range runs {
		devices := make([]string, 0, len(run.Jobs))
		for _, j := range run.Jobs {
			devices = append(devices, j.Slot)
		}
		mode := ""
		if len(run.Modes) > 0 {
			mode = run.Modes[0]
		}
		resp = append(resp, jobOverview{
			RunID:     run.RunID,
			Mode:      mode,
			Status:    string(run.OverviewStatus()),
			StartedAt: fmtOptTime(run.StartedAt),
			EndedAt:   fmtOptTime(run.EndedAt),
			Devices:   devices,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob обрабатывает POST /api/v1/jobs/{run_id}/cancel.
// Идемпотентен: повторная отмена возвращает текущий статус.
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	state, err := h.sched.Cancel(runID)
	if err != nil {
		apierrors.NotFound(w, fmt.Sprintf("Запуск %s не найден", runID))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(state),
	})
}
