package scheduler

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/sevalab/boxd/internal/device"
	"github.com/sevalab/boxd/internal/domain/model"
	"github.com/sevalab/boxd/internal/storage/layout"
)

// runSlot — воркер одной слот-задачи: выполняет режимы строго
// последовательно, пишет результаты через менеджер раскладки и
// освобождает слот по завершении.
func (s *Scheduler) runSlot(st *runState, job *model.SlotJob) {
	defer s.wg.Done()

	s.mu.Lock()
	// задача могла быть отменена из очереди до старта воркера,
	// тогда слот уже освобождён вызовом Cancel
	if job.State != model.StateQueued {
		s.mu.Unlock()
		return
	}
	_ = job.Transition(model.StateRunning)
	job.StartedAt = time.Now().UTC()
	s.mu.Unlock()
	s.persist(st)

	driver, ok := s.registry.Driver(job.Slot)
	if !ok {
		s.finishJob(st, job, model.StateFailed, "драйвер слота недоступен")
		return
	}

	outcome := model.StateDone
	message := ""

	for idx, mode := range st.run.Modes {
		select {
		case <-st.cancel:
			outcome = model.StateCancelled
		default:
		}
		if outcome == model.StateCancelled {
			break
		}

		s.mu.Lock()
		job.CurrentMode = mode
		job.ModeStartedAt = time.Now().UTC()
		s.mu.Unlock()
		s.persist(st)

		modeDir, err := s.layout.ModeDir(st.run.RootDir, job.Slot, mode)
		if err != nil {
			outcome = model.StateFailed
			message = err.Error()
			break
		}

		res, cancelled := s.executeMode(st, job, driver, mode)
		if cancelled {
			outcome = model.StateCancelled
			break
		}
		if res.err != nil {
			outcome = model.StateFailed
			message = res.err.Error()
			break
		}

		base := layout.FileBase(st.info, job.Slot, mode)
		csvPath := filepath.Join(modeDir, base+".csv")
		if err := s.layout.WriteCSV(csvPath, res.samples); err != nil {
			outcome = model.StateFailed
			message = err.Error()
			break
		}
		if st.req.MakePlot && s.plotter != nil {
			pngPath := filepath.Join(modeDir, base+".png")
			if err := s.plotter.Render(mode, st.run.ParamsByMode[mode], csvPath, pngPath); err != nil {
				// отсутствие графика не портит измерение
				s.log.Warn("не удалось построить график",
					"run_id", st.run.RunID, "slot", job.Slot, "mode", mode, "error", err)
			}
		}

		files, err := s.layout.DirFiles(modeDir, st.run.RootDir)
		if err != nil {
			s.log.Warn("не удалось собрать файлы режима",
				"run_id", st.run.RunID, "slot", job.Slot, "mode", mode, "error", err)
		}

		s.mu.Lock()
		job.Files = mergeFiles(job.Files, files)
		job.CompletedModes = idx + 1
		s.mu.Unlock()
		s.persist(st)
	}

	s.finishJob(st, job, outcome, message)
}

type execResult struct {
	samples []device.Sample
	err     error
}

// executeMode выполняет один режим в дочерней горутине, чтобы запрос
// отмены мог прервать ожидание. При отмене драйверу посылается abort;
// управление возвращается только после возврата Execute, но задача
// помечается отменённой уже по истечении льготного периода.
func (s *Scheduler) executeMode(st *runState, job *model.SlotJob, driver device.Driver, mode string) (execResult, bool) {
	ctx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()

	done := make(chan execResult, 1)
	started := time.Now()
	go func() {
		samples, err := driver.Execute(ctx, device.ExecuteRequest{
			Mode:             mode,
			Params:           st.run.ParamsByMode[mode],
			TIAGain:          st.req.TIAGain,
			SamplingInterval: st.req.SamplingInterval,
		})
		done <- execResult{samples: samples, err: err}
	}()

	var res execResult
	cancelled := false
	select {
	case res = <-done:
	case <-st.cancel:
		cancelled = true
		if err := driver.Abort(); err != nil {
			s.log.Warn("abort драйвера завершился ошибкой",
				"run_id", st.run.RunID, "slot", job.Slot, "error", err)
		}
		cancelExec()
		select {
		case res = <-done:
		case <-time.After(s.cancelGrace):
			// драйвер не уложился в льготный период: показываем отмену
			// в статусе, но слот освободится только после его возврата
			s.mu.Lock()
			if job.State == model.StateRunning {
				_ = job.Transition(model.StateCancelled)
				job.EndedAt = time.Now().UTC()
				job.Message = "cancelled"
				job.CurrentMode = ""
			}
			s.mu.Unlock()
			s.persist(st)
			res = <-done
		}
	}
	if !cancelled {
		modeDurationSeconds.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}
	return res, cancelled
}

// finishJob переводит слот-задачу в конечное состояние, освобождает
// слот и при полном успехе запуска отдаёт его в очередь выгрузки.
func (s *Scheduler) finishJob(st *runState, job *model.SlotJob, state model.JobState, message string) {
	now := time.Now().UTC()

	s.mu.Lock()
	if !job.State.IsTerminal() {
		_ = job.Transition(state)
		job.EndedAt = now
		switch state {
		case model.StateCancelled:
			job.Message = "cancelled"
		default:
			job.Message = message
		}
	} else {
		state = job.State
	}
	job.CurrentMode = ""
	runStatus := st.run.Status()
	if runStatus.IsTerminal() && st.run.EndedAt.IsZero() {
		st.run.EndedAt = now
	}
	s.mu.Unlock()

	s.registry.Release(job.Slot, st.run.RunID)
	slotJobsFinishedTotal.WithLabelValues(string(state)).Inc()
	s.persist(st)

	s.log.Info("слот-задача завершена",
		"run_id", st.run.RunID,
		"slot", job.Slot,
		"state", string(state),
		"message", message,
	)

	if runStatus == model.StateDone && s.uploader != nil {
		// fire-and-forget: очередь выгрузки не блокирует воркер
		s.uploader.EnqueueUpload(st.run.RunID)
	}
}

func mergeFiles(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	var out []string
	for _, f := range existing {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range add {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
