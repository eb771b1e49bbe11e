// Пакет progress — оценка прогресса выполнения слот-задач.
//
// Чистые функции без разделяемого состояния: безопасно вызывать
// конкурентно из любого числа запросов статуса.
package progress

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/sevalab/boxd/internal/domain/model"
)

// setupOverhead — накладные расходы на подготовку измерения, сек.
const setupOverhead = 1.0

// asFloat приводит динамическое значение параметра к float64.
// NaN и бесконечности отбрасываются.
func asFloat(v any) (float64, bool) {
	var num float64
	switch x := v.(type) {
	case float64:
		num = x
	case float32:
		num = float64(x)
	case int:
		num = float64(x)
	case int64:
		num = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		num = f
	default:
		return 0, false
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, false
	}
	return num, true
}

func asPositiveFloat(v any) (float64, bool) {
	num, ok := asFloat(v)
	if !ok || num <= 0 {
		return 0, false
	}
	return num, true
}

func asPositiveInt(v any) (int, bool) {
	num, ok := asPositiveFloat(v)
	if !ok {
		return 0, false
	}
	n := int(num)
	if n <= 0 {
		return 0, false
	}
	return n, true
}

func listLen(v any) (int, bool) {
	l, ok := v.([]any)
	if !ok {
		return 0, false
	}
	return len(l), true
}

// EstimateModeDuration оценивает длительность одного режима в секундах
// по его параметрам. Возвращает false, если режим неизвестен или
// параметров недостаточно для оценки.
func EstimateModeDuration(mode string, params map[string]any) (float64, bool) {
	if mode == "" || len(params) == 0 {
		return 0, false
	}
	switch strings.ToUpper(mode) {
	case "CV":
		scanRate, okSR := asPositiveFloat(params["scan_rate"])
		cycles, okC := asPositiveFloat(params["cycles"])
		start, okS := asFloat(params["start"])
		vertex1, okV1 := asFloat(params["vertex1"])
		vertex2, okV2 := asFloat(params["vertex2"])
		end, okE := asFloat(params["end"])
		if !okSR || !okC || !okS || !okV1 || !okV2 || !okE {
			return 0, false
		}
		sweep := math.Abs(vertex1-start) + math.Abs(vertex2-vertex1) + math.Abs(end-vertex2)
		if sweep <= 0 {
			return 0, false
		}
		return (sweep/scanRate)*math.Max(cycles, 1) + setupOverhead, true

	case "CA", "CP", "OCP":
		duration, ok := asPositiveFloat(params["duration"])
		if !ok {
			return 0, false
		}
		return duration + setupOverhead, true

	case "LSV":
		start, okS := asFloat(params["start"])
		end, okE := asFloat(params["end"])
		scanRate, okSR := asPositiveFloat(params["scan_rate"])
		if !okS || !okE || !okSR {
			return 0, false
		}
		return math.Abs(end-start)/scanRate + setupOverhead, true

	case "PSTEP":
		steps, okP := listLen(params["potentials"])
		stepDuration, okD := asPositiveFloat(params["step_duration"])
		if !okP || !okD || steps <= 0 {
			return 0, false
		}
		return float64(steps)*stepDuration + setupOverhead, true

	case "GS":
		numSteps, okN := asPositiveInt(params["num_steps"])
		stepDuration, okD := asPositiveFloat(params["step_duration"])
		if !okN || !okD {
			return 0, false
		}
		return float64(numSteps)*stepDuration + setupOverhead, true

	case "GCV":
		numSteps, okN := asPositiveInt(params["num_steps"])
		stepDuration, okD := asPositiveFloat(params["step_duration"])
		cycles, okC := asPositiveInt(params["cycles"])
		if !okN || !okD || !okC {
			return 0, false
		}
		return float64(numSteps)*stepDuration*float64(cycles) + setupOverhead, true

	case "STEPSEQ":
		steps, okC := listLen(params["currents"])
		stepDuration, okD := asPositiveFloat(params["step_duration"])
		if !okC || !okD || steps <= 0 {
			return 0, false
		}
		return float64(steps)*stepDuration + setupOverhead, true

	case "DC":
		duration, ok := asPositiveFloat(params["duration_s"])
		if !ok {
			return 0, false
		}
		return duration + setupOverhead, true

	case "EIS":
		return estimateEIS(params)
	}
	return 0, false
}

// estimateEIS суммирует длительности по сетке частот: cycles_per_freq
// периодов на каждой частоте, сетка логарифмическая или линейная.
func estimateEIS(params map[string]any) (float64, bool) {
	startFreq, okS := asPositiveFloat(params["start_freq"])
	endFreq, okE := asPositiveFloat(params["end_freq"])
	pointsPerDecade, okP := asPositiveFloat(params["points_per_decade"])
	if !okS || !okE || !okP {
		return 0, false
	}
	cyclesPerFreq, ok := asPositiveFloat(params["cycles_per_freq"])
	if !ok {
		cyclesPerFreq = 3.0
	}
	spacing := "log"
	if s, ok := params["spacing"].(string); ok && strings.TrimSpace(s) != "" {
		spacing = strings.ToLower(strings.TrimSpace(s))
	}

	var freqs []float64
	if math.Abs(startFreq-endFreq) <= 1e-9*math.Max(math.Abs(startFreq), math.Abs(endFreq)) {
		freqs = []float64{startFreq}
	} else {
		decades := math.Abs(math.Log10(endFreq) - math.Log10(startFreq))
		points := int(math.Round(decades*pointsPerDecade)) + 1
		if points < 2 {
			points = 2
		}
		freqs = make([]float64, points)
		if spacing == "lin" {
			step := (endFreq - startFreq) / float64(points-1)
			for i := range freqs {
				freqs[i] = startFreq + float64(i)*step
			}
		} else {
			logStart := math.Log10(startFreq)
			stepLog := (math.Log10(endFreq) - logStart) / float64(points-1)
			for i := range freqs {
				freqs[i] = math.Pow(10, logStart+float64(i)*stepLog)
			}
		}
	}

	total := 0.0
	for _, f := range freqs {
		if f > 0 {
			total += cyclesPerFreq / f
		}
	}
	if total <= 0 {
		return 0, false
	}
	return total + setupOverhead, true
}

// TotalEstimate суммирует оценки всех режимов последовательности.
// Возвращает false, если хотя бы один режим не поддаётся оценке.
func TotalEstimate(modes []string, paramsByMode map[string]map[string]any) (float64, bool) {
	total := 0.0
	for _, m := range modes {
		d, ok := EstimateModeDuration(m, paramsByMode[m])
		if !ok {
			return 0, false
		}
		total += d
	}
	if total <= 0 {
		return 0, false
	}
	return total, true
}

// Estimate — прогресс одной слот-задачи.
type Estimate struct {
	// Pct — процент выполнения, 0..100
	Pct int
	// RemainingS — оценка оставшегося времени, сек
	RemainingS int
	// RemainingKnown — false, когда длительность оценить нельзя
	RemainingKnown bool
}

// SlotEstimate вычисляет прогресс слот-задачи по последовательности
// режимов запуска. Во время выполнения процент ограничен 99,
// ровно 100 достигается только в состоянии done.
func SlotEstimate(j *model.SlotJob, modes []string, paramsByMode map[string]map[string]any, now time.Time) Estimate {
	switch j.State {
	case model.StateDone:
		return Estimate{Pct: 100, RemainingS: 0, RemainingKnown: true}
	case model.StateFailed, model.StateCancelled:
		// прерванная задача: фиксируем достигнутый процент, остатка нет
		at := j.EndedAt
		if at.IsZero() {
			at = now
		}
		e := runningEstimate(j, modes, paramsByMode, at)
		e.RemainingS = 0
		e.RemainingKnown = true
		return e
	case model.StateQueued:
		total, ok := TotalEstimate(modes, paramsByMode)
		if !ok {
			return Estimate{}
		}
		return Estimate{Pct: 0, RemainingS: int(math.Ceil(total)), RemainingKnown: true}
	default:
		return runningEstimate(j, modes, paramsByMode, now)
	}
}

func runningEstimate(j *model.SlotJob, modes []string, paramsByMode map[string]map[string]any, now time.Time) Estimate {
	total, ok := TotalEstimate(modes, paramsByMode)
	if !ok {
		return Estimate{}
	}
	elapsed := 0.0
	for i := 0; i < j.CompletedModes && i < len(modes); i++ {
		d, _ := EstimateModeDuration(modes[i], paramsByMode[modes[i]])
		elapsed += d
	}
	if !j.ModeStartedAt.IsZero() {
		inMode := now.Sub(j.ModeStartedAt).Seconds()
		if inMode > 0 {
			// затянувшийся режим не учитывается сверх своей оценки:
			// иначе на границе режимов накопленное время уменьшилось бы
			// и процент пошёл бы назад
			if j.CompletedModes < len(modes) {
				cur := modes[j.CompletedModes]
				if d, ok := EstimateModeDuration(cur, paramsByMode[cur]); ok && inMode > d {
					inMode = d
				}
			}
			elapsed += inMode
		}
	}
	pct := int(math.Round(math.Min(1.0, elapsed/total) * 100))
	if pct >= 100 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	remaining := int(math.Ceil(total - elapsed))
	if remaining < 0 {
		remaining = 0
	}
	return Estimate{Pct: pct, RemainingS: remaining, RemainingKnown: true}
}

// RunEstimate агрегирует прогресс запуска: средний процент по слотам
// и максимум оставшегося времени. Пока запуск не завершён целиком,
// средний процент ограничен 99.
func RunEstimate(r *model.Run, now time.Time) Estimate {
	if len(r.Jobs) == 0 {
		return Estimate{}
	}
	sum := 0
	maxRemaining := 0
	remainingKnown := true
	anyActive := false
	for _, j := range r.Jobs {
		e := SlotEstimate(j, r.Modes, r.ParamsByMode, now)
		sum += e.Pct
		if !e.RemainingKnown {
			remainingKnown = false
		} else if e.RemainingS > maxRemaining {
			maxRemaining = e.RemainingS
		}
		if !j.State.IsTerminal() {
			anyActive = true
		}
	}
	pct := int(math.Round(float64(sum) / float64(len(r.Jobs))))
	if anyActive && pct >= 100 {
		pct = 99
	}
	if !anyActive {
		maxRemaining = 0
		remainingKnown = true
	}
	return Estimate{Pct: pct, RemainingS: maxRemaining, RemainingKnown: remainingKnown}
}
