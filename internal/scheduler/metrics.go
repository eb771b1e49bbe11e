package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики шедулера
var (
	// jobsStartedTotal — количество принятых запусков.
	jobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "box_jobs_started_total",
		Help: "Общее количество принятых запусков",
	})

	// slotJobsFinishedTotal — завершённые слот-задачи по состояниям.
	slotJobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "box_slot_jobs_finished_total",
		Help: "Завершённые слот-задачи по конечным состояниям",
	}, []string{"state"})

	// busySlotsSkippedTotal — слоты, пропущенные из-за занятости.
	busySlotsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "box_busy_slots_skipped_total",
		Help: "Количество слотов, пропущенных при приёме из-за занятости",
	})

	// modeDurationSeconds — длительность выполнения одного режима.
	modeDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "box_mode_duration_seconds",
		Help:    "Длительность выполнения одного режима в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"mode"})

	// cancelsTotal — количество запросов отмены.
	cancelsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "box_job_cancels_total",
		Help: "Общее количество запросов отмены запусков",
	})
)
