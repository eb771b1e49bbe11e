package nas

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики очистки
var (
	// retentionPassesTotal — количество проходов очистки.
	retentionPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "box_retention_passes_total",
		Help: "Общее количество проходов локальной очистки",
	})

	// retentionDeletedTotal — удалённые директории запусков.
	retentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "box_retention_runs_deleted_total",
		Help: "Общее количество удалённых очисткой директорий запусков",
	})

	// retentionDurationSeconds — длительность прохода очистки.
	retentionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "box_retention_duration_seconds",
		Help:    "Длительность прохода локальной очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// RetentionOnce выполняет один проход локальной очистки: удаляет
// директории запусков с маркером выгрузки старше retention_days.
// Директории без маркера не удаляются никогда, независимо от
// возраста. Ошибка одной директории не прерывает проход.
func (m *Manager) RetentionOnce() (int, error) {
	cfg, err := LoadConfig(m.configPath)
	if err != nil {
		return 0, err
	}
	if cfg == nil {
		return 0, nil
	}

	started := time.Now()
	retentionPassesTotal.Inc()
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)

	deleted := 0
	root := m.resolver.Root()
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// директория могла исчезнуть во время обхода
			m.log.Warn("очистка: ошибка обхода", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		marker := filepath.Join(path, MarkerName)
		st, err := os.Stat(marker)
		if err != nil {
			return nil
		}
		age := st.ModTime().UTC()
		if age.IsZero() {
			if dst, derr := os.Stat(path); derr == nil {
				age = dst.ModTime().UTC()
			}
		}
		if age.After(cutoff) {
			return filepath.SkipDir
		}
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("очистка: не удалось удалить запуск", "path", path, "error", err)
			return filepath.SkipDir
		}
		deleted++
		retentionDeletedTotal.Inc()
		m.log.Info("очистка: запуск удалён локально", "path", path)
		return filepath.SkipDir
	})

	retentionDurationSeconds.Observe(time.Since(started).Seconds())
	m.log.Info("проход очистки завершён", "deleted", deleted, "cutoff", cutoff)
	return deleted, err
}
