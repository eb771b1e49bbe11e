package nas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Prometheus метрики NAS
var (
	// uploadsTotal — выгрузки по результатам.
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "box_nas_uploads_total",
		Help: "Выгрузки запусков на NAS по результатам",
	}, []string{"result"})

	// healthProbesTotal — проверки доступности по результатам.
	healthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "box_nas_health_probes_total",
		Help: "Проверки доступности NAS по результатам",
	}, []string{"result"})

	// uploadDurationSeconds — длительность выгрузки одного запуска.
	uploadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "box_nas_upload_duration_seconds",
		Help:    "Длительность выгрузки одного запуска в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)

// ErrInvalidSetup — в запросе настройки не хватает обязательных полей.
var ErrInvalidSetup = errors.New("host, share, username и password обязательны")

// SetupRequest — параметры настройки цели выгрузки.
type SetupRequest struct {
	Host          string
	Share         string
	Username      string
	Password      string
	BaseSubdir    string
	RetentionDays int
	Domain        string
}

// HealthState — результат последней проверки доступности.
type HealthState struct {
	OK          bool      `json:"ok"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message"`
}

// TransferState — состояние выгрузки одного запуска.
type TransferState string

const (
	TransferUploading TransferState = "uploading"
	TransferDone      TransferState = "done"
	TransferFailed    TransferState = "failed"
)

// TransferRecord — запись о выгрузке запуска.
type TransferRecord struct {
	RunID   string        `json:"run_id"`
	State   TransferState `json:"state"`
	Message string        `json:"message,omitempty"`
	At      time.Time     `json:"at"`
}

// RunResolver находит директории запусков. Реализуется менеджером
// раскладки.
type RunResolver interface {
	ResolveRunDir(runID string) (string, error)
	Root() string
}

// Manager — менеджер выгрузки и локальной очистки.
//
// Подключение и отключение ресурса сериализовано процессным мьютексом:
// одновременно выполняется не больше одной операции mount/umount.
type Manager struct {
	configPath   string
	credPath     string
	mountRoot    string
	probeTimeout time.Duration
	resolver     RunResolver
	mounter      Mounter
	log          *slog.Logger

	mntMu sync.Mutex

	uplMu     sync.Mutex
	uploading map[string]bool
	transfers map[string]TransferRecord

	healthMu    sync.Mutex
	healthState HealthState
	healthGroup singleflight.Group

	cron *cron.Cron
}

// NewManager создаёт менеджер NAS.
func NewManager(
	configPath, credPath, mountRoot string,
	probeTimeout time.Duration,
	resolver RunResolver,
	mounter Mounter,
	log *slog.Logger,
) *Manager {
	return &Manager{
		configPath:   configPath,
		credPath:     credPath,
		mountRoot:    mountRoot,
		probeTimeout: probeTimeout,
		resolver:     resolver,
		mounter:      mounter,
		log:          log.With(slog.String("component", "nas")),
		uploading:    make(map[string]bool),
		transfers:    make(map[string]TransferRecord),
		healthState:  HealthState{Message: "not checked"},
	}
}

// Setup записывает учётные данные (0600), сохраняет конфигурацию без
// пароля и проверяет доступность ресурса с созданием базовой папки.
func (m *Manager) Setup(req SetupRequest) (bool, string, error) {
	if req.Host == "" || req.Share == "" || req.Username == "" || req.Password == "" {
		return false, "", ErrInvalidSetup
	}
	if err := WriteCredentials(m.credPath, req.Username, req.Password, req.Domain); err != nil {
		return false, "", fmt.Errorf("не удалось записать учётные данные: %w", err)
	}
	retention := req.RetentionDays
	if retention <= 0 {
		retention = 14
	}
	cfg := &Config{
		Host:          req.Host,
		Share:         req.Share,
		Username:      req.Username,
		CredPath:      m.credPath,
		BaseSubdir:    strings.Trim(req.BaseSubdir, "/"),
		MountRoot:     m.mountRoot,
		RetentionDays: retention,
		CIFSVers:      "3.0",
		Domain:        req.Domain,
	}
	if err := SaveConfig(m.configPath, cfg); err != nil {
		return false, "", fmt.Errorf("не удалось сохранить конфигурацию: %w", err)
	}

	ok, msg := m.probe(cfg, true)
	if ok && msg == "" {
		msg = "SMB mount OK"
	}
	return ok, msg, nil
}

// Health проверяет доступность ресурса read-only подключением.
// Конкурентные вызовы схлопываются в одну проверку.
func (m *Manager) Health() HealthState {
	v, _, _ := m.healthGroup.Do("health", func() (any, error) {
		cfg, err := LoadConfig(m.configPath)
		if err != nil || cfg == nil {
			msg := "not configured"
			if err != nil {
				msg = err.Error()
			}
			return m.setHealth(false, msg), nil
		}
		ok, msg := m.probe(cfg, false)
		return m.setHealth(ok, msg), nil
	})
	return v.(HealthState)
}

func (m *Manager) setHealth(ok bool, msg string) HealthState {
	result := "ok"
	if !ok {
		result = "fail"
	}
	healthProbesTotal.WithLabelValues(result).Inc()
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	m.healthState = HealthState{OK: ok, LastChecked: time.Now().UTC(), Message: msg}
	return m.healthState
}

// LastHealth возвращает результат последней проверки без новой пробы.
func (m *Manager) LastHealth() HealthState {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	return m.healthState
}

// mount подключает ресурс под mntMu: сериализуются только сами
// команды mount/umount, не работа с подключённым деревом.
func (m *Manager) mount(ctx context.Context, cfg *Config, mnt string, readOnly bool) error {
	m.mntMu.Lock()
	defer m.mntMu.Unlock()
	return m.mounter.Mount(ctx, cfg, mnt, readOnly)
}

func (m *Manager) unmount(mnt, what string) {
	m.mntMu.Lock()
	defer m.mntMu.Unlock()
	if err := m.mounter.Unmount(mnt); err != nil {
		m.log.Warn("не удалось отмонтировать "+what, "error", err)
	}
}

// probe подключает ресурс read-only и проверяет наличие базовой папки.
// Подключение ограничено probeTimeout, зависание невозможно.
func (m *Manager) probe(cfg *Config, ensureBase bool) (bool, string) {
	mnt := filepath.Join(m.mountRoot, "health")

	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()
	if err := m.mount(ctx, cfg, mnt, true); err != nil {
		return false, fmt.Sprintf("probe error: %v", err)
	}
	defer m.unmount(mnt, "пробную точку")

	base := m.destBase(cfg, mnt)
	if ensureBase {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return false, fmt.Sprintf("probe error: %v", err)
		}
	}
	if st, err := os.Stat(base); err != nil || !st.IsDir() {
		return false, fmt.Sprintf("base path not present: %s", base)
	}
	return true, "ok"
}

func (m *Manager) destBase(cfg *Config, mountPoint string) string {
	if cfg.BaseSubdir == "" {
		return mountPoint
	}
	return filepath.Join(mountPoint, cfg.BaseSubdir)
}

// EnqueueUpload ставит запуск в очередь выгрузки. Возвращает false,
// если выгрузка этого запуска уже идёт. Не блокирует вызывающего.
func (m *Manager) EnqueueUpload(runID string) bool {
	m.uplMu.Lock()
	if m.uploading[runID] {
		m.uplMu.Unlock()
		return false
	}
	m.uploading[runID] = true
	m.transfers[runID] = TransferRecord{RunID: runID, State: TransferUploading, At: time.Now().UTC()}
	m.uplMu.Unlock()

	go m.upload(runID)
	return true
}

// Transfer возвращает запись о выгрузке запуска.
func (m *Manager) Transfer(runID string) (TransferRecord, bool) {
	m.uplMu.Lock()
	defer m.uplMu.Unlock()
	rec, ok := m.transfers[runID]
	return rec, ok
}

// upload копирует дерево запуска на ресурс и при полном успехе пишет
// маркер выгрузки. При любом сбое маркер не создаётся.
func (m *Manager) upload(runID string) {
	started := time.Now()
	fail := func(msg string) {
		uploadsTotal.WithLabelValues("fail").Inc()
		m.log.Error("выгрузка не удалась", "run_id", runID, "reason", msg)
		m.finishTransfer(runID, TransferFailed, msg)
	}

	cfg, err := LoadConfig(m.configPath)
	if err != nil {
		fail(err.Error())
		return
	}
	if cfg == nil {
		fail("SMB не настроен")
		return
	}

	runDir, err := m.resolver.ResolveRunDir(runID)
	if err != nil {
		fail(err.Error())
		return
	}

	mnt := filepath.Join(m.mountRoot, "upload")

	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	err = m.mount(ctx, cfg, mnt, false)
	cancel()
	if err != nil {
		fail(err.Error())
		return
	}
	defer m.unmount(mnt, "точку выгрузки")

	rel, err := filepath.Rel(m.resolver.Root(), runDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = runID
	}
	dest := filepath.Join(m.destBase(cfg, mnt), rel)

	if err := copyTree(runDir, dest); err != nil {
		fail(fmt.Sprintf("copy error: %v", err))
		return
	}

	localCount, err := countFiles(runDir)
	if err != nil {
		fail(fmt.Sprintf("verify error: %v", err))
		return
	}
	remoteCount, err := countFiles(dest)
	if err != nil {
		fail(fmt.Sprintf("verify error: %v", err))
		return
	}
	if remoteCount < localCount {
		fail(fmt.Sprintf("verify mismatch local=%d remote=%d", localCount, remoteCount))
		return
	}

	if err := writeMarker(runDir); err != nil {
		fail(fmt.Sprintf("marker error: %v", err))
		return
	}

	uploadsTotal.WithLabelValues("ok").Inc()
	uploadDurationSeconds.Observe(time.Since(started).Seconds())
	m.log.Info("выгрузка завершена", "run_id", runID, "dest", dest, "files", localCount)
	m.finishTransfer(runID, TransferDone, "")
}

func (m *Manager) finishTransfer(runID string, state TransferState, msg string) {
	m.uplMu.Lock()
	defer m.uplMu.Unlock()
	delete(m.uploading, runID)
	m.transfers[runID] = TransferRecord{RunID: runID, State: state, Message: msg, At: time.Now().UTC()}
}

// writeMarker атомарно создаёт маркер выгрузки: частично записанный
// маркер невозможен.
func writeMarker(runDir string) error {
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	tmp := filepath.Join(runDir, "."+MarkerName+".tmp")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(runDir, MarkerName)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyTree копирует дерево файлов src в dst, создавая директории.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func countFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}

// StartBackground запускает первичную проверку доступности и
// периодическую очистку по cron-расписанию.
func (m *Manager) StartBackground(schedule string) error {
	go m.initialHealth()

	m.cron = cron.New()
	_, err := m.cron.AddFunc(schedule, func() {
		if _, err := m.RetentionOnce(); err != nil {
			m.log.Warn("проход очистки завершился ошибкой", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание очистки %q: %w", schedule, err)
	}
	m.cron.Start()
	m.log.Info("фоновые задачи NAS запущены", "retention_schedule", schedule)
	return nil
}

// Stop останавливает фоновые задачи и дожидается завершения текущего
// прохода очистки.
func (m *Manager) Stop() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}

// initialHealth — серия проб при старте: до трёх попыток с паузой.
func (m *Manager) initialHealth() {
	cfg, err := LoadConfig(m.configPath)
	if err != nil || cfg == nil {
		return
	}
	for i := 0; i < 3; i++ {
		ok, msg := m.probe(cfg, false)
		m.setHealth(ok, msg)
		if ok {
			return
		}
		time.Sleep(5 * time.Second)
	}
}
