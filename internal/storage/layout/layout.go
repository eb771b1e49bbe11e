// Пакет layout — раскладка директорий и файлов результатов запусков.
//
// Схема: root/experiment/[subdir/]timestamp/Wells/slot/mode/,
// имя файла — experiment[_subdir]_timestamp_slot_mode.csv.
package layout

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sevalab/boxd/internal/device"
)

var (
	// ErrRunNotFound — запуск не найден в индексе и на диске.
	ErrRunNotFound = errors.New("запуск не найден")
	// ErrFileNotFound — файл внутри запуска не найден.
	ErrFileNotFound = errors.New("файл не найден")
	// ErrPathTraversal — путь выходит за пределы директории запуска.
	ErrPathTraversal = errors.New("путь выходит за пределы запуска")
)

// Index — долговечное отображение run_id → относительный путь.
type Index interface {
	Record(runID, relPath string) error
	Forget(runID string) error
	Resolve(runID string) (string, bool, error)
}

// RunStorageInfo — вычисленные сегменты раскладки одного запуска.
type RunStorageInfo struct {
	Experiment     string
	Subdir         string
	TimestampDir   string
	TimestampName  string
	FilenamePrefix string
}

// BuildRunStorageInfo вычисляет сегменты раскладки из сырых полей
// запроса. folderName используется как подпапка, когда subdir пуст.
func BuildRunStorageInfo(experiment, subdir, folderName, clientDatetime string) (RunStorageInfo, error) {
	subdirSource := subdir
	if strings.TrimSpace(subdirSource) == "" {
		subdirSource = folderName
	}

	expSeg, err := SanitizeSegment(experiment, "experiment_name")
	if err != nil {
		return RunStorageInfo{}, err
	}
	subSeg, err := SanitizeOptional(subdirSource, "subdir")
	if err != nil {
		return RunStorageInfo{}, err
	}
	tsSeg, err := SanitizeClientDatetime(clientDatetime)
	if err != nil {
		return RunStorageInfo{}, err
	}
	tsName := strings.ReplaceAll(tsSeg, "T", "_")

	parts := []string{expSeg}
	if subSeg != "" {
		parts = append(parts, subSeg)
	}
	parts = append(parts, tsName)

	return RunStorageInfo{
		Experiment:     expSeg,
		Subdir:         subSeg,
		TimestampDir:   tsSeg,
		TimestampName:  tsName,
		FilenamePrefix: strings.Join(parts, "_"),
	}, nil
}

// Manager управляет файловой раскладкой под корнем результатов.
type Manager struct {
	root  string
	index Index
	log   *slog.Logger
}

// NewManager создаёт менеджер раскладки. Корень создаётся при
// необходимости.
func NewManager(root string, index Index, log *slog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("некорректный корень результатов: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать корень результатов: %w", err)
	}
	return &Manager{root: abs, index: index, log: log}, nil
}

// Root возвращает абсолютный путь корня результатов.
func (m *Manager) Root() string {
	return m.root
}

// CreateRunDir создаёт директорию запуска и записывает её в индекс.
func (m *Manager) CreateRunDir(runID string, info RunStorageInfo) (string, error) {
	parts := []string{info.Experiment}
	if info.Subdir != "" {
		parts = append(parts, info.Subdir)
	}
	parts = append(parts, info.TimestampDir)
	rel := filepath.Join(parts...)
	dir := filepath.Join(m.root, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("не удалось создать директорию запуска: %w", err)
	}
	if err := m.index.Record(runID, filepath.ToSlash(rel)); err != nil {
		return "", fmt.Errorf("не удалось записать индекс запусков: %w", err)
	}
	m.log.Info("создана директория запуска", "run_id", runID, "dir", rel)
	return dir, nil
}

// ResolveRunDir возвращает директорию запуска. Порядок поиска:
// индекс, затем root/runID для директорий, созданных вне индекса.
func (m *Manager) ResolveRunDir(runID string) (string, error) {
	rel, ok, err := m.index.Resolve(runID)
	if err != nil {
		return "", err
	}
	if ok {
		dir := filepath.Join(m.root, filepath.FromSlash(rel))
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir, nil
		}
	}
	fallback := filepath.Join(m.root, runID)
	if st, err := os.Stat(fallback); err == nil && st.IsDir() {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// Forget удаляет запуск из индекса.
func (m *Manager) Forget(runID string) error {
	return m.index.Forget(runID)
}

// ModeDir создаёт и возвращает директорию режима внутри запуска:
// runDir/Wells/slot/mode.
func (m *Manager) ModeDir(runDir, slot, mode string) (string, error) {
	slotSeg, err := SanitizeSegment(slot, "slot")
	if err != nil {
		return "", err
	}
	modeSeg, err := SanitizeSegment(mode, "mode")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(runDir, "Wells", slotSeg, modeSeg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("не удалось создать директорию режима: %w", err)
	}
	return dir, nil
}

// FileBase возвращает базовое имя файла измерения без расширения.
func FileBase(info RunStorageInfo, slot, mode string) string {
	slotSeg, _ := SanitizeSegment(slot, "slot")
	modeSeg, _ := SanitizeSegment(mode, "mode")
	return fmt.Sprintf("%s_%s_%s", info.FilenamePrefix, slotSeg, modeSeg)
}

// WriteCSV атомарно записывает точки измерения: сначала во временный
// файл рядом с целевым, затем fsync и переименование.
func (m *Manager) WriteCSV(path string, samples []device.Sample) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".csv-*.tmp")
	if err != nil {
		return fmt.Errorf("не удалось создать временный файл: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write([]string{"time_s", "voltage_v", "current_a"}); err != nil {
		tmp.Close()
		return err
	}
	for _, s := range samples {
		rec := []string{
			strconv.FormatFloat(s.TimeS, 'g', -1, 64),
			strconv.FormatFloat(s.PotentialV, 'g', -1, 64),
			strconv.FormatFloat(s.CurrentA, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync временного файла: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("не удалось переименовать временный файл: %w", err)
	}
	return nil
}

// ListFiles возвращает отсортированные относительные пути всех файлов
// запуска. Абсолютные пути наружу не отдаются.
func (m *Manager) ListFiles(runDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(runDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// DirFiles возвращает относительные (к runDir) пути файлов в одной
// директории режима.
func (m *Manager) DirFiles(dir, runDir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rel, err := filepath.Rel(runDir, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	return files, nil
}

// ResolveFile разрешает относительный путь внутри запуска и
// защищает от выхода за его пределы через ../ и символьные ссылки.
func (m *Manager) ResolveFile(runDir, relPath string) (string, error) {
	if relPath == "" {
		return "", ErrFileNotFound
	}
	// ".." отклоняется лексически, до обращения к диску: попытка выхода
	// не должна маскироваться под "файл не найден"
	for _, seg := range strings.Split(filepath.ToSlash(relPath), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, relPath)
		}
	}
	root, err := filepath.EvalSymlinks(runDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runDir)
	}
	target, err := filepath.EvalSymlinks(filepath.Join(runDir, filepath.FromSlash(relPath)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
		}
		return "", err
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, relPath)
	}
	st, err := os.Stat(target)
	if err != nil || !st.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, relPath)
	}
	return target, nil
}
