package layout

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sevalab/boxd/internal/device"
)

// memIndex — индекс запусков в памяти для тестов раскладки.
type memIndex struct {
	m map[string]string
}

func newMemIndex() *memIndex { return &memIndex{m: map[string]string{}} }

func (i *memIndex) Record(runID, rel string) error {
	i.m[runID] = rel
	return nil
}
func (i *memIndex) Forget(runID string) error {
	delete(i.m, runID)
	return nil
}
func (i *memIndex) Resolve(runID string) (string, bool, error) {
	rel, ok := i.m[runID]
	return rel, ok, nil
}

func newTestManager(t *testing.T) (*Manager, *memIndex) {
	t.Helper()
	idx := newMemIndex()
	m, err := NewManager(t.TempDir(), idx, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, idx
}

func TestBuildRunStorageInfo(t *testing.T) {
	info, err := BuildRunStorageInfo("My Exp", "batch 7", "", "2026-08-26T14:30:05")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Experiment != "My_Exp" || info.Subdir != "batch_7" {
		t.Errorf("неверные сегменты: %+v", info)
	}
	if info.TimestampDir != "2026-08-26T14-30-05" {
		t.Errorf("TimestampDir: получили %q", info.TimestampDir)
	}
	if info.TimestampName != "2026-08-26_14-30-05" {
		t.Errorf("TimestampName: получили %q", info.TimestampName)
	}
	want := "My_Exp_batch_7_2026-08-26_14-30-05"
	if info.FilenamePrefix != want {
		t.Errorf("FilenamePrefix: хотели %q, получили %q", want, info.FilenamePrefix)
	}
}

func TestBuildRunStorageInfo_FolderNameFallback(t *testing.T) {
	info, err := BuildRunStorageInfo("exp", "  ", "group A", "2026-08-26T10:00:00")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Subdir != "group_A" {
		t.Errorf("folder_name должен подставляться вместо пустого subdir: %q", info.Subdir)
	}
}

func TestCreateAndResolveRunDir(t *testing.T) {
	m, _ := newTestManager(t)
	info, _ := BuildRunStorageInfo("exp", "sub", "", "2026-08-26T10:00:00")

	dir, err := m.CreateRunDir("run-1", info)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	wantSuffix := filepath.Join("exp", "sub", "2026-08-26T10-00-00")
	if !strings.HasSuffix(dir, wantSuffix) {
		t.Errorf("неверный путь запуска: %s", dir)
	}
	got, err := m.ResolveRunDir("run-1")
	if err != nil || got != dir {
		t.Errorf("ResolveRunDir: хотели %s, получили %s (%v)", dir, got, err)
	}
}

func TestResolveRunDir_Fallback(t *testing.T) {
	m, _ := newTestManager(t)
	// директория по имени запуска без записи в индексе
	if err := os.MkdirAll(filepath.Join(m.Root(), "legacy-run"), 0o755); err != nil {
		t.Fatal(err)
	}
	dir, err := m.ResolveRunDir("legacy-run")
	if err != nil {
		t.Fatalf("запасной путь по run_id должен находиться: %v", err)
	}
	if !strings.HasSuffix(dir, "legacy-run") {
		t.Errorf("неверный путь: %s", dir)
	}
	if _, err := m.ResolveRunDir("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("хотели ErrRunNotFound, получили %v", err)
	}
}

func TestModeDirAndFileBase(t *testing.T) {
	m, _ := newTestManager(t)
	info, _ := BuildRunStorageInfo("exp", "", "", "2026-08-26T10:00:00")
	runDir, _ := m.CreateRunDir("run-1", info)

	dir, err := m.ModeDir(runDir, "slot01", "CV")
	if err != nil {
		t.Fatalf("ModeDir: %v", err)
	}
	if !strings.HasSuffix(dir, filepath.Join("Wells", "slot01", "CV")) {
		t.Errorf("неверная директория режима: %s", dir)
	}
	base := FileBase(info, "slot01", "CV")
	if base != "exp_2026-08-26_10-00-00_slot01_CV" {
		t.Errorf("FileBase: получили %q", base)
	}
}

func TestWriteCSVAndListFiles(t *testing.T) {
	m, _ := newTestManager(t)
	info, _ := BuildRunStorageInfo("exp", "", "", "2026-08-26T10:00:00")
	runDir, _ := m.CreateRunDir("run-1", info)
	modeDir, _ := m.ModeDir(runDir, "slot01", "CV")

	csvPath := filepath.Join(modeDir, "data.csv")
	samples := []device.Sample{
		{TimeS: 0, PotentialV: -0.5, CurrentA: 1e-6},
		{TimeS: 0.1, PotentialV: -0.45, CurrentA: 1.2e-6},
	}
	if err := m.WriteCSV(csvPath, samples); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("чтение CSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("хотели 3 строки CSV, получили %d", len(lines))
	}
	if lines[0] != "time_s,voltage_v,current_a" {
		t.Errorf("неверный заголовок: %q", lines[0])
	}

	files, err := m.ListFiles(runDir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0] != "Wells/slot01/CV/data.csv" {
		t.Errorf("неверный список файлов: %v", files)
	}

	// временных файлов после записи не остаётся
	entries, _ := os.ReadDir(modeDir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}
}

func TestResolveFile(t *testing.T) {
	m, _ := newTestManager(t)
	info, _ := BuildRunStorageInfo("exp", "", "", "2026-08-26T10:00:00")
	runDir, _ := m.CreateRunDir("run-1", info)
	modeDir, _ := m.ModeDir(runDir, "slot01", "CV")
	csvPath := filepath.Join(modeDir, "data.csv")
	if err := m.WriteCSV(csvPath, nil); err != nil {
		t.Fatal(err)
	}

	got, err := m.ResolveFile(runDir, "Wells/slot01/CV/data.csv")
	if err != nil {
		t.Fatalf("ResolveFile: %v", err)
	}
	if filepath.Base(got) != "data.csv" {
		t.Errorf("неверный путь: %s", got)
	}

	if _, err := m.ResolveFile(runDir, "Wells/slot01/CV/none.csv"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("отсутствующий файл: хотели ErrFileNotFound, получили %v", err)
	}
	if _, err := m.ResolveFile(runDir, ""); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("пустой путь: хотели ErrFileNotFound, получили %v", err)
	}
}

func TestResolveFile_TraversalBlocked(t *testing.T) {
	m, _ := newTestManager(t)
	info, _ := BuildRunStorageInfo("exp", "", "", "2026-08-26T10:00:00")
	runDir, _ := m.CreateRunDir("run-1", info)

	secret := filepath.Join(m.Root(), "secret.txt")
	if err := os.WriteFile(secret, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ResolveFile(runDir, "../../secret.txt"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("обход через ..: хотели ErrPathTraversal, получили %v", err)
	}

	// ".." отклоняется и тогда, когда цель не существует:
	// попытка выхода не выглядит как отсутствующий файл
	if _, err := m.ResolveFile(runDir, "../../nope.txt"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("обход к несуществующему файлу: хотели ErrPathTraversal, получили %v", err)
	}
	if _, err := m.ResolveFile(runDir, "a/../../../b.txt"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("вложенный ..: хотели ErrPathTraversal, получили %v", err)
	}

	// символьная ссылка наружу тоже блокируется
	link := filepath.Join(runDir, "leak")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlink недоступен: %v", err)
	}
	if _, err := m.ResolveFile(runDir, "leak"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("обход через symlink: хотели ErrPathTraversal, получили %v", err)
	}
}
