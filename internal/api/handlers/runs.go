// runs.go — обработчики доступа к результатам: список файлов, чтение,
// zip-архив, постановка выгрузки на NAS.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/sevalab/boxd/internal/api/errors"
	"github.com/sevalab/boxd/internal/nas"
	"github.com/sevalab/boxd/internal/storage/archive"
	"github.com/sevalab/boxd/internal/storage/layout"
)

// RunsHandler — обработчик файловых endpoints запусков.
type RunsHandler struct {
	layout *layout.Manager
	nas    *nas.Manager
	log    *slog.Logger
}

// NewRunsHandler создаёт обработчик результатов. nasMgr может быть nil.
func NewRunsHandler(lm *layout.Manager, nasMgr *nas.Manager, log *slog.Logger) *RunsHandler {
	return &RunsHandler{
		layout: lm,
		nas:    nasMgr,
		log:    log.With(slog.String("component", "runs_api")),
	}
}

// resolveRunDir находит директорию запуска или пишет 404.
func (h *RunsHandler) resolveRunDir(w http.ResponseWriter, runID string) (string, bool) {
	dir, err := h.layout.ResolveRunDir(runID)
	if err != nil {
		apierrors.NotFound(w, fmt.Sprintf("Результаты запуска %s не найдены", runID))
		return "", false
	}
	return dir, true
}

// ListRunFiles обрабатывает GET /api/v1/runs/{run_id}/files.
func (h *RunsHandler) ListRunFiles(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	dir, ok := h.resolveRunDir(w, runID)
	if !ok {
		return
	}
	files, err := h.layout.ListFiles(dir)
	if err != nil {
		apierrors.InternalError(w, fmt.Sprintf("Не удалось прочитать директорию запуска: %s", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"files":  files,
	})
}

// GetRunFile обрабатывает GET /api/v1/runs/{run_id}/file?path=.
// Путь проверяется на выход за директорию запуска, включая симлинки.
func (h *RunsHandler) GetRunFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		apierrors.BadRequest(w, "Параметр path обязателен")
		return
	}

	dir, ok := h.resolveRunDir(w, runID)
	if !ok {
		return
	}

	abs, err := h.layout.ResolveFile(dir, relPath)
	if err != nil {
		if errors.Is(err, layout.ErrPathTraversal) {
			h.log.Warn("попытка выхода за директорию запуска",
				"run_id", runID, "path", relPath, "remote_addr", r.RemoteAddr)
			apierrors.PathTraversal(w, "Путь выходит за директорию запуска")
			return
		}
		apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", relPath))
		return
	}
	http.ServeFile(w, r, abs)
}

// GetRunZip обрабатывает GET /api/v1/runs/{run_id}/zip.
// Архив собирается потоково; содержимое — best-effort снимок на момент
// обхода.
func (h *RunsHandler) GetRunZip(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	dir, ok := h.resolveRunDir(w, runID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, runID))
	w.WriteHeader(http.StatusOK)

	count, err := archive.WriteZip(w, dir)
	if err != nil {
		// заголовки уже отправлены, остаётся только залогировать
		h.log.Error("ошибка при потоковой сборке архива",
			"run_id", runID, "files_written", count, "error", err)
		return
	}
	h.log.Debug("архив запуска отдан", "run_id", runID, "files", count)
}

// UploadRun обрабатывает POST /api/v1/runs/{run_id}/upload.
// Постановка в очередь выгрузки; повторный вызов во время выгрузки
// не создаёт второй передачи.
func (h *RunsHandler) UploadRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if h.nas == nil {
		apierrors.TransferError(w, "Выгрузка на NAS не настроена")
		return
	}
	if _, ok := h.resolveRunDir(w, runID); !ok {
		return
	}

	enqueued := h.nas.EnqueueUpload(runID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   runID,
		"enqueued": enqueued,
	})
}
