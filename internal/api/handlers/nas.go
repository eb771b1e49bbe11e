// nas.go — обработчики настройки и здоровья сетевого хранилища.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/sevalab/boxd/internal/api/errors"
	"github.com/sevalab/boxd/internal/nas"
)

// NASHandler — обработчик endpoints NAS.
type NASHandler struct {
	mgr *nas.Manager
	log *slog.Logger
}

// NewNASHandler создаёт обработчик NAS.
func NewNASHandler(mgr *nas.Manager, log *slog.Logger) *NASHandler {
	return &NASHandler{
		mgr: mgr,
		log: log.With(slog.String("component", "nas_api")),
	}
}

// nasSetupRequest — тело POST /api/v1/nas/setup.
// Пароль используется только для записи credentials-файла и в ответах
// или конфигурации не появляется.
type nasSetupRequest struct {
	Host          string `json:"host"`
	Share         string `json:"share"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	BaseSubdir    string `json:"base_subdir"`
	RetentionDays int    `json:"retention_days"`
	Domain        string `json:"domain"`
}

// Setup обрабатывает POST /api/v1/nas/setup.
func (h *NASHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req nasSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err))
		return
	}

	ok, msg, err := h.mgr.Setup(nas.SetupRequest{
		Host:          req.Host,
		Share:         req.Share,
		Username:      req.Username,
		Password:      req.Password,
		BaseSubdir:    req.BaseSubdir,
		RetentionDays: req.RetentionDays,
		Domain:        req.Domain,
	})
	if err != nil {
		if errors.Is(err, nas.ErrInvalidSetup) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	h.log.Info("настройка NAS выполнена", "host", req.Host, "share", req.Share, "probe_ok", ok)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      ok,
		"message": msg,
	})
}

// Health обрабатывает GET /api/v1/nas/health: read-only проба
// с ограниченным таймаутом.
func (h *NASHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Health())
}

// Transfer обрабатывает GET /api/v1/runs/{run_id}/transfer —
// состояние последней выгрузки запуска.
func (h *NASHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	rec, ok := h.mgr.Transfer(runID)
	if !ok {
		apierrors.NotFound(w, fmt.Sprintf("Выгрузка запуска %s не выполнялась", runID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
