// system.go — обработчики служебных endpoints: версия, health probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sevalab/boxd/internal/config"
	"github.com/sevalab/boxd/internal/device"
)

// SystemHandler реализует /version, /health/live и /health/ready.
type SystemHandler struct {
	boxID    string
	runsRoot string
	registry *device.Registry
	// build — идентификатор сборки, задаётся при компиляции
	build string
}

// NewSystemHandler создаёт обработчик служебных endpoints.
func NewSystemHandler(boxID, runsRoot, build string, registry *device.Registry) *SystemHandler {
	if build == "" {
		build = "unknown"
	}
	return &SystemHandler{
		boxID:    boxID,
		runsRoot: runsRoot,
		registry: registry,
		build:    build,
	}
}

// Version обрабатывает GET /version.
func (h *SystemHandler) Version(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{
		"api":    config.Version,
		"driver": config.DriverVersion,
		"go":     runtime.Version(),
		"build":  h.build,
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяются.
func (h *SystemHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   config.Version,
		"service":   "boxd",
		"box_id":    h.boxID,
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет запись в корень результатов и наличие устройств.
func (h *SystemHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkRunsRoot()
	if fsCheck["status"] != "ok" {
		overallStatus = "fail"
		httpStatus = http.StatusServiceUnavailable
	}

	// отсутствие устройств не мешает обслуживать статус и файлы
	deviceCount := h.registry.Len()
	devCheck := map[string]any{
		"status": "ok",
		"count":  deviceCount,
	}
	if deviceCount == 0 {
		devCheck["status"] = "degraded"
		devCheck["message"] = "Нет зарегистрированных устройств"
		if overallStatus == "ok" {
			overallStatus = "degraded"
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   config.Version,
		"service":   "boxd",
		"box_id":    h.boxID,
		"checks": map[string]any{
			"runs_root": fsCheck,
			"devices":   devCheck,
		},
	}
	writeJSON(w, httpStatus, resp)
}

// checkRunsRoot проверяет доступность корня результатов на запись.
func (h *SystemHandler) checkRunsRoot() map[string]any {
	testFile := filepath.Join(h.runsRoot, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  "fail",
			"message": "Корень результатов недоступен для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)
	return map[string]any{"status": "ok"}
}

// writeJSON записывает успешный JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
