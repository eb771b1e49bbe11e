// devices.go — обработчики реестра слотов: список и переобнаружение.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/sevalab/boxd/internal/api/errors"
	"github.com/sevalab/boxd/internal/device"
)

// DevicesHandler — обработчик endpoints реестра устройств.
type DevicesHandler struct {
	registry   *device.Registry
	enumerator device.Enumerator
	log        *slog.Logger
}

// NewDevicesHandler создаёт обработчик устройств.
func NewDevicesHandler(registry *device.Registry, enumerator device.Enumerator, log *slog.Logger) *DevicesHandler {
	return &DevicesHandler{
		registry:   registry,
		enumerator: enumerator,
		log:        log.With(slog.String("component", "devices_api")),
	}
}

// ListDevices обрабатывает GET /api/v1/devices.
func (h *DevicesHandler) ListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// Rescan обрабатывает POST /api/v1/devices/rescan.
// Занятые слоты сохраняют имя и привязку к устройству.
func (h *DevicesHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	found, err := h.enumerator.Enumerate(r.Context())
	if err != nil {
		apierrors.InternalError(w, fmt.Sprintf("Переобнаружение не удалось: %s", err))
		return
	}
	h.registry.Rescan(found)
	h.log.Info("переобнаружение устройств завершено", "found", len(found), "slots", h.registry.Len())

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": h.registry.List(),
	})
}
