// modes.go — обработчики справочника режимов и валидации параметров.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/sevalab/boxd/internal/api/errors"
	"github.com/sevalab/boxd/internal/device"
	"github.com/sevalab/boxd/internal/domain/validation"
)

// ModesHandler — обработчик endpoints режимов измерения.
type ModesHandler struct {
	registry *device.Registry
}

// NewModesHandler создаёт обработчик режимов.
func NewModesHandler(registry *device.Registry) *ModesHandler {
	return &ModesHandler{registry: registry}
}

// ListModes обрабатывает GET /api/v1/modes.
func (h *ModesHandler) ListModes(w http.ResponseWriter, _ *http.Request) {
	if h.registry.Len() == 0 {
		apierrors.DevicesUnavailable(w, "Нет зарегистрированных устройств")
		return
	}
	writeJSON(w, http.StatusOK, validation.Modes())
}

// ModeParams обрабатывает GET /api/v1/modes/{mode}/params.
func (h *ModesHandler) ModeParams(w http.ResponseWriter, r *http.Request) {
	mode := chi.URLParam(r, "mode")
	fields, err := validation.RequiredFields(mode)
	if err != nil {
		apierrors.NotFound(w, fmt.Sprintf("Режим %q не поддерживается", mode))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     mode,
		"required": fields,
	})
}

// ValidateMode обрабатывает POST /api/v1/modes/{mode}/validate.
// Проверяет параметры без обращения к оборудованию.
func (h *ModesHandler) ValidateMode(w http.ResponseWriter, r *http.Request) {
	mode := chi.URLParam(r, "mode")

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err))
		return
	}

	result, err := validation.ValidateMode(mode, params)
	if err != nil {
		if errors.Is(err, validation.ErrUnsupportedMode) {
			apierrors.NotFound(w, fmt.Sprintf("Режим %q не поддерживается", mode))
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
