// Пакет errors — конструкторы стандартных ошибок API измерительного бокса.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib осознанный, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeSlotBusy           = "SLOT_BUSY"
	CodeSlotUnknown        = "SLOT_UNKNOWN"
	CodeDriverError        = "DRIVER_ERROR"
	CodePathTraversal      = "PATH_TRAVERSAL"
	CodeTransferError      = "TRANSFER_ERROR"
	CodeRunConflict        = "RUN_CONFLICT"
	CodeDevicesUnavailable = "DEVICES_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 422 некорректное тело запроса.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, CodeValidationError, message)
}

// BadRequest — 400 некорректный запрос.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 отсутствует или неверен API-ключ.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// SlotBusy — 409 все указанные слоты заняты другим запуском.
func SlotBusy(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeSlotBusy, message)
}

// SlotUnknown — 400 указан незарегистрированный слот.
func SlotUnknown(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeSlotUnknown, message)
}

// PathTraversal — 400 попытка доступа за пределами директории запуска.
func PathTraversal(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodePathTraversal, message)
}

// TransferError — 502 ошибка передачи данных на NAS.
func TransferError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeTransferError, message)
}

// RunConflict — 409 run_id уже используется.
func RunConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeRunConflict, message)
}

// DevicesUnavailable — 503 нет зарегистрированных устройств.
func DevicesUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeDevicesUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
