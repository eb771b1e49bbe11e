// Пакет validation — проверка параметров режимов измерения.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedMode возвращается, когда для режима нет валидатора.
var ErrUnsupportedMode = errors.New("режим не поддерживается")

// Issue — машиночитаемое описание одной находки валидатора.
type Issue struct {
	// Field — имя проверяемого параметра
	Field string `json:"field"`
	// Code — стабильный код ошибки или предупреждения
	Code string `json:"code"`
	// Message — пояснение для пользователя
	Message string `json:"message"`
}

// Result — структурированный ответ валидации.
type Result struct {
	OK       bool    `json:"ok"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Modes возвращает список режимов с настроенными валидаторами.
func Modes() []string {
	return []string{"AC", "CA", "CDL", "CV", "DC", "EIS", "LSV"}
}

// RequiredFields возвращает список обязательных параметров режима.
func RequiredFields(mode string) ([]string, error) {
	switch strings.ToUpper(mode) {
	case "CV":
		return []string{"start", "vertex1", "vertex2", "end", "scan_rate", "cycles"}, nil
	case "DC":
		return []string{"duration_s", "voltage_v"}, nil
	case "AC":
		return []string{"duration_s", "frequency_hz", "voltage_v"}, nil
	case "LSV":
		return []string{"start", "end", "scan_rate"}, nil
	case "EIS":
		return []string{"freq_start_hz", "freq_end_hz", "points", "spacing"}, nil
	case "CDL":
		return []string{"vertex_a_v", "vertex_b_v", "cycles"}, nil
	case "CA":
		return []string{"duration", "potential"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

// ValidateMode запускает валидатор режима. Для неизвестного режима
// возвращает ErrUnsupportedMode.
func ValidateMode(mode string, params map[string]any) (Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	switch strings.ToUpper(mode) {
	case "CV":
		return validateCV(params), nil
	case "DC", "AC", "LSV", "EIS", "CDL", "CA":
		fields, _ := RequiredFields(mode)
		return validateRequiredOnly(params, fields), nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

// isEmpty: nil и строки из пробелов считаются отсутствующими значениями.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func missing(field string) Issue {
	return Issue{Field: field, Code: "missing_field", Message: "Field is required."}
}

// coerceFloat приводит значение параметра к числу, накапливая ошибки.
func coerceFloat(field string, params map[string]any, errs *[]Issue, positive bool, min, max *float64) (float64, bool) {
	raw := params[field]
	if isEmpty(raw) {
		*errs = append(*errs, missing(field))
		return 0, false
	}
	num, ok := toFloat(raw)
	if !ok {
		*errs = append(*errs, Issue{Field: field, Code: "not_a_number", Message: "Value must be numeric."})
		return 0, false
	}
	if positive && num <= 0 {
		*errs = append(*errs, Issue{Field: field, Code: "must_be_positive", Message: "Value must be greater than zero."})
	}
	if min != nil && num < *min {
		*errs = append(*errs, Issue{Field: field, Code: "min_value",
			Message: fmt.Sprintf("Value must be at least %g.", *min)})
	}
	if max != nil && num > *max {
		*errs = append(*errs, Issue{Field: field, Code: "max_value",
			Message: fmt.Sprintf("Value must be at most %g.", *max)})
	}
	return num, true
}

func coerceInt(field string, params map[string]any, errs *[]Issue, positive bool) (int, bool) {
	raw := params[field]
	if isEmpty(raw) {
		*errs = append(*errs, missing(field))
		return 0, false
	}
	num, ok := toFloat(raw)
	if !ok {
		*errs = append(*errs, Issue{Field: field, Code: "not_an_integer", Message: "Value must be an integer."})
		return 0, false
	}
	n := int(num)
	if positive && n <= 0 {
		*errs = append(*errs, Issue{Field: field, Code: "must_be_positive", Message: "Value must be greater than zero."})
	}
	return n, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// validateCV — полная проверка параметров циклической вольтамперометрии:
// пределы напряжений, положительная скорость развёртки, ненулевой размах.
func validateCV(params map[string]any) Result {
	var errs, warns []Issue
	vMin, vMax := -10.0, 10.0

	start, okS := coerceFloat("start", params, &errs, false, &vMin, &vMax)
	vertex1, okV1 := coerceFloat("vertex1", params, &errs, false, &vMin, &vMax)
	vertex2, okV2 := coerceFloat("vertex2", params, &errs, false, &vMin, &vMax)
	end, okE := coerceFloat("end", params, &errs, false, &vMin, &vMax)
	scanRate, okSR := coerceFloat("scan_rate", params, &errs, true, nil, nil)
	cycles, okC := coerceInt("cycles", params, &errs, true)

	if okS && okV1 && okV2 && okE && start == vertex1 && vertex1 == vertex2 && vertex2 == end {
		errs = append(errs, Issue{Field: "end", Code: "zero_sweep",
			Message: "Potential sweep must span at least one vertex."})
	}
	if okSR && scanRate > 5.0 {
		warns = append(warns, Issue{Field: "scan_rate", Code: "high_value",
			Message: "Scan rate exceeds 5 V/s; verify hardware capability."})
	}
	if okC && cycles > 50 {
		warns = append(warns, Issue{Field: "cycles", Code: "high_value",
			Message: "Cycle count above 50 may lead to long experiment times."})
	}
	return Result{OK: len(errs) == 0, Errors: errs, Warnings: warns}
}

// validateRequiredOnly проверяет только наличие обязательных полей и
// добавляет предупреждение о неполной реализации правил.
func validateRequiredOnly(params map[string]any, fields []string) Result {
	var errs []Issue
	for _, f := range fields {
		if isEmpty(params[f]) {
			errs = append(errs, missing(f))
		}
	}
	warns := []Issue{{
		Field:   "*",
		Code:    "not_implemented",
		Message: "Validation rules are not yet implemented for this mode; values were not checked.",
	}}
	return Result{OK: len(errs) == 0, Errors: errs, Warnings: warns}
}
