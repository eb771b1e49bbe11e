package validation

import (
	"errors"
	"testing"
)

func issueByField(issues []Issue, field string) *Issue {
	for i := range issues {
		if issues[i].Field == field {
			return &issues[i]
		}
	}
	return nil
}

func TestValidateMode_CVValid(t *testing.T) {
	res, err := ValidateMode("CV", map[string]any{
		"start": -0.5, "vertex1": 0.5, "vertex2": -0.5, "end": 0.0,
		"scan_rate": 0.1, "cycles": 3,
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !res.OK {
		t.Fatalf("валидные параметры CV отклонены: %+v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("предупреждений быть не должно: %+v", res.Warnings)
	}
}

func TestValidateMode_CVMissingFields(t *testing.T) {
	res, err := ValidateMode("cv", map[string]any{"scan_rate": 0.1})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.OK {
		t.Fatal("неполные параметры CV должны отклоняться")
	}
	for _, f := range []string{"start", "vertex1", "vertex2", "end", "cycles"} {
		iss := issueByField(res.Errors, f)
		if iss == nil || iss.Code != "missing_field" {
			t.Errorf("поле %s: хотели missing_field, получили %+v", f, iss)
		}
	}
}

func TestValidateMode_CVBounds(t *testing.T) {
	res, _ := ValidateMode("CV", map[string]any{
		"start": -11.0, "vertex1": 0.5, "vertex2": -0.5, "end": 12.0,
		"scan_rate": 0.1, "cycles": 1,
	})
	if res.OK {
		t.Fatal("выход за пределы напряжений должен отклоняться")
	}
	if iss := issueByField(res.Errors, "start"); iss == nil || iss.Code != "min_value" {
		t.Errorf("start: хотели min_value, получили %+v", iss)
	}
	if iss := issueByField(res.Errors, "end"); iss == nil || iss.Code != "max_value" {
		t.Errorf("end: хотели max_value, получили %+v", iss)
	}
}

func TestValidateMode_CVZeroSweep(t *testing.T) {
	res, _ := ValidateMode("CV", map[string]any{
		"start": 0.3, "vertex1": 0.3, "vertex2": 0.3, "end": 0.3,
		"scan_rate": 0.1, "cycles": 1,
	})
	if res.OK {
		t.Fatal("нулевой размах должен отклоняться")
	}
	if iss := issueByField(res.Errors, "end"); iss == nil || iss.Code != "zero_sweep" {
		t.Errorf("хотели zero_sweep, получили %+v", res.Errors)
	}
}

func TestValidateMode_CVWarnings(t *testing.T) {
	res, _ := ValidateMode("CV", map[string]any{
		"start": -0.5, "vertex1": 0.5, "vertex2": -0.5, "end": 0.0,
		"scan_rate": 6.0, "cycles": 60,
	})
	if !res.OK {
		t.Fatalf("параметры с предупреждениями не должны отклоняться: %+v", res.Errors)
	}
	if iss := issueByField(res.Warnings, "scan_rate"); iss == nil || iss.Code != "high_value" {
		t.Errorf("scan_rate: хотели high_value, получили %+v", iss)
	}
	if iss := issueByField(res.Warnings, "cycles"); iss == nil || iss.Code != "high_value" {
		t.Errorf("cycles: хотели high_value, получили %+v", iss)
	}
}

func TestValidateMode_CVNotANumber(t *testing.T) {
	res, _ := ValidateMode("CV", map[string]any{
		"start": "abc", "vertex1": 0.5, "vertex2": -0.5, "end": 0.0,
		"scan_rate": 0.1, "cycles": 1,
	})
	if res.OK {
		t.Fatal("нечисловое значение должно отклоняться")
	}
	if iss := issueByField(res.Errors, "start"); iss == nil || iss.Code != "not_a_number" {
		t.Errorf("хотели not_a_number, получили %+v", res.Errors)
	}
}

func TestValidateMode_PlaceholderModes(t *testing.T) {
	res, err := ValidateMode("DC", map[string]any{"duration_s": 10.0, "voltage_v": 0.5})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !res.OK {
		t.Fatalf("валидные параметры DC отклонены: %+v", res.Errors)
	}
	if iss := issueByField(res.Warnings, "*"); iss == nil || iss.Code != "not_implemented" {
		t.Errorf("хотели предупреждение not_implemented, получили %+v", res.Warnings)
	}

	res, _ = ValidateMode("EIS", map[string]any{"freq_start_hz": 1.0})
	if res.OK {
		t.Fatal("EIS без обязательных полей должен отклоняться")
	}
}

func TestValidateMode_Unsupported(t *testing.T) {
	_, err := ValidateMode("XYZ", map[string]any{})
	if !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("хотели ErrUnsupportedMode, получили %v", err)
	}
}

func TestRequiredFields(t *testing.T) {
	fields, err := RequiredFields("ca")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(fields) != 2 || fields[0] != "duration" || fields[1] != "potential" {
		t.Errorf("CA: неверный список полей %v", fields)
	}
	if _, err := RequiredFields("nope"); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("хотели ErrUnsupportedMode, получили %v", err)
	}
}
