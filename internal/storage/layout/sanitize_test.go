package layout

import (
	"errors"
	"testing"
)

func TestSanitizeSegment(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"experiment one", "experiment_one"},
		{"  trimmed  ", "trimmed"},
		{"a/b\\c:d", "a_b_c_d"},
		{"a___b", "a_b"},
		{"a---b", "a-b"},
		{"__x__", "x"},
		{"проба-1", "1"},
		{"Ok_Name-2", "Ok_Name-2"},
	}
	for _, c := range cases {
		got, err := SanitizeSegment(c.raw, "experiment_name")
		if err != nil {
			t.Errorf("SanitizeSegment(%q): неожиданная ошибка %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("SanitizeSegment(%q): хотели %q, получили %q", c.raw, c.want, got)
		}
	}
}

func TestSanitizeSegment_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "///", "ёёё"} {
		_, err := SanitizeSegment(raw, "experiment_name")
		if err == nil {
			t.Errorf("SanitizeSegment(%q): ожидали ошибку", raw)
			continue
		}
		var ise *InvalidSegmentError
		if !errors.As(err, &ise) || ise.Field != "experiment_name" {
			t.Errorf("SanitizeSegment(%q): неверный тип ошибки %v", raw, err)
		}
	}
}

func TestSanitizeOptional(t *testing.T) {
	got, err := SanitizeOptional("  ", "subdir")
	if err != nil || got != "" {
		t.Errorf("пустой subdir: хотели пустую строку без ошибки, получили %q, %v", got, err)
	}
	got, err = SanitizeOptional("my folder", "subdir")
	if err != nil || got != "my_folder" {
		t.Errorf("subdir: хотели my_folder, получили %q, %v", got, err)
	}
	if _, err := SanitizeOptional("///", "subdir"); err == nil {
		t.Error("subdir из одних разделителей должен отклоняться")
	}
}

func TestSanitizeClientDatetime(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"2026-08-26T14:30:05", "2026-08-26T14-30-05"},
		{"2026/08/26 14:30", "2026-08-26_14-30"},
		{"2026.08.26", "2026-08-26"},
		{"2026-08-26T14:30:05.123Z", "2026-08-26T14-30-05-123Z"},
	}
	for _, c := range cases {
		got, err := SanitizeClientDatetime(c.raw)
		if err != nil {
			t.Errorf("SanitizeClientDatetime(%q): неожиданная ошибка %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("SanitizeClientDatetime(%q): хотели %q, получили %q", c.raw, c.want, got)
		}
	}
	if _, err := SanitizeClientDatetime("  "); err == nil {
		t.Error("пустая метка времени должна отклоняться")
	}
}

func TestSanitizeClientDatetime_Deterministic(t *testing.T) {
	a, _ := SanitizeClientDatetime("2026-08-26T14:30:05")
	b, _ := SanitizeClientDatetime("2026-08-26T14:30:05")
	if a != b {
		t.Errorf("одинаковый вход должен давать одинаковый результат: %q != %q", a, b)
	}
}
