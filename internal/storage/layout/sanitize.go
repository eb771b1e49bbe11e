package layout

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	segmentRe        = regexp.MustCompile(`[^0-9A-Za-z_-]+`)
	clientDatetimeRe = regexp.MustCompile(`[^0-9A-Za-zT_-]+`)
	underscoreRunRe  = regexp.MustCompile(`_+`)
	dashRunRe        = regexp.MustCompile(`-+`)
)

// InvalidSegmentError — значение поля пустое или после очистки
// не осталось допустимых символов.
type InvalidSegmentError struct {
	Field string
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("поле %s пустое или некорректное", e.Field)
}

// SanitizeSegment приводит значение к безопасному сегменту пути:
// всё вне [0-9A-Za-z_-] заменяется на подчёркивание, повторы
// сворачиваются, крайние разделители отбрасываются.
func SanitizeSegment(raw, field string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &InvalidSegmentError{Field: field}
	}
	s := segmentRe.ReplaceAllString(trimmed, "_")
	s = underscoreRunRe.ReplaceAllString(s, "_")
	s = dashRunRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "_-")
	if s == "" {
		return "", &InvalidSegmentError{Field: field}
	}
	return s, nil
}

// SanitizeOptional очищает необязательный сегмент; пустое значение
// допустимо и возвращается как пустая строка.
func SanitizeOptional(raw, field string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return SanitizeSegment(raw, field)
}

// SanitizeClientDatetime нормализует клиентскую метку времени для
// имён директорий: разделители времени и пути детерминированно
// заменяются, так что одинаковый вход всегда даёт одинаковый путь.
func SanitizeClientDatetime(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &InvalidSegmentError{Field: "client_datetime"}
	}
	r := strings.NewReplacer(":", "-", " ", "_", "/", "-", "\\", "-", ".", "-")
	s := r.Replace(trimmed)
	s = clientDatetimeRe.ReplaceAllString(s, "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	s = underscoreRunRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")
	if s == "" {
		return "", &InvalidSegmentError{Field: "client_datetime"}
	}
	return s, nil
}
