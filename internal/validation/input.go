// Package validation содержит функции валидации входных данных.
package validation

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxDisplayNameLen = 100

// IsValidDisplayName проверяет, что отображаемое имя непустое и разумной длины.
func IsValidDisplayName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}
	return utf8.RuneCountInString(trimmed) <= maxDisplayNameLen
}

// ParseLessonID разбирает идентификатор урока из строки пути.
// Синтаксически некорректный идентификатор отличается от отсутствующего урока.
func ParseLessonID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
