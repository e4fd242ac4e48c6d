package utils

import (
	"strconv"
	"strings"
)

// MaskHalf прячет вторую половину строки для безопасного логирования
// токенов и идентификаторов.
func MaskHalf(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	half := len(s) / 2
	return s[:half] + strings.Repeat("*", len(s)-half)
}

// MaskHalfInt64 — то же для числовых идентификаторов (telegram id и т.п.).
func MaskHalfInt64(v int64) string {
	return MaskHalf(strconv.FormatInt(v, 10))
}
