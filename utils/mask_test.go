package utils

import (
	"strings"
	"testing"
	"testing/quick"
)

// Замаскированная строка никогда не раскрывает вторую половину и сохраняет
// длину исходной (кроме коротких значений, которые скрываются целиком).
func TestMaskHalfProperty(t *testing.T) {
	f := func(s string) bool {
		masked := MaskHalf(s)
		if len(s) <= 4 {
			return masked == "****"
		}
		if len(masked) != len(s) {
			return false
		}
		half := len(s) / 2
		return strings.HasPrefix(masked, s[:half]) && masked[half:] == strings.Repeat("*", len(s)-half)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 300}); err != nil {
		t.Error(err)
	}
}

func TestMaskHalfInt64(t *testing.T) {
	if got := MaskHalfInt64(123456789); got != "1234*****" {
		t.Errorf("MaskHalfInt64 = %q", got)
	}
	if got := MaskHalfInt64(42); got != "****" {
		t.Errorf("short ids must be fully hidden, got %q", got)
	}
}
