package batch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/registry-submit/internal/model"
)

// strayChars are dropped from phone cells before entry. They come from
// list-like values pasted into the sheet, e.g. "['5551234567']".
const strayChars = "[]{}()'\",;"

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 .\-]{5,}$`)

// SanitizePhone removes stray punctuation and surrounding whitespace.
func SanitizePhone(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(strayChars, r) {
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(cleaned)
}

// ValidPhone reports whether a sanitized value looks like a phone number:
// digits with optional separators and between 7 and 15 digits in total.
func ValidPhone(phone string) bool {
	if !phonePattern.MatchString(phone) {
		return false
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}

// CheckRow returns the sanitized phone number of row, or a data-local
// error when the cell is not a usable number.
func CheckRow(row model.Row) (string, error) {
	phone := SanitizePhone(row.Phone())
	if !ValidPhone(phone) {
		return "", model.DataLocal("batch.phone", fmt.Errorf("malformed phone number %q", row.Phone()))
	}
	return phone, nil
}

// Eligible returns the sanitized phone numbers of b that can be submitted,
// in row order.
func Eligible(b model.Batch) []string {
	phones := make([]string, 0, b.Len())
	for _, row := range b.Rows {
		if phone, err := CheckRow(row); err == nil {
			phones = append(phones, phone)
		}
	}
	return phones
}
