package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxLabelLength = 120

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeLabel turns operator free text into a plain single-line label:
// markup is stripped, whitespace collapsed, and the result capped in length.
func SanitizeLabel(raw string) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > maxLabelLength {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxLabelLength]))
	}
	return cleaned
}

// NormalizeStringMap trims keys and values, removing entries with empty keys or values.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		result[trimmedKey] = trimmedValue
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
