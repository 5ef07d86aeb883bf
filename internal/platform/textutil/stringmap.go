package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// SanitizeText strips markup from free text entered by buyers and sellers and truncates it to
// limit runes. The result is plain text; entities escaped by the policy are decoded again.
func SanitizeText(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}

// SanitizeAnyMap applies SanitizeText to every string value, descending into nested maps and
// slices. Non-string scalars are kept as-is.
func SanitizeAnyMap(values map[string]any, limit int) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = sanitizeAny(value, limit)
	}
	return out
}

func sanitizeAny(value any, limit int) any {
	switch v := value.(type) {
	case string:
		return SanitizeText(v, limit)
	case map[string]any:
		return SanitizeAnyMap(v, limit)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = sanitizeAny(v[i], limit)
		}
		return out
	default:
		return v
	}
}
