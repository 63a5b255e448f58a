package utils

import (
	"strings"
)

// NormalizeSpaceCode trims and upper-cases a space code ("a-01 " -> "A-01").
// Inner dashes are kept: they separate the row letter from the bay number.
func NormalizeSpaceCode(raw string) string {
	normalized := strings.TrimSpace(raw)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ToUpper(normalized)
	return normalized
}
