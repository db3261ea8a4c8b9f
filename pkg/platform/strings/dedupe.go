// Package strings provides string list utilities shared by record merging.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  口服营养补充 ", "肠内营养", "口服营养补充", "", "  "})
//	// Returns: []string{"口服营养补充", "肠内营养"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// AppendUnique appends the entries of src that dst does not already hold,
// comparing trimmed text. Blank entries of src are skipped and dst is never
// reordered or rewritten, so appending the same src twice changes nothing.
func AppendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, s := range dst {
		seen[strings.TrimSpace(s)] = struct{}{}
	}
	for _, s := range src {
		key := strings.TrimSpace(s)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
