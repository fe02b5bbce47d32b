// Package strings provides string list helpers.
package strings

import (
	"strings"
)

// SplitList flattens comma-separated entries, trims them, and drops empty
// values and duplicates. Order of first occurrence is kept.
//
//	SplitList([]string{"a:9092, b:9092", "a:9092", " "})
//	// []string{"a:9092", "b:9092"}
func SplitList(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
