package utils

import "strings"

// FirstNonEmpty returns the first value for which isEmpty is false.
func FirstNonEmpty[T any](isEmpty func(T) bool, values ...T) (T, bool) {
	for _, v := range values {
		if !isEmpty(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// PickFirstNonEmpty returns the first non-blank string, trimmed.
func PickFirstNonEmpty(values ...string) string {
	v, _ := FirstNonEmpty(func(s string) bool { return strings.TrimSpace(s) == "" }, values...)
	return strings.TrimSpace(v)
}

// FirstFromAccessors evaluates accessors lazily in order and returns the first
// non-blank result.
func FirstFromAccessors(accessors ...func() string) string {
	for _, get := range accessors {
		if v := strings.TrimSpace(get()); v != "" {
			return v
		}
	}
	return ""
}
