package rules

import "strings"

const quoteChars = `.\+*?[^]$(){}=!<>|:-#/`

// QuoteMeta escapes regex metacharacters and the '/' delimiter.
func QuoteMeta(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		if strings.ContainsRune(quoteChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeRegex keeps an anchored or wildcarded pattern as written and
// wraps a bare one so it matches anywhere in the value.
func NormalizeRegex(pattern string) string {
	if pattern == "" {
		return pattern
	}
	if strings.HasPrefix(pattern, "^") || strings.HasPrefix(pattern, ".") || strings.HasPrefix(pattern, "*") {
		return pattern
	}
	if strings.HasSuffix(pattern, "$") || strings.HasSuffix(pattern, ".") || strings.HasSuffix(pattern, "*") {
		return pattern
	}
	return ".*" + pattern + ".*"
}
