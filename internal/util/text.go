package util

import "unicode/utf8"

// TruncateBytes shortens s to at most n bytes without splitting a UTF-8
// sequence.
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TruncateRunes shortens s to at most n characters. A cut string ends
// with suffix, which counts towards n.
func TruncateRunes(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	keep := n - utf8.RuneCountInString(suffix)
	if keep < 0 {
		return string([]rune(suffix)[:n])
	}
	return string([]rune(s)[:keep]) + suffix
}
