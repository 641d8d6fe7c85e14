package tgui

import "unicode/utf8"

const ellipsis = "…"

// TruncRunes shortens s to at most n runes. A cut is marked with "…", which
// counts toward n.
func TruncRunes(s string, n int) string {
	switch {
	case n <= 0:
		return ""
	case utf8.RuneCountInString(s) <= n:
		return s
	case n == 1:
		return ellipsis
	}
	keep := n - 1
	for i := range s {
		if keep == 0 {
			return s[:i] + ellipsis
		}
		keep--
	}
	return s
}
