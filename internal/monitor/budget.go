package monitor

import (
	"strings"
	"unicode/utf8"
)

const (
	charsPerToken      = 4
	minTruncatedChars  = 200
	truncatedMarker    = "\n... (truncated)"
	hardTruncateMarker = "\n... (hard truncated)"
)

var truncationDivisors = []int{2, 4, 8, 16}

// EstimateTokens approximates a token count as characters / 4.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / charsPerToken
}

// BuildPayload renders records into the analyzer input and shrinks it until
// it fits maxTokens.
//
// Each record becomes "=== NAME ===\nSummary: ...\n\n<raw>"; sections are
// joined by blank lines. When the whole does not fit, every raw text is cut
// to max(200, len/d) characters for d = 2, 4, 8, 16 in turn. If even that
// fails, the last attempt is cut hard so the result, marker included, stays
// within maxTokens. A budget too small for the marker gets a bare cut.
func BuildPayload(records []SourceRecord, maxTokens int) string {
	full := renderSections(records, func(r SourceRecord) string { return r.RawText })
	if EstimateTokens(full) <= maxTokens {
		return full
	}

	var attempt string
	for _, div := range truncationDivisors {
		attempt = renderSections(records, func(r SourceRecord) string {
			n := utf8.RuneCountInString(r.RawText)
			return truncateRunes(r.RawText, max(minTruncatedChars, n/div)) + truncatedMarker
		})
		if EstimateTokens(attempt) <= maxTokens {
			return attempt
		}
	}

	room := maxTokens * charsPerToken
	marker := utf8.RuneCountInString(hardTruncateMarker)
	if room <= marker {
		return truncateRunes(attempt, room)
	}
	return truncateRunes(attempt, room-marker) + hardTruncateMarker
}

func renderSections(records []SourceRecord, raw func(SourceRecord) string) string {
	sections := make([]string, 0, len(records))
	for _, r := range records {
		sections = append(sections, "=== "+strings.ToUpper(r.SourceName)+" ===\nSummary: "+r.Summary+"\n\n"+raw(r))
	}
	return strings.Join(sections, "\n\n")
}

// truncateRunes returns at most n leading runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
