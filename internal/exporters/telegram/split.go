package telegram

import (
	"strings"
	"time"
	"unicode"

	"agentmon/pkg/tgui"
)

const (
	// MaxMessageLen is Telegram's limit for one message.
	MaxMessageLen = 4096

	DefaultTitle      = "Agent Monitoring Report"
	DefaultTimeLayout = "15:04 02.01.2006"
)

// Header renders the first-chunk title line followed by a blank line.
func Header(title string, at time.Time, layout string) string {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return tgui.B(title).String() + " (" + at.Format(layout) + ")\n\n"
}

// SplitMessages cuts body into chunks of at most limit characters each;
// the first chunk is prefixed with header and shares its limit with it.
//
// Cuts prefer the last newline, then the last space, found past the middle
// of the window. Failing both, a cut that would land inside an &...; entity
// moves back before the '&'. Whitespace at cut points is dropped.
func SplitMessages(header, body string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	h := []rune(header)
	rest := []rune(body)
	firstLimit := max(1, limit-len(h))
	if len(rest) <= firstLimit {
		return []string{header + body}
	}

	var chunks []string
	prefix := header
	lim := firstLimit
	for len(rest) > 0 {
		if len(rest) <= lim {
			chunks = append(chunks, prefix+string(rest))
			break
		}
		cut := splitPoint(rest, lim)
		chunks = append(chunks, prefix+strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace))
		rest = trimLeftSpace(rest[cut:])
		prefix = ""
		lim = limit
	}
	return chunks
}

// splitPoint returns where to cut s, which is longer than limit.
func splitPoint(s []rune, limit int) int {
	window := s[:limit]
	if i := lastIndex(window, '\n'); i > limit/2 {
		return i + 1
	}
	if i := lastIndex(window, ' '); i > limit/2 {
		return i + 1
	}
	if amp := lastIndex(window, '&'); amp > 0 && lastIndex(window[amp:], ';') < 0 {
		return amp
	}
	return limit
}

func lastIndex(s []rune, r rune) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == r {
			return i
		}
	}
	return -1
}

func trimLeftSpace(s []rune) []rune {
	i := 0
	for i < len(s) && unicode.IsSpace(s[i]) {
		i++
	}
	return s[i:]
}
