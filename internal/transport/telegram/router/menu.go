package router

import (
	"strings"
	"unicode"
)

// sanitizeCommand converts a name or alias into a Telegram bot command
// ([a-z0-9_]{1,32}, starting with a letter). It returns "" when nothing usable remains.
func sanitizeCommand(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "/")
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}
