package monitor

import (
	"strings"

	"agentmon/pkg/tgui"
)

const fallbackHeader = "<b>Overall Status</b>: ⚠️ Analyzer unavailable, fallback summary"

// FallbackReport lists each source's summary verbatim under a header that
// marks the analysis as unavailable.
func FallbackReport(records []SourceRecord) string {
	lines := make([]string, 0, len(records)+2)
	lines = append(lines, fallbackHeader, "")
	for _, r := range records {
		lines = append(lines, tgui.EscKeepEntities(r.SourceName).String()+": "+tgui.EscKeepEntities(r.Summary).String())
	}
	return strings.Join(lines, "\n")
}
