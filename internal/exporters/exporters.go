// Package exporters selects the report destinations that are ready to use.
package exporters

import (
	"agentmon/internal/monitor"
	logx "agentmon/pkg/logx"
)

// Configured returns the exporters that are configured, in order, and logs the rest.
func Configured(log logx.Logger, all ...monitor.Exporter) []monitor.Exporter {
	out := make([]monitor.Exporter, 0, len(all))
	for _, e := range all {
		if e == nil {
			continue
		}
		if !e.Configured() {
			log.Info("exporter disabled", logx.String("exporter", e.Name()))
			continue
		}
		out = append(out, e)
	}
	return out
}
