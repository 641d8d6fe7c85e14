package config

import (
	"reflect"
	"sort"
	"strings"

	logx "agentmon/pkg/logx"
)

// liveSections apply without a restart; every other changed section only
// takes effect on the next start.
var liveSections = map[string]bool{
	"logging": true,
	"monitor": true,
}

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the changed sections that need a restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		m := newCfg.Monitor
		attrs = append(attrs,
			logx.String("monitor.schedule", strings.TrimSpace(m.Schedule)),
			logx.String("monitor.timezone", strings.TrimSpace(m.Timezone)),
			logx.String("monitor.lookback", strings.TrimSpace(m.Lookback)),
			logx.Int("monitor.max_input_tokens", m.MaxInputTokens),
		)
	}

	// LLM (never log api key)
	if !reflect.DeepEqual(oldCfg.LLM, newCfg.LLM) {
		changed = append(changed, "llm")
		attrs = append(attrs,
			logx.String("llm.model", strings.TrimSpace(newCfg.LLM.Model)),
			logx.Bool("llm.api_key_set", strings.TrimSpace(newCfg.LLM.APIKey) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Loki, newCfg.Loki) {
		changed = append(changed, "loki")
		attrs = append(attrs,
			logx.Bool("loki.enabled", newCfg.Loki.Enabled),
			logx.Int("loki.extra_queries", len(newCfg.Loki.ExtraQueries)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Prometheus, newCfg.Prometheus) {
		changed = append(changed, "prometheus")
		attrs = append(attrs,
			logx.Bool("prometheus.enabled", newCfg.Prometheus.Enabled),
			logx.Int("prometheus.extra_queries", len(newCfg.Prometheus.ExtraQueries)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Units, newCfg.Units) {
		changed = append(changed, "units")
		attrs = append(attrs,
			logx.Bool("units.enabled", newCfg.Units.Enabled),
			logx.Int("units.watch", len(newCfg.Units.Watch)),
		)
	}

	// Telegram (never log token)
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.chat_count", len(newCfg.Telegram.ChatIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.commands", newCfg.Telegram.Commands.Enabled),
		)
	}

	// HTTP (never log token)
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	// Storage: nil means disabled.
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}
	if oldCfg.AppName != newCfg.AppName {
		changed = append(changed, "app_name")
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !liveSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
