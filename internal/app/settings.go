package app

import (
	"strings"
	"time"

	"agentmon/internal/analyzer"
	"agentmon/internal/api"
	"agentmon/internal/config"
	tgexport "agentmon/internal/exporters/telegram"
	"agentmon/internal/monitor"
	"agentmon/internal/scheduler"
	"agentmon/internal/sources/loki"
	"agentmon/internal/sources/prometheus"
	"agentmon/internal/sources/systemd"
	"agentmon/internal/storage"
	"agentmon/internal/transport/telegram/adapter"
	"agentmon/internal/transport/telegram/router"
	logx "agentmon/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lt := cfg.Logging.Telegram
	chatID := lt.ChatID
	if chatID == 0 && len(cfg.Telegram.ChatIDs) > 0 {
		chatID = cfg.Telegram.ChatIDs[0]
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lt.Enabled,
			ChatID:     chatID,
			ThreadID:   lt.ThreadID,
			MinLevel:   lt.MinLevel,
			RatePerSec: lt.RatePerSec,
		},
	}
}

// mapMonitorConfig resolves the hot-reloadable monitor settings.
func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	m := cfg.Monitor
	loc, err := m.Location()
	if err != nil {
		return monitor.Config{}, err
	}
	raw := strings.TrimSpace(m.Schedule)
	if raw == "" {
		raw = DefaultSchedule
	}
	sched, err := scheduler.Parse(raw, loc)
	if err != nil {
		return monitor.Config{}, err
	}

	out := monitor.Config{
		Schedule:       sched,
		RunOnStart:     m.RunOnStartEnabled(),
		MaxInputTokens: m.MaxInputTokens,
	}
	if out.Lookback, err = config.ParseDurationOrDefault("monitor.lookback", m.Lookback, monitor.DefaultLookback); err != nil {
		return monitor.Config{}, err
	}
	if out.SourceTimeout, err = config.ParseDurationOrDefault("monitor.source_timeout", m.SourceTimeout, monitor.DefaultSourceTimeout); err != nil {
		return monitor.Config{}, err
	}
	if out.AnalyzerTimeout, err = config.ParseDurationOrDefault("monitor.analyzer_timeout", m.AnalyzerTimeout, monitor.DefaultAnalyzerTimeout); err != nil {
		return monitor.Config{}, err
	}
	if out.ExportTimeout, err = config.ParseDurationOrDefault("monitor.export_timeout", m.ExportTimeout, monitor.DefaultExportTimeout); err != nil {
		return monitor.Config{}, err
	}
	return out, nil
}

// DefaultSchedule applies when monitor.schedule is empty.
const DefaultSchedule = "1h"

func mapAnalyzerConfig(cfg *config.Config, mc monitor.Config) analyzer.Config {
	out := analyzer.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         mc.AnalyzerTimeout,
		SystemPrompt:    cfg.LLM.SystemPrompt,
	}
	if cfg.LLM.Temperature != nil {
		out.Temperature = *cfg.LLM.Temperature
	}
	return out
}

func buildSources(cfg *config.Config, mc monitor.Config, loc *time.Location) []monitor.Source {
	return []monitor.Source{
		loki.New(loki.Config{
			Enabled:      cfg.Loki.Enabled,
			URL:          cfg.Loki.URL,
			ExtraQueries: cfg.Loki.ExtraQueries,
			Limit:        cfg.Loki.Limit,
			MaxLineChars: cfg.Loki.MaxLineChars,
			Timeout:      mc.SourceTimeout,
		}),
		prometheus.New(prometheus.Config{
			Enabled:      cfg.Prometheus.Enabled,
			URL:          cfg.Prometheus.URL,
			ExtraQueries: cfg.Prometheus.ExtraQueries,
			Timeout:      mc.SourceTimeout,
		}),
		systemd.New(systemd.Config{
			Enabled: cfg.Units.Enabled,
			Units:   cfg.Units.Watch,
		}, loc),
	}
}

func mapAdapterConfig(cfg *config.Config) (adapter.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.call_timeout", cfg.Telegram.CallTimeout, tgexport.DefaultCallTimeout)
	if err != nil {
		return adapter.Config{}, err
	}
	poll, err := config.ParseDurationOrDefault("telegram.commands.poll_timeout", cfg.Telegram.Commands.PollTimeout, adapter.DefaultPollTimeout)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{Token: cfg.Telegram.Token, APIURL: cfg.Telegram.APIURL, Timeout: timeout, PollTimeout: poll}, nil
}

// mapRouterConfig lets commands through from allowed_chats (default: the
// report chats) and from owners anywhere.
func mapRouterConfig(cfg *config.Config) router.Config {
	tc := cfg.Telegram.Commands
	allowed := tc.AllowedChats
	if len(allowed) == 0 {
		allowed = cfg.Telegram.ChatIDs
	}
	return router.Config{
		AllowedChats: append([]int64(nil), allowed...),
		Owners:       append([]int64(nil), tc.OwnerIDs...),
	}
}

func mapTelegramExportConfig(cfg *config.Config, loc *time.Location) (tgexport.Config, error) {
	tg := cfg.Telegram
	timeout, err := config.ParseDurationOrDefault("telegram.call_timeout", tg.CallTimeout, tgexport.DefaultCallTimeout)
	if err != nil {
		return tgexport.Config{}, err
	}
	return tgexport.Config{
		ChatIDs:       append([]int64(nil), tg.ChatIDs...),
		ThreadID:      tg.ThreadID,
		Title:         tg.Title,
		TimeLayout:    tg.TimeLayout,
		Location:      loc,
		MaxMessageLen: tg.MaxMessageLen,
		RatePerSec:    tg.RatePerSec,
		CallTimeout:   timeout,
	}, nil
}

// mapStorageConfig reports enabled=false when storage is omitted or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	h := cfg.HTTP
	out := api.Config{
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return api.Config{}, err
	}
	// WriteTimeout stays 0 by default so /debug/pprof/profile (30s+) works.
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second); err != nil {
		return api.Config{}, err
	}
	return out, nil
}
