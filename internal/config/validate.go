package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"agentmon/internal/scheduler"
	logx "agentmon/pkg/logx"
)

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	addf := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	// logging
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		addf("logging.level: unknown level %q", lvl)
	}
	if lt := cfg.Logging.Telegram; lt.Enabled {
		if lvl := strings.TrimSpace(lt.MinLevel); lvl != "" && !logx.ValidLevel(lvl) {
			addf("logging.telegram.min_level: unknown level %q", lvl)
		}
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			addf("logging.telegram: telegram.token is required")
		}
		if lt.ChatID == 0 && len(cfg.Telegram.ChatIDs) == 0 {
			addf("logging.telegram: chat_id or telegram.chat_ids is required")
		}
		if lt.RatePerSec < 0 {
			addf("logging.telegram.rate_per_sec: must be >= 0")
		}
	}

	// monitor
	m := cfg.Monitor
	if s := strings.TrimSpace(m.Schedule); s != "" {
		if _, err := scheduler.ParseSpec(s); err != nil {
			addf("monitor.schedule: %w", err)
		}
	}
	if _, err := m.Location(); err != nil {
		add(err)
	}
	if _, err := ParsePositiveDuration("monitor.lookback", m.Lookback); err != nil {
		add(err)
	}
	for path, raw := range map[string]string{
		"monitor.source_timeout":   m.SourceTimeout,
		"monitor.analyzer_timeout": m.AnalyzerTimeout,
		"monitor.export_timeout":   m.ExportTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	if m.MaxInputTokens < 0 || (m.MaxInputTokens > 0 && m.MaxInputTokens < MinInputTokens) {
		addf("monitor.max_input_tokens: must be 0 (default) or >= %d", MinInputTokens)
	}

	// llm
	if cfg.LLM.MaxOutputTokens < 0 {
		addf("llm.max_output_tokens: must be >= 0")
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		addf("llm.temperature: must be within [0, 2]")
	}
	if u := strings.TrimSpace(cfg.LLM.BaseURL); u != "" {
		add(validateHTTPURL("llm.base_url", u))
	}

	// sources
	if cfg.Loki.Enabled {
		add(validateHTTPURL("loki.url", cfg.Loki.URL))
	}
	if cfg.Loki.Limit < 0 || cfg.Loki.MaxLineChars < 0 {
		addf("loki: limit and max_line_chars must be >= 0")
	}
	if cfg.Prometheus.Enabled {
		add(validateHTTPURL("prometheus.url", cfg.Prometheus.URL))
	}

	// telegram exporter
	tg := cfg.Telegram
	if len(tg.ChatIDs) > 0 && strings.TrimSpace(tg.Token) == "" {
		addf("telegram.token: required when chat_ids are set")
	}
	for i, id := range tg.ChatIDs {
		if id == 0 {
			addf("telegram.chat_ids[%d]: must be non-zero", i)
		}
	}
	if u := strings.TrimSpace(tg.APIURL); u != "" {
		add(validateHTTPURL("telegram.api_url", u))
	}
	if tg.RatePerSec < 0 {
		addf("telegram.rate_per_sec: must be >= 0")
	}
	if tg.MaxMessageLen != 0 && (tg.MaxMessageLen < 200 || tg.MaxMessageLen > 4096) {
		addf("telegram.max_message_len: must be within [200, 4096]")
	}
	if _, err := ParseDurationField("telegram.call_timeout", tg.CallTimeout); err != nil {
		add(err)
	}
	if tc := tg.Commands; tc.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			addf("telegram.commands: telegram.token is required")
		}
		if len(tc.AllowedChats) == 0 && len(tg.ChatIDs) == 0 && len(tc.OwnerIDs) == 0 {
			addf("telegram.commands: allowed_chats, chat_ids or owner_ids is required")
		}
		for i, id := range tc.OwnerIDs {
			if id <= 0 {
				addf("telegram.commands.owner_ids[%d]: must be a positive user id", i)
			}
		}
		if d, err := ParseDurationField("telegram.commands.poll_timeout", tc.PollTimeout); err != nil {
			add(err)
		} else if d != 0 && (d < time.Second || d > 50*time.Second) {
			addf("telegram.commands.poll_timeout: must be within [1s, 50s]")
		}
	}

	// http
	if cfg.HTTP.Enabled {
		add(validateHTTP(cfg.HTTP))
	}

	// storage
	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				addf("storage.path: required for driver %q", d)
			}
		default:
			addf("storage.driver: unknown driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			add(err)
		}
	}

	return errors.Join(errs...)
}

// Location resolves monitor.timezone; empty means UTC.
func (m MonitorConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(m.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("monitor.timezone: %w", err)
	}
	return loc, nil
}

func validateHTTPURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s: required", path)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an http(s) URL, got %q", path, raw)
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = DefaultHTTPAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("http.addr: %w", err)
	}
	if !isLoopbackHost(host) && strings.TrimSpace(h.Token) == "" && !h.AllowInsecure {
		return fmt.Errorf("http.addr: %q is not loopback; set http.token or http.allow_insecure", addr)
	}
	var errs []error
	for path, raw := range map[string]string{
		"http.read_timeout":  h.ReadTimeout,
		"http.write_timeout": h.WriteTimeout,
		"http.idle_timeout":  h.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultHTTPAddr is used when http.addr is empty.
const DefaultHTTPAddr = "127.0.0.1:8080"

// MinInputTokens is the smallest accepted monitor.max_input_tokens.
const MinInputTokens = 64

func isLoopbackHost(host string) bool {
	if host == "" {
		// ":8080" listens on every interface.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
