package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("30s", "1h"). Empty means default.
type Config struct {
	AppName    string           `json:"app_name,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Monitor    MonitorConfig    `json:"monitor"`
	LLM        LLMConfig        `json:"llm"`
	Loki       LokiConfig       `json:"loki"`
	Prometheus PrometheusConfig `json:"prometheus"`
	Units      UnitsConfig      `json:"units"`
	Telegram   TelegramConfig   `json:"telegram"`
	HTTP       HTTPConfig       `json:"http"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Systemd    SystemdConfig    `json:"systemd"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings and errors to a chat. ChatID 0 means the
// first of telegram.chat_ids.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig controls the tick loop. All fields apply on hot reload.
type MonitorConfig struct {
	// Schedule accepts "1h", "02:30", "interval:45m", "@hourly" or a cron line.
	Schedule string `json:"schedule"`
	// Timezone for cron schedules and report headers (IANA name). Default UTC.
	Timezone string `json:"timezone,omitempty"`
	// RunOnStart defaults to true when omitted.
	RunOnStart *bool `json:"run_on_start,omitempty"`

	Lookback        string `json:"lookback,omitempty"`
	SourceTimeout   string `json:"source_timeout,omitempty"`
	AnalyzerTimeout string `json:"analyzer_timeout,omitempty"`
	ExportTimeout   string `json:"export_timeout,omitempty"`
	MaxInputTokens  int    `json:"max_input_tokens,omitempty"`
}

// LLMConfig configures the OpenAI-compatible chat completions endpoint.
// An empty APIKey disables analysis and every report uses the fallback.
type LLMConfig struct {
	APIKey          string   `json:"api_key,omitempty"`
	BaseURL         string   `json:"base_url,omitempty"`
	Model           string   `json:"model,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
}

type LokiConfig struct {
	Enabled      bool     `json:"enabled"`
	URL          string   `json:"url"`
	ExtraQueries []string `json:"extra_queries,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	MaxLineChars int      `json:"max_line_chars,omitempty"`
}

type PrometheusConfig struct {
	Enabled      bool     `json:"enabled"`
	URL          string   `json:"url"`
	ExtraQueries []string `json:"extra_queries,omitempty"`
}

// UnitsConfig reports failed systemd units plus the state of Watch.
// Bare names get ".service" appended; globs are allowed.
type UnitsConfig struct {
	Enabled bool     `json:"enabled"`
	Watch   []string `json:"watch,omitempty"`
}

// TelegramConfig configures the report exporter and the optional chat
// command surface. The token is never logged.
type TelegramConfig struct {
	Token         string  `json:"token,omitempty"`
	APIURL        string  `json:"api_url,omitempty"`
	ChatIDs       []int64 `json:"chat_ids"`
	ThreadID      int     `json:"thread_id,omitempty"`
	Title         string  `json:"title,omitempty"`
	TimeLayout    string  `json:"time_layout,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	CallTimeout   string  `json:"call_timeout,omitempty"`
	MaxMessageLen int     `json:"max_message_len,omitempty"`

	Commands TelegramCommands `json:"commands"`
}

// TelegramCommands enables /report, /run and /status via getUpdates polling.
// AllowedChats defaults to chat_ids; owners may also use private chats.
type TelegramCommands struct {
	Enabled      bool    `json:"enabled"`
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
	OwnerIDs     []int64 `json:"owner_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// HTTPConfig controls the operational HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls persistence of report message ids.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/agentmon.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// RunOnStartEnabled reports the effective monitor.run_on_start.
func (m MonitorConfig) RunOnStartEnabled() bool {
	return m.RunOnStart == nil || *m.RunOnStart
}
