package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AGENTMON_LLM_API_KEY.
const EnvPrefix = "AGENTMON"

type envBinding struct {
	key   string
	apply func(cfg *Config, v *viper.Viper, key string) error
}

func setString(dst func(*Config) *string) func(*Config, *viper.Viper, string) error {
	return func(cfg *Config, v *viper.Viper, key string) error {
		*dst(cfg) = strings.TrimSpace(v.GetString(key))
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, *viper.Viper, string) error {
	return func(cfg *Config, v *viper.Viper, key string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			return fmt.Errorf("%s: invalid bool: %w", envName(key), err)
		}
		*dst(cfg) = b
		return nil
	}
}

// envBindings lists the keys that may be overridden from the environment.
// Secrets belong here so they can stay out of config files.
var envBindings = []envBinding{
	{"logging.level", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"monitor.schedule", setString(func(c *Config) *string { return &c.Monitor.Schedule })},
	{"monitor.timezone", setString(func(c *Config) *string { return &c.Monitor.Timezone })},
	{"llm.api_key", setString(func(c *Config) *string { return &c.LLM.APIKey })},
	{"llm.base_url", setString(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"llm.model", setString(func(c *Config) *string { return &c.LLM.Model })},
	{"loki.enabled", setBool(func(c *Config) *bool { return &c.Loki.Enabled })},
	{"loki.url", setString(func(c *Config) *string { return &c.Loki.URL })},
	{"prometheus.enabled", setBool(func(c *Config) *bool { return &c.Prometheus.Enabled })},
	{"prometheus.url", setString(func(c *Config) *string { return &c.Prometheus.URL })},
	{"telegram.token", setString(func(c *Config) *string { return &c.Telegram.Token })},
	{"telegram.api_url", setString(func(c *Config) *string { return &c.Telegram.APIURL })},
	{"telegram.chat_ids", func(cfg *Config, v *viper.Viper, key string) error {
		ids, err := ParseChatIDs(v.GetString(key))
		if err != nil {
			return fmt.Errorf("%s: %w", envName(key), err)
		}
		cfg.Telegram.ChatIDs = ids
		return nil
	}},
	{"http.addr", setString(func(c *Config) *string { return &c.HTTP.Addr })},
	{"http.token", setString(func(c *Config) *string { return &c.HTTP.Token })},
	{"storage.driver", func(cfg *Config, v *viper.Viper, key string) error {
		ensureStorage(cfg).Driver = strings.TrimSpace(v.GetString(key))
		return nil
	}},
	{"storage.path", func(cfg *Config, v *viper.Viper, key string) error {
		ensureStorage(cfg).Path = strings.TrimSpace(v.GetString(key))
		return nil
	}},
}

func ensureStorage(cfg *Config) *StorageConfig {
	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	return cfg.Storage
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv overrides cfg with any AGENTMON_* variables that are set and
// non-empty.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	v := newEnvViper()
	for _, b := range envBindings {
		if err := v.BindEnv(b.key); err != nil {
			return err
		}
		if !v.IsSet(b.key) {
			continue
		}
		if err := b.apply(cfg, v, b.key); err != nil {
			return err
		}
	}
	return nil
}

// EnvKeys returns the environment variable names ApplyEnv honors.
func EnvKeys() []string {
	out := make([]string, 0, len(envBindings))
	for _, b := range envBindings {
		out = append(out, envName(b.key))
	}
	return out
}

// ParseChatIDs parses a comma separated list of chat ids. Blank items are skipped.
func ParseChatIDs(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
