package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/pullpilot/internal/env"
)

// EnvPrefix is prepended to every environment override, e.g. PULLPILOT_API_URL.
const EnvPrefix = "PULLPILOT"

// Defaults
const (
	DefaultAPIURL           = "http://127.0.0.1:8000/api"
	DefaultAPITimeout       = 10 * time.Second
	DefaultPollInterval     = time.Second
	DefaultFallbackDelay    = 1500 * time.Millisecond
	DefaultDashboardListen  = "127.0.0.1:8090"
	DefaultDashboardRefresh = "@every 30s"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Config is the full PullPilot configuration.
type Config struct {
	API       APIConfig       `toml:"api" mapstructure:"api"`
	Poll      PollConfig      `toml:"poll" mapstructure:"poll"`
	Fallback  FallbackConfig  `toml:"fallback" mapstructure:"fallback"`
	Dashboard DashboardConfig `toml:"dashboard" mapstructure:"dashboard"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Session   SessionConfig   `toml:"session" mapstructure:"session"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
}

// APIConfig points at the Remote Gateway.
type APIConfig struct {
	URL      string        `toml:"url" mapstructure:"url"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
	Insecure bool          `toml:"insecure" mapstructure:"insecure"`
	CACert   string        `toml:"ca_cert" mapstructure:"ca_cert"`
}

type PollConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// FallbackConfig tunes the simulated source used when the gateway is down.
type FallbackConfig struct {
	Delay time.Duration `toml:"delay" mapstructure:"delay"`
}

// DashboardConfig configures the web dashboard. Refresh is a cron
// schedule for re-fetching fleet state; empty disables it.
type DashboardConfig struct {
	Listen  string    `toml:"listen" mapstructure:"listen"`
	Refresh string    `toml:"refresh" mapstructure:"refresh"`
	TLS     TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the dashboard over HTTPS. CertFile and KeyFile take
// precedence; otherwise tls.crt and tls.key are read from Dir, generated
// there first when AutoGenerate is set.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
}

// HistoryConfig enables archiving of fetched history records.
// An empty ArchiveDSN disables archiving.
type HistoryConfig struct {
	ArchiveDSN string `toml:"archive_dsn" mapstructure:"archive_dsn"`
}

// SessionConfig sets where login credentials are kept. Empty means ~/.pullpilot.
type SessionConfig struct {
	Dir string `toml:"dir" mapstructure:"dir"`
}

// LogConfig configures the process logger. File enables a rotated log
// file in addition to the terminal.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	c, _ := decode(newViper())
	return c
}

// Load reads path (toml, yaml or json by extension) and applies
// PULLPILOT_* environment overrides on top of the defaults. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if !hasExt(path) {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values the controller cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.URL) == "" {
		return fmt.Errorf("api.url is required")
	}
	if !strings.HasPrefix(c.API.URL, "http://") && !strings.HasPrefix(c.API.URL, "https://") {
		return fmt.Errorf("api.url must be an http(s) url: %q", c.API.URL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.Fallback.Delay < 0 {
		return fmt.Errorf("fallback.delay must not be negative")
	}
	if t := c.Dashboard.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		return fmt.Errorf("dashboard.tls needs cert_file and key_file or dir")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("api.url", DefaultAPIURL)
	v.SetDefault("api.timeout", DefaultAPITimeout)
	v.SetDefault("api.insecure", false)
	v.SetDefault("api.ca_cert", "")
	v.SetDefault("poll.interval", DefaultPollInterval)
	v.SetDefault("fallback.delay", DefaultFallbackDelay)
	v.SetDefault("dashboard.listen", DefaultDashboardListen)
	v.SetDefault("dashboard.refresh", DefaultDashboardRefresh)
	v.SetDefault("dashboard.tls.enabled", false)
	v.SetDefault("dashboard.tls.cert_file", "")
	v.SetDefault("dashboard.tls.key_file", "")
	v.SetDefault("dashboard.tls.dir", "")
	v.SetDefault("dashboard.tls.auto_generate", false)
	v.SetDefault("dashboard.tls.min_version", "1.2")
	v.SetDefault("history.archive_dsn", "")
	v.SetDefault("session.dir", "")
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.expand(env.New())
	return &c, nil
}

// expand resolves ${VAR} references in values that commonly carry
// secrets or host-specific paths.
func (c *Config) expand(e *env.Env) {
	for _, s := range []*string{
		&c.API.URL,
		&c.API.CACert,
		&c.History.ArchiveDSN,
		&c.Session.Dir,
		&c.Log.File,
		&c.Dashboard.TLS.CertFile,
		&c.Dashboard.TLS.KeyFile,
		&c.Dashboard.TLS.Dir,
	} {
		*s = e.Expand(*s)
	}
}

func hasExt(path string) bool {
	i := strings.LastIndexByte(path, '.')
	return i >= 0 && i > strings.LastIndexAny(path, `/\`)
}
