// Package config is the on-disk configuration of tagwatch.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"tagwatch/internal/components/chrono"
	"tagwatch/internal/components/telemetry"
	"tagwatch/lib/configutil"
)

type ScheduleConfig struct {
	// Times are wall clock times in "HH:MM" format at which a cycle runs.
	Times    []string `json:"times"`
	Timezone string   `json:"timezone"`
}

const (
	ExtractorModeHttp    = "http"
	ExtractorModeBrowser = "browser"
)

type ExtractorConfig struct {
	BaseUrl        string `json:"base_url"`
	UserAgent      string `json:"user_agent"`
	RequestDelayMs int    `json:"request_delay_ms"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Mode           string `json:"mode"`
	ViewMoreClicks int    `json:"view_more_clicks"`
	// BrowserUrl is the devtools url of an already running chrome,
	// when empty a headless one is launched.
	BrowserUrl string `json:"browser_url"`
	// DumpDir is where raw http exchanges are written in http mode, for debugging.
	DumpDir string `json:"dump_dir"`
}

type StoreConfig struct {
	// Path is a sqlite file path, ":memory:" or a libsql url.
	Path string `json:"path"`
	// RetentionDays of 0 or less disables purging.
	RetentionDays int `json:"retention_days"`
}

type RetryConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
}

type TelegramConfig struct {
	BotToken             string `json:"bot_token"`
	ChatId               string `json:"chat_id"`
	ApiUrl               string `json:"api_url"`
	MaxAttempts          int    `json:"max_attempts"`
	SendIntervalMs       int    `json:"send_interval_ms"`
	MaxDescriptionLength int    `json:"max_description_length"`
}

type EmailConfig struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

const (
	TransportTelegram = "telegram"
	TransportEmail    = "email"
	TransportLog      = "log"
)

type TransportConfig struct {
	Kind     string         `json:"kind"`
	Telegram TelegramConfig `json:"telegram"`
	Email    EmailConfig    `json:"email"`
}

type NotificationsConfig struct {
	DisableStartupMessage bool `json:"disable_startup_message"`
	DisableCycleSummary   bool `json:"disable_cycle_summary"`
}

type Config struct {
	Schedule             ScheduleConfig      `json:"schedule"`
	Tags                 []string            `json:"tags"`
	BlacklistTags        []string            `json:"blacklist_tags"`
	Extractor            ExtractorConfig     `json:"extractor"`
	Store                StoreConfig         `json:"store"`
	Retry                RetryConfig         `json:"retry"`
	StatsIntervalMinutes int                 `json:"stats_interval_minutes"`
	Transport            TransportConfig     `json:"transport"`
	Notifications        NotificationsConfig `json:"notifications"`
	Telemetry            telemetry.Config    `json:"telemetry"`
}

func Defaults() Config {
	return Config{
		Schedule: ScheduleConfig{
			Times:    []string{"08:00", "14:00", "22:00"},
			Timezone: "UTC",
		},
		Tags: []string{"punk", "hardcore"},
		Extractor: ExtractorConfig{
			BaseUrl:        "https://bandcamp.com",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestDelayMs: 1500,
			TimeoutSeconds: 30,
			Mode:           ExtractorModeHttp,
			ViewMoreClicks: 5,
		},
		Store: StoreConfig{
			Path:          "tagwatch.db",
			RetentionDays: 90,
		},
		Retry: RetryConfig{
			IntervalMinutes: 20,
		},
		StatsIntervalMinutes: 60,
		Transport: TransportConfig{
			Kind: TransportTelegram,
			Telegram: TelegramConfig{
				ApiUrl:         "https://api.telegram.org",
				MaxAttempts:    5,
				SendIntervalMs: 2000,
			},
			Email: EmailConfig{
				Port: 587,
			},
		},
	}
}

// Read reads the config file at path (and its local override) on top of Defaults,
// a missing file is not an error. Secrets in the environment take priority over the file.
func Read(path string) (Config, error) {
	cfg, err := configutil.ReadConfig(path, Defaults())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides secrets with environment variables when they are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("TELEGRAM_BOT_TOKEN"); ok && v != "" {
		c.Transport.Telegram.BotToken = v
	}
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok && v != "" {
		c.Transport.Telegram.ChatId = v
	}
	if v, ok := lookup("SMTP_PASSWORD"); ok && v != "" {
		c.Transport.Email.Password = v
	}
}

// DailyTimes parses Schedule.Times.
func (c Config) DailyTimes() ([]chrono.DailyTime, error) {
	out := make([]chrono.DailyTime, 0, len(c.Schedule.Times))
	for _, value := range c.Schedule.Times {
		t, err := chrono.ParseDailyTime(value)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// WatchedTags returns the tags to watch without any that are also blacklisted,
// blacklisting takes precedence.
func (c Config) WatchedTags() []string {
	var out []string
	for _, tag := range normalizeTags(c.Tags) {
		if !slices.Contains(c.Blacklist(), tag) {
			out = append(out, tag)
		}
	}
	return out
}

// Blacklist returns the blacklisted tags, trimmed and deduplicated.
func (c Config) Blacklist() []string {
	return normalizeTags(c.BlacklistTags)
}

// Overlapping returns the tags that are both watched and blacklisted.
func (c Config) Overlapping() []string {
	var out []string
	blacklist := c.Blacklist()
	for _, tag := range normalizeTags(c.Tags) {
		if slices.Contains(blacklist, tag) {
			out = append(out, tag)
		}
	}
	return out
}

func normalizeTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

func (c Config) Retention() time.Duration {
	if c.Store.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.Retry.IntervalMinutes) * time.Minute
}

func (c Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMinutes) * time.Minute
}

func (c ExtractorConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

func (c ExtractorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c TelegramConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMs) * time.Millisecond
}

// Validate returns every problem with the config joined into one error.
func (c Config) Validate() error {
	var errs []error

	if len(c.Schedule.Times) == 0 {
		errs = append(errs, fmt.Errorf("schedule.times: at least one time is required"))
	}
	_, err := c.DailyTimes()
	if err != nil {
		errs = append(errs, fmt.Errorf("schedule.times: %w", err))
	}
	_, err = chrono.NewStandardTime(c.Schedule.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}

	if len(c.WatchedTags()) == 0 {
		errs = append(errs, fmt.Errorf("tags: at least one tag that is not blacklisted is required"))
	}

	_, err = url.ParseRequestURI(c.Extractor.BaseUrl)
	if err != nil {
		errs = append(errs, fmt.Errorf("extractor.base_url: %w", err))
	}
	if c.Extractor.RequestDelayMs < 0 {
		errs = append(errs, fmt.Errorf("extractor.request_delay_ms: must not be negative"))
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("extractor.timeout_seconds: must be positive"))
	}
	switch c.Extractor.Mode {
	case ExtractorModeHttp, ExtractorModeBrowser:
	default:
		errs = append(errs, fmt.Errorf("extractor.mode: unknown mode '%s'", c.Extractor.Mode))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path: is required"))
	}
	if c.Retry.IntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("retry.interval_minutes: must be positive"))
	}
	if c.StatsIntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("stats_interval_minutes: must not be negative"))
	}

	switch c.Transport.Kind {
	case TransportTelegram:
		if c.Transport.Telegram.BotToken == "" {
			errs = append(errs, fmt.Errorf("transport.telegram.bot_token: is required (or set TELEGRAM_BOT_TOKEN)"))
		}
		if c.Transport.Telegram.ChatId == "" {
			errs = append(errs, fmt.Errorf("transport.telegram.chat_id: is required (or set TELEGRAM_CHAT_ID)"))
		}
		if c.Transport.Telegram.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("transport.telegram.max_attempts: must be positive"))
		}
	case TransportEmail:
		if c.Transport.Email.Server == "" {
			errs = append(errs, fmt.Errorf("transport.email.server: is required"))
		}
		if c.Transport.Email.From == "" {
			errs = append(errs, fmt.Errorf("transport.email.from: is required"))
		}
		if len(c.Transport.Email.To) == 0 {
			errs = append(errs, fmt.Errorf("transport.email.to: at least one recipient is required"))
		}
	case TransportLog:
	default:
		errs = append(errs, fmt.Errorf("transport.kind: unknown transport '%s'", c.Transport.Kind))
	}

	return errors.Join(errs...)
}
