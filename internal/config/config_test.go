package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Transport.Telegram.BotToken = "token"
	cfg.Transport.Telegram.ChatId = "42"
	return cfg
}

func TestDefaultsNeedCredentials(t *testing.T) {
	err := Defaults().Validate()
	require.ErrorContains(t, err, "bot_token")
	require.ErrorContains(t, err, "chat_id")

	require.NoError(t, validConfig().Validate())
}

func TestRead(t *testing.T) {
	dir := t.TempDir()

	{
		cfg, err := Read(filepath.Join(dir, "missing.json5"))
		require.NoError(t, err)
		require.Equal(t, Defaults().Tags, cfg.Tags)
	}

	{
		path := filepath.Join(dir, "config.json5")
		err := os.WriteFile(path, []byte(`{
			tags: ["noise rock"],
			store: { path: "data/releases.db" },
			transport: { telegram: { bot_token: "from-file", chat_id: "1" } },
		}`), 0644)
		require.NoError(t, err)

		t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
		cfg, err := Read(path)
		require.NoError(t, err)
		require.Equal(t, []string{"noise rock"}, cfg.Tags)
		require.Equal(t, "data/releases.db", cfg.Store.Path)
		require.Equal(t, 90, cfg.Store.RetentionDays)
		require.Equal(t, "from-env", cfg.Transport.Telegram.BotToken)
		require.Equal(t, "1", cfg.Transport.Telegram.ChatId)
		require.Equal(t, 5, cfg.Transport.Telegram.MaxAttempts)
		require.NoError(t, cfg.Validate())
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *Config)
		err    string
	}{
		{
			name:   "bad time",
			mutate: func(cfg *Config) { cfg.Schedule.Times = []string{"25:00"} },
			err:    "schedule.times",
		},
		{
			name:   "bad timezone",
			mutate: func(cfg *Config) { cfg.Schedule.Timezone = "Mars/Olympus_Mons" },
			err:    "schedule.timezone",
		},
		{
			name: "every tag blacklisted",
			mutate: func(cfg *Config) {
				cfg.Tags = []string{"punk"}
				cfg.BlacklistTags = []string{"Punk "}
			},
			err: "tags",
		},
		{
			name:   "zero retry interval",
			mutate: func(cfg *Config) { cfg.Retry.IntervalMinutes = 0 },
			err:    "retry.interval_minutes",
		},
		{
			name:   "unknown transport",
			mutate: func(cfg *Config) { cfg.Transport.Kind = "carrier-pigeon" },
			err:    "transport.kind",
		},
		{
			name: "email without recipients",
			mutate: func(cfg *Config) {
				cfg.Transport.Kind = TransportEmail
				cfg.Transport.Email.Server = "smtp.example.com"
				cfg.Transport.Email.From = "a@example.com"
			},
			err: "transport.email.to",
		},
		{
			name:   "unknown extractor mode",
			mutate: func(cfg *Config) { cfg.Extractor.Mode = "telepathy" },
			err:    "extractor.mode",
		},
	}

	for _, c := range cases {
		cfg := validConfig()
		c.mutate(&cfg)
		require.ErrorContains(t, cfg.Validate(), c.err, c.name)
	}

	cfg := validConfig()
	cfg.Transport.Kind = TransportLog
	cfg.Transport.Telegram = TelegramConfig{}
	require.NoError(t, cfg.Validate())
}

func TestTags(t *testing.T) {
	cfg := validConfig()
	cfg.Tags = []string{"punk", " Hardcore", "noise", "punk", ""}
	cfg.BlacklistTags = []string{"noise", "ska"}

	require.Equal(t, []string{"punk", "hardcore"}, cfg.WatchedTags())
	require.Equal(t, []string{"noise", "ska"}, cfg.Blacklist())
	require.Equal(t, []string{"noise"}, cfg.Overlapping())
}

func TestDurations(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 90*24*time.Hour, cfg.Retention())
	require.Equal(t, 20*time.Minute, cfg.RetryInterval())
	require.Equal(t, time.Hour, cfg.StatsInterval())
	require.Equal(t, 1500*time.Millisecond, cfg.Extractor.RequestDelay())
	require.Equal(t, 2*time.Second, cfg.Transport.Telegram.SendInterval())

	cfg.Store.RetentionDays = 0
	require.Equal(t, time.Duration(0), cfg.Retention())

	times, err := cfg.DailyTimes()
	require.NoError(t, err)
	require.Len(t, times, 3)
	require.Equal(t, "22:00", times[2].String())
}
