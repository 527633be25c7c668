package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tagwatch/internal/components/chrono"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/config"
	"tagwatch/internal/db"
	"tagwatch/internal/ingest"
	"tagwatch/internal/notify"
	"tagwatch/internal/retry"
	"tagwatch/internal/scrapers/bandcamp"
	"tagwatch/internal/store"
)

// app holds everything a command may need, the pipeline parts are only set up
// for commands that deliver releases.
type app struct {
	cfg   config.Config
	tel   telemetry.API
	clock chrono.StandardTime
	db    *sql.DB
	store store.SQLiteStore

	notifier     notify.Notifier
	orchestrator ingest.Orchestrator
	coordinator  *retry.Coordinator

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadConfig reads the config, full validation is only done for commands that
// run the pipeline, the others just need the store.
func loadConfig(full bool) (config.Config, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if full {
		err = cfg.Validate()
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid config %s:\n%w", configPath, err)
		}
		return cfg, nil
	}
	if cfg.Store.Path == "" {
		return config.Config{}, errors.New("store.path: is required")
	}
	return cfg, nil
}

func newNotifier(cfg config.Config, tel telemetry.API) (notify.Notifier, error) {
	switch cfg.Transport.Kind {
	case config.TransportTelegram:
		t := cfg.Transport.Telegram
		return notify.NewTelegram(notify.TelegramOptions{
			BotToken:             t.BotToken,
			ChatId:               t.ChatId,
			ApiUrl:               t.ApiUrl,
			MaxAttempts:          t.MaxAttempts,
			SendInterval:         t.SendInterval(),
			MaxDescriptionLength: t.MaxDescriptionLength,
		}, tel), nil
	case config.TransportEmail:
		e := cfg.Transport.Email
		return notify.NewEmail(notify.EmailOptions{
			Server:   e.Server,
			Port:     e.Port,
			From:     e.From,
			To:       e.To,
			Username: e.Username,
			Password: e.Password,
		}, tel), nil
	case config.TransportLog:
		return notify.NewLog(tel), nil
	}
	return nil, fmt.Errorf("unknown transport '%s'", cfg.Transport.Kind)
}

func (a *app) newFetcher() (bandcamp.Fetcher, error) {
	opts := a.cfg.Extractor
	if opts.Mode == config.ExtractorModeBrowser {
		fetcher := bandcamp.NewBrowserFetcher(bandcamp.BrowserFetcherOptions{
			ControlUrl:     opts.BrowserUrl,
			ViewMoreClicks: opts.ViewMoreClicks,
			Timeout:        opts.Timeout(),
		}, a.tel)
		a.closers = append(a.closers, fetcher.Close)
		return fetcher, nil
	}
	return bandcamp.NewHttpFetcher(bandcamp.HttpFetcherOptions{
		UserAgent: opts.UserAgent,
		Timeout:   opts.Timeout(),
		DumpDir:   opts.DumpDir,
	}, a.tel)
}

// newApp opens the store, and if pipeline is true also sets up the transport,
// extractor, orchestrator and retry coordinator.
func newApp(ctx context.Context, pipeline bool) (*app, error) {
	cfg, err := loadConfig(pipeline)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		tel: telemetry.SlogAPI{},
	}

	otel, err := telemetry.Setup(ctx, "tagwatch", cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		err := otel.Shutdown(context.Background())
		if err != nil {
			a.tel.ReportWarning("app.telemetry-shutdown", err)
		}
	})

	a.clock, err = chrono.NewStandardTime(cfg.Schedule.Timezone)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	a.db, err = db.OpenDB(ctx, cfg.Store.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		a.db.Close()
	})
	a.store = store.NewSQLiteStore(a.db, a.clock)

	if !pipeline {
		return a, nil
	}

	for _, tag := range cfg.Overlapping() {
		a.tel.ReportWarning("config.tags", fmt.Sprintf("tag '%s' is both watched and blacklisted, it is treated as blacklisted", tag))
	}

	a.notifier, err = newNotifier(cfg, a.tel)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetcher, err := a.newFetcher()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	extractor, err := bandcamp.NewClient(bandcamp.ClientOptions{
		BaseUrl:      cfg.Extractor.BaseUrl,
		RequestDelay: cfg.Extractor.RequestDelay(),
	}, fetcher, a.tel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	ingestTel := telemetry.NewScopedAPI("ingest", a.tel)
	deliverer := ingest.NewDeliverer(a.store, a.notifier, a.clock, ingestTel)
	engine := ingest.NewEngine(a.store, a.clock, cfg.Blacklist())
	pipe := ingest.NewPipeline(engine, a.store, deliverer, ingestTel)
	a.orchestrator = ingest.NewOrchestrator(
		extractor,
		pipe,
		a.store,
		a.notifier,
		ingest.OrchestratorOptions{
			Tags:          cfg.WatchedTags(),
			BlacklistTags: cfg.Blacklist(),
			Retention:     cfg.Retention(),
			Summary:       !cfg.Notifications.DisableCycleSummary,
		},
		ingestTel,
	)
	a.coordinator = retry.NewCoordinator(a.store, deliverer, cfg.RetryInterval(), a.tel)

	return a, nil
}
