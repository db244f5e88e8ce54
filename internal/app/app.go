// Package app wires the process: config, logging, storage, transport, the
// publishing pipeline, the schedule registry and the command surface.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"draftbot/internal/bot"
	"draftbot/internal/config"
	"draftbot/internal/publish"
	"draftbot/internal/schedule"
	"draftbot/internal/store"
	"draftbot/internal/transport"
	"draftbot/internal/transport/telegram"
	"draftbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultBusyTimeout = 5 * time.Second
	defaultJustifyTTL  = 10 * time.Minute
	defaultKeepSent    = 30 * 24 * time.Hour
	defaultPruneCron   = "0 4 * * *"
	updateQueueSize    = 128
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	st       *store.Store
	adapter  *telegram.Adapter
	targets  *publish.Targets
	sender   *publish.Sender
	pipeline *publish.Pipeline
	registry *schedule.Registry
	bot      *bot.Bot
	justify  *bot.Justifier
	cron     *cron.Cron

	updates chan transport.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pause, err := config.ParseDurationField("publish.pause", cfg.Publish.Pause)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	loc := cfg.Location()
	targets := publish.NewTargets(cfg.Channels.Primary, cfg.Channels.Backup, cfg.Channels.Preview, cfg.Publish.BackupEnabled)
	sender := publish.NewSender(pause, log.With(logx.String("comp", "sender")))

	// The registry's runner is the bot's scheduled-publish path; the bot in
	// turn needs the registry, so the runner closes over the late binding.
	var b *bot.Bot
	registry := schedule.NewRegistry(func(ctx context.Context, ids []int) {
		b.RunScheduled(ctx, ids)
	}, log.With(logx.String("comp", "schedule")))

	pipeline := publish.NewPipeline(st, adapter, sender, targets, registry, cfg.Channels.Source, log.With(logx.String("comp", "publish")))

	var justify *bot.Justifier
	if cfg.Justify.Enabled && cfg.Justify.Channel != 0 {
		ttl, terr := config.ParseDurationOrDefault("justify.ttl", cfg.Justify.TTL, defaultJustifyTTL)
		if terr != nil {
			_ = st.Close()
			return nil, terr
		}
		justify = bot.NewJustifier(adapter, cfg.Justify.Channel, ttl, log.With(logx.String("comp", "justify")))
	}

	b = bot.New(bot.Options{
		Adapter:  adapter,
		Store:    st,
		Pipeline: pipeline,
		Registry: registry,
		Targets:  targets,
		Channels: cfg.Channels,
		Location: loc,
		TZName:   cfg.Schedule.Timezone,
		Justify:  justify,
		Admins:   cfg.Telegram.AdminUserIDs,
		Log:      log.With(logx.String("comp", "bot")),
	})

	a := &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log,
		st:       st,
		adapter:  adapter,
		targets:  targets,
		sender:   sender,
		pipeline: pipeline,
		registry: registry,
		bot:      b,
		justify:  justify,
	}
	a.setupRetention(cfg, loc)
	return a, nil
}

func (a *App) setupRetention(cfg *config.Config, loc *time.Location) {
	if !cfg.Retention.Enabled {
		return
	}
	keep, err := config.ParseDurationOrDefault("retention.keep_sent", cfg.Retention.KeepSent, defaultKeepSent)
	if err != nil {
		a.log.Warn("retention disabled", logx.Err(err))
		return
	}
	spec := cfg.Retention.Cron
	if spec == "" {
		spec = defaultPruneCron
	}
	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := a.st.PruneSent(ctx, keep)
		if err != nil {
			a.log.Warn("prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("pruned published drafts", logx.Int64("rows", n))
		}
	})
	if err != nil {
		a.log.Warn("retention disabled", logx.String("cron", spec), logx.Err(err))
		return
	}
	a.cron = c
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.updates = make(chan transport.Update, updateQueueSize)

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-a.updates:
				a.bot.HandleUpdate(ctx, u)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()

	sub := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	if a.cron != nil {
		a.cron.Start()
	}
	a.log.Info("bot started")
	return nil
}

// applyReload applies the hot-reloadable subset of a committed config:
// logging, destination chats, backup default and pacing. Token, source
// channel, storage path and timezone need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.targets.Apply(cfg.Channels.Primary, cfg.Channels.Backup, cfg.Channels.Preview)
	if pause, err := config.ParseDurationField("publish.pause", cfg.Publish.Pause); err == nil {
		a.sender.SetPause(pause)
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}
	err := a.adapter.Stop(ctx)
	a.registry.Stop()
	if a.justify != nil {
		a.justify.Stop()
	}
	a.wg.Wait()
	if cerr := a.st.Close(); err == nil {
		err = cerr
	}
	a.log.Info("bot stopped")
	_ = a.logs.Close()
	return err
}
