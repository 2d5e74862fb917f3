// Package app wires the daemon together: config, logging, storage, the
// scheduling core and the tick runner.
package app

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/ai"
	"pulse/internal/config"
	"pulse/internal/job"
	"pulse/internal/notify"
	"pulse/internal/runner"
	"pulse/internal/store"
	"pulse/internal/trigger"
	logx "pulse/pkg/logx"
	"pulse/pkg/systemd"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    *store.Store
	runner   *runner.Runner
	schedule *job.Scheduler
	triggers *trigger.Service

	watchCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	rs, err := cfg.RunnerSettings()
	if err != nil {
		return nil, err
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("svc", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	parserTimeout, err := config.ParseDurationOrDefault("parser.timeout", cfg.Parser.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	aiClient := ai.New(ai.Config{
		BaseURL: cfg.Parser.BaseURL,
		APIKey:  cfg.Parser.APIKey,
		Model:   cfg.Parser.Model,
		Timeout: parserTimeout,
	}, log.With(logx.String("svc", "ai")))

	sendTimeout, err := config.ParseDurationOrDefault("notify.send_timeout", cfg.Notify.SendTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	var sender notify.Sender
	if cfg.Notify.TelegramToken != "" {
		sender, err = notify.NewTelegramSender(cfg.Notify.TelegramToken)
		if err != nil {
			return nil, err
		}
	}
	notifier := notify.New(sender, notify.Config{
		RatePerSec:  cfg.Notify.RatePerSec,
		SendTimeout: sendTimeout,
	}, log.With(logx.String("svc", "notify")))

	reg := job.NewRegistry()
	handlers := job.NewHandlers(st, st, notifier, log.With(logx.String("svc", "handlers")))
	handlers.RegisterAll(reg)

	processor := job.NewProcessor(st, reg, job.ProcessorConfig{
		BatchSize:    rs.BatchSize,
		StuckAfter:   rs.StuckAfter,
		JobRetention: rs.JobRetention,
	}, log.With(logx.String("svc", "processor")))

	var aiParser trigger.AIParser
	var queryRunner trigger.QueryRunner
	if aiClient != nil {
		aiParser = aiClient
		queryRunner = aiClient
	}
	parser := trigger.NewParser(aiParser, log.With(logx.String("svc", "parser")))
	executor := trigger.NewExecutor(st, st, st, notifier, queryRunner, trigger.ExecutorConfig{
		BatchSize: rs.BatchSize,
	}, log.With(logx.String("svc", "executor")))

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log.With(logx.String("svc", "app")),
		store:    st,
		runner:   runner.New(processor, executor, rs, log.With(logx.String("svc", "runner"))),
		schedule: job.NewScheduler(st, log.With(logx.String("svc", "scheduler"))),
		triggers: trigger.NewService(st, parser, cfg.DefaultTimezone, log.With(logx.String("svc", "triggers"))),
	}, nil
}

// Scheduler exposes the job-scheduling surface to embedding code.
func (a *App) Scheduler() *job.Scheduler { return a.schedule }

// Triggers exposes the trigger CRUD surface.
func (a *App) Triggers() *trigger.Service { return a.triggers }

// Runner exposes tick diagnostics.
func (a *App) Runner() *runner.Runner { return a.runner }

func (a *App) Start(ctx context.Context) error {
	if err := a.runner.Start(ctx); err != nil {
		return err
	}
	// Work off any backlog accumulated while the daemon was down.
	go a.runner.Tick(ctx)

	// Config hot reload: only the logging section applies live; storage and
	// runner changes need a restart.
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	sub := a.cfgMgr.Subscribe(1)
	go func() {
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				})
				a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
			}
		}
	}()
	go func() {
		if err := a.cfgMgr.Watch(wctx); err != nil && wctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	systemd.NotifyReady()
	go systemd.RunWatchdog(ctx, a.store.Ping)

	a.log.Info("daemon started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	systemd.NotifyStopping()
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.runner.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("daemon stopped")
	return a.logSvc.Close()
}
