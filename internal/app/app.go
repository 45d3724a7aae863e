// Package app wires config, logging, storage, the trigger and delivery
// services, the command dispatcher and the Telegram transport into one
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dutybot/internal/config"
	"dutybot/internal/core"
	"dutybot/internal/services/notify"
	"dutybot/internal/services/scheduler"
	"dutybot/internal/storage"
	telegram "dutybot/internal/transport/telegram"
	logx "dutybot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	sched    *scheduler.Service
	notif    *notify.Service
	tenants  *core.TenantService
	dispatch *core.Dispatcher
	adapter  *telegram.Adapter

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

// adapterSender forwards notifier deliveries to the Telegram adapter.
// It exists to break the construction cycle: the notifier is built
// before the adapter, because the adapter needs the dispatcher, which
// needs the tenant service, which needs the notifier.
type adapterSender struct{ app *App }

func (s adapterSender) SendText(ctx context.Context, tenantID, text string) error {
	if s.app.adapter == nil {
		return errors.New("telegram adapter not ready")
	}
	return s.app.adapter.SendText(ctx, tenantID, text)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgPath: cfgPath, cfgm: cfgm, log: log, logs: logSvc}

	st, err := storage.Open(mapStorageConfig(cfg), logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.store = st

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.sched = scheduler.New(schedCfg,
		func(ctx context.Context, tenantID string) { a.tenants.OnFire(ctx, tenantID) },
		logSvc.Logger().With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.notif = notify.New(ncfg, adapterSender{app: a},
		logSvc.Logger().With(logx.String("comp", "notify")))

	a.tenants = core.NewTenantService(a.store, a.sched, a.notif,
		logSvc.Logger().With(logx.String("comp", "core")))
	a.dispatch = core.NewDispatcher(a.tenants, core.Registry(),
		logSvc.Logger().With(logx.String("comp", "dispatch")))

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.dispatch, a.tenants, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.adapter = ad

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.notif.Start(rctx)
	a.sched.Start(rctx)

	// Re-arm triggers for everything on disk before accepting commands,
	// so a restart never silently drops reminders.
	tenants, err := a.store.ListAll(rctx)
	if err != nil {
		return err
	}
	installed := a.sched.Reinstall(rctx, tenants)
	a.log.Info("triggers reinstalled",
		logx.Int("tenants", len(tenants)), logx.Int("installed", installed))

	if err := a.adapter.Start(rctx); err != nil {
		return err
	}

	a.startConfigReload(rctx)

	a.log.Info("app started")
	return nil
}

// startConfigReload wires hot reload: the watcher revalidates and
// publishes configs; the reload loop applies what can change live
// (logging) and flags the rest as restart-required.
func (a *App) startConfigReload(ctx context.Context) {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.runWG.Add(2)

	go func() {
		defer a.runWG.Done()
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				for _, s := range sections {
					switch s {
					case "logging":
						// applied live above
					default:
						a.log.Warn("config section changed; restart required to take effect",
							logx.String("section", s))
					}
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	}()

	go func() {
		defer a.runWG.Done()
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()
}

func (a *App) Stop(ctx context.Context, reason string) error {
	a.log.Info("stopping", logx.String("reason", reason))

	if a.runCancel != nil {
		a.runCancel()
	}

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Inbound first so no new commands race the drain, then triggers,
	// then the delivery queue, then storage.
	step("telegram", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notify", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("config loops still running at shutdown deadline")
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Logger exposes the app root logger for the entrypoint.
func (a *App) Logger() logx.Logger { return a.log }

func mapStorageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	fireTimeout, err := config.ParseDurationField("scheduler.fire_timeout", cfg.Scheduler.FireTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:    cfg.Scheduler.Timezone,
		Workers:     cfg.Scheduler.Workers,
		QueueSize:   cfg.Scheduler.QueueSize,
		FireTimeout: fireTimeout,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notify.Config{}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}
