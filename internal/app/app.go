// Package app wires configuration, logging, storage, the gateway session,
// and the digest trigger into one runnable unit, and exposes the operator
// operations (enable/disable/force/status) that external surfaces invoke.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"briefbot/internal/buffer"
	"briefbot/internal/config"
	"briefbot/internal/delivery"
	"briefbot/internal/digest"
	"briefbot/internal/gateway"
	"briefbot/internal/ops"
	"briefbot/internal/storage"
	"briefbot/internal/trigger"
	logx "briefbot/pkg/logx"
)

// defaultKeepalive paces EnsureConnected ticks under the deferred policy.
const defaultKeepalive = time.Minute

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store // may be nil
	buf     *buffer.Buffer
	session *gateway.Session
	sender  *delivery.Sender
	trig    *trigger.Service
	opsSrv  *ops.Server

	mu          sync.Mutex
	started     bool
	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	store, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("component", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	window := time.Duration(cfg.Digest.WindowHours) * time.Hour
	buf := buffer.New(buffer.Config{
		SourceChannelID: cfg.Discord.SourceChannelID,
		Window:          window,
	}, store, log.With(logx.String("component", "buffer")))

	session := gateway.New(gateway.Config{
		Token:      cfg.Discord.Token,
		GatewayURL: cfg.Discord.GatewayURL,
		Policy:     reconnectPolicy(cfg.Discord.Reconnect),
	}, buf, log.With(logx.String("component", "gateway")))

	sender, err := delivery.New(delivery.Config{
		Token:           cfg.Discord.Token,
		RecipientUserID: cfg.Discord.RecipientUserID,
		RatePerSec:      cfg.Discord.RatePerSec,
	}, log.With(logx.String("component", "delivery")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		// Validated already; LoadLocation cannot fail here.
		loc, _ = time.LoadLocation(tz)
	}
	rnd := digest.NewRenderer(loc)

	trigCfg, err := triggerConfig(cfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		logSvc.Close()
		return nil, err
	}
	trig := trigger.New(trigCfg, buf, rnd, sender, session, log.With(logx.String("component", "trigger")))

	a := &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		buf:     buf,
		session: session,
		sender:  sender,
		trig:    trig,
	}
	a.opsSrv = ops.New(opsConfig(cfg.Ops), opsController{a}, log.With(logx.String("component", "ops")))
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	// Restore in-window history before the session starts ingesting.
	if err := a.buf.Rehydrate(ctx, time.Now()); err != nil {
		a.log.Warn("buffer rehydrate failed", logx.Err(err))
	}

	if err := a.trig.Start(ctx); err != nil {
		return err
	}
	if err := a.session.Start(ctx); err != nil {
		// A failed first dial is not fatal: the reconnect policy owns retries.
		a.log.Warn("initial gateway connect failed", logx.Err(err))
	}
	if err := a.opsSrv.Start(ctx); err != nil {
		// The ops surface is optional tooling; the digest pipeline runs without it.
		a.log.Warn("ops server start failed", logx.Err(err))
	}

	a.startConfigWatch()
	a.log.Info("briefbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	cancel := a.watchCancel
	a.watchCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	_ = a.opsSrv.Stop(ctx)
	a.trig.Stop(ctx)
	_ = a.session.Stop(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("briefbot stopped")
	a.logSvc.Close()
	return nil
}

// startConfigWatch reloads logging and trigger settings when the config file
// changes. Gateway/banner settings (token, channel, window) need a restart.
func (a *App) startConfigWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.watchCancel = cancel
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgMgr.Subscribe(4)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok || cfg == nil {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()
}

func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg.Logging))
	trigCfg, err := triggerConfig(cfg)
	if err != nil {
		a.log.Warn("trigger config rejected on reload", logx.Err(err))
		return
	}
	if err := a.trig.Apply(trigCfg); err != nil {
		a.log.Warn("trigger reload failed", logx.Err(err))
	}
	a.opsSrv.Reconfigure(context.Background(), opsConfig(cfg.Ops))
}

// ---- operator surface ----

func (a *App) EnableTrigger()  { a.trig.Enable() }
func (a *App) DisableTrigger() { a.trig.Disable() }

// ForceDigest renders and delivers a digest immediately.
func (a *App) ForceDigest(ctx context.Context) error { return a.trig.RunNow(ctx) }

// ForceDigestAfter arms the one-shot trigger.
func (a *App) ForceDigestAfter(delay time.Duration) { a.trig.EnableOnce(delay) }

type Status struct {
	Enabled           bool           `json:"enabled"`
	Connected         bool           `json:"connected"`
	SessionID         string         `json:"session_id,omitempty"`
	MessagesStored    int            `json:"messages_stored"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	NextFire          time.Time      `json:"next_fire,omitzero"`
	LastRun           trigger.Result `json:"last_run"`
}

func (a *App) Status() Status {
	return Status{
		Enabled:           a.trig.Enabled(),
		Connected:         a.session.Connected(),
		SessionID:         a.session.SessionID(),
		MessagesStored:    a.buf.Len(),
		ReconnectAttempts: a.session.ReconnectAttempts(),
		NextFire:          a.trig.NextFire(),
		LastRun:           a.trig.Last(),
	}
}

// opsController narrows *App to the surface the ops HTTP handlers use.
type opsController struct{ app *App }

func (c opsController) EnableTrigger()  { c.app.EnableTrigger() }
func (c opsController) DisableTrigger() { c.app.DisableTrigger() }

func (c opsController) ForceDigest(ctx context.Context) error { return c.app.ForceDigest(ctx) }

func (c opsController) ForceDigestAfter(delay time.Duration) { c.app.ForceDigestAfter(delay) }

func (c opsController) Status() any { return c.app.Status() }

// ---- config translation helpers ----

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func opsConfig(c *config.OpsConfig) ops.Config {
	if c == nil {
		return ops.Config{}
	}
	return ops.Config{Enabled: c.Enabled, Addr: c.Addr, Token: c.Token, Pprof: c.Pprof}
}

func storageConfig(c *config.StorageConfig) storage.Config {
	if c == nil {
		return storage.Config{}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}
}

func reconnectPolicy(name string) gateway.ReconnectPolicy {
	if strings.TrimSpace(name) == "deferred" {
		return gateway.DeferredPolicy{}
	}
	return gateway.ImmediatePolicy{}
}

func triggerConfig(cfg *config.Config) (trigger.Config, error) {
	mode := trigger.ModeHour
	if strings.TrimSpace(cfg.Trigger.Mode) == "cron" {
		mode = trigger.ModeCron
	}

	keepalive := time.Duration(0)
	if strings.TrimSpace(cfg.Discord.Reconnect) == "deferred" {
		var err error
		keepalive, err = config.ParseDurationOrDefault(
			"discord.keepalive_interval", cfg.Discord.KeepaliveInterval, defaultKeepalive)
		if err != nil {
			return trigger.Config{}, err
		}
	}

	empty := trigger.EmptySkip
	if strings.TrimSpace(cfg.Digest.EmptyWindow) == "notify" {
		empty = trigger.EmptyNotify
	}

	return trigger.Config{
		Enabled:           cfg.Trigger.Enabled,
		Mode:              mode,
		Hour:              cfg.Trigger.Hour,
		Schedule:          cfg.Trigger.Schedule,
		EmptyWindow:       empty,
		KeepaliveInterval: keepalive,
	}, nil
}
