// Package app wires configuration, logging, the monitor and its sources,
// analyzer and exporters, the HTTP API and systemd integration into one
// process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentmon/internal/analyzer"
	"agentmon/internal/api"
	"agentmon/internal/config"
	"agentmon/internal/eventbus"
	"agentmon/internal/exporters"
	tgexport "agentmon/internal/exporters/telegram"
	"agentmon/internal/monitor"
	rtsup "agentmon/internal/runtime/supervisor"
	"agentmon/internal/sdnotify"
	"agentmon/internal/sources"
	"agentmon/internal/storage"
	kit "agentmon/internal/transport"
	"agentmon/internal/transport/telegram/adapter"
	"agentmon/internal/transport/telegram/router"
	logx "agentmon/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	deps     monitor.Deps
	mon      *monitor.Monitor
	tgExport *tgexport.Exporter
	api      *api.Service
	notify   *sdnotify.Notifier

	// chat commands; both nil unless telegram.commands.enabled
	receiver kit.Receiver
	router   *router.Router

	sup *rtsup.Supervisor
}

// NewApp loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Monitor.Location()
	if err != nil {
		return nil, err
	}

	// The Bot API client is shared by the report exporter and the log sink.
	var (
		sender kit.Sender
		bot    *adapter.Adapter
	)
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		adCfg, err := mapAdapterConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := adapter.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sender, bot = ad, ad
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), sender)
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		log = log.With(logx.String("app", name))
	}
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, log: appLog, logs: logSvc, bus: eventbus.New()}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	var stateStore tgexport.StateStore
	if a.store != nil {
		stateStore = a.store
	}
	tgCfg, err := mapTelegramExportConfig(cfg, loc)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.tgExport = tgexport.New(tgCfg, sender, stateStore, log.With(logx.String("comp", "telegram.export")))
	a.deps = monitor.Deps{
		Sources:   sources.Configured(appLog, buildSources(cfg, mcfg, loc)...),
		Analyzer:  analyzer.New(mapAnalyzerConfig(cfg, mcfg), log.With(logx.String("comp", "analyzer"))),
		Exporters: exporters.Configured(appLog, a.tgExport),
		Bus:       a.bus,
		Log:       log.With(logx.String("comp", "monitor")),
	}
	if len(a.deps.Sources) == 0 {
		appLog.Warn("no sources configured; reports will be empty")
	}
	if !a.deps.Analyzer.Configured() {
		appLog.Warn("llm.api_key not set; reports use the fallback summary")
	}
	a.mon = monitor.New(mcfg, a.deps)

	if cfg.HTTP.Enabled {
		apiCfg, err := mapAPIConfig(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.api = api.New(apiCfg, a.mon, a.healthSnapshots, log.With(logx.String("comp", "http")))
	}
	if cfg.Telegram.Commands.Enabled && bot != nil {
		a.receiver = bot
		a.router = router.New(mapRouterConfig(cfg), bot, log.With(logx.String("comp", "telegram.commands")))
		a.router.SetCommands(a.chatCommands())
	}
	a.notify = sdnotify.New(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	return a, nil
}

// Monitor exposes the orchestrator (tests, CLI).
func (a *App) Monitor() *monitor.Monitor { return a.mon }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.mon.Start(a.sup.Context())
	if a.api != nil {
		a.api.Start(a.sup.Context())
	}

	if a.router != nil {
		if err := a.startCommands(); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	// Subscribe before returning so a Reload right after Start is never missed.
	cfgSub, cfgNow := a.cfgm.Subscribe(8), a.cfgm.Get()
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, cfgSub, cfgNow) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.notify.RunWatchdog(c, a.mon.LoopActive)
	})

	a.notify.Ready()
	a.log.Info("app started",
		logx.Int("sources", len(a.deps.Sources)),
		logx.Int("exporters", len(a.deps.Exporters)),
		logx.Bool("analyzer", a.deps.Analyzer.Configured()),
		logx.Bool("http", a.api != nil),
		logx.Bool("chat_commands", a.router != nil),
	)
	return nil
}

func (a *App) startCommands() error {
	inbox := make(chan kit.Message, 64)
	if err := a.receiver.Start(a.sup.Context(), inbox); err != nil {
		return fmt.Errorf("start telegram polling: %w", err)
	}
	a.sup.Go("telegram.commands", func(c context.Context) error {
		return a.router.DispatchLoop(c, inbox)
	})
	if up, ok := a.receiver.(kit.CommandMenuUpdater); ok {
		menu := a.router.Menu()
		a.sup.Go0("telegram.menu", func(c context.Context) {
			ctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}
	return nil
}

// Reload re-reads the config file now (SIGHUP). Live sections apply through
// the same path as file-watch reloads.
func (a *App) Reload() error {
	a.notify.Reloading()
	defer a.notify.Ready()
	published, err := a.cfgm.Reload()
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return err
	}
	if !published {
		a.log.Info("config reload requested; file unchanged")
	}
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Debug level: ticks are frequent and already summarized at info.
			fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
			if len(e.Data) > 0 {
				fields = append(fields, logx.Any("data", e.Data))
			}
			a.log.Debug("event", fields...)

			switch e.Type {
			case monitor.EventTickCompleted:
				a.notify.Status("last report " + e.Time.UTC().Format("2006-01-02 15:04:05 UTC"))
			case monitor.EventTickFailed:
				a.notify.Status("last tick failed at " + e.Time.UTC().Format("2006-01-02 15:04:05 UTC"))
			}
		}
	}
}

func (a *App) healthSnapshots() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{
		"monitor": a.mon.Supervisor().Snapshot(),
	}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if a.api != nil {
		out["http"] = a.api.Supervisor().Snapshot()
	}
	if a.router != nil {
		out["telegram.commands"] = a.router.Supervisor().Snapshot()
	}
	return out
}
