package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cronhost/internal/alert"
	"cronhost/internal/builtin"
	"cronhost/internal/config"
	"cronhost/internal/di"
	"cronhost/internal/eventbus"
	"cronhost/internal/host"
	"cronhost/internal/jobs"
	"cronhost/internal/observability/admin"
	"cronhost/internal/runtime/supervisor"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store  storage.Store
	alerts *alert.Telegram
	admin  *admin.Server

	container *di.Container
	host      *host.Service
	sup       *supervisor.Supervisor

	notify func(state string)

	failOnce sync.Once
	failed   chan struct{}
	failErr  error
}

type Option func(*App)

// WithNotifier replaces the systemd notification hook.
func WithNotifier(fn func(state string)) Option {
	return func(a *App) {
		if fn != nil {
			a.notify = fn
		}
	}
}

// New loads cfgPath and wires every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logs, log := logx.NewService(mapLogConfig(cfg))
	a := &App{
		cfgm:      cfgm,
		cfg:       cfg,
		logs:      logs,
		log:       log.With(logx.String("comp", "app")),
		bus:       eventbus.New(),
		container: di.New(),
		failed:    make(chan struct{}),
	}
	a.notify = a.sdNotify
	for _, o := range opts {
		o(a)
	}
	cfgm.SetLogger(log)

	if err := a.wire(log); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(log logx.Logger) error {
	cfg := a.cfg

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		a.store = st
		a.log.Info("run journal enabled", logx.String("driver", sc.Driver))
	}

	if tc, enabled := mapAlertConfig(cfg); enabled {
		tg, err := alert.NewTelegram(tc, log)
		if err != nil {
			return fmt.Errorf("alerts.telegram: %w", err)
		}
		a.alerts = tg
	}

	a.admin = admin.New(mapAdminConfig(cfg), func() any { return a.Status() }, log)

	if err := a.container.Register(builtin.LoggerKey, di.Singleton, di.Value(log)); err != nil {
		return err
	}

	hc, err := mapHostConfig(cfg)
	if err != nil {
		return err
	}

	defs := make([]builtin.Job, 0, len(cfg.Jobs))
	sections := make(map[string]jobs.Section, len(cfg.Jobs))
	for _, jc := range cfg.Enabled() {
		bj, err := builtin.FromConfig(jc, log)
		if err != nil {
			return err
		}
		defs = append(defs, bj)
		sections[bj.Name] = bj.Section()
	}

	hopts := []host.Option{
		host.WithLogger(log),
		host.WithBus(a.bus),
		host.WithFactory(jobs.NewSectionFactory(hc.Location, sections)),
		host.WithRegistrar(a.container),
	}
	switch cfg.Host.Mode() {
	case config.FailureModeReport:
		hopts = append(hopts, host.WithFailureHandler(host.Handler(a.report)))
	default:
		hopts = append(hopts, host.WithFailureHandler(host.NoHandler()), host.WithFatal(a.crash))
	}

	h, err := host.New(cfg.Host.Name, hc, a.container, hopts...)
	if err != nil {
		return err
	}
	for _, bj := range defs {
		if bj.Recurring() {
			err = h.AddRecurring(bj.Key, bj.Entry, host.AutoRegister(bj.Ctor))
		} else {
			err = h.AddBasic(bj.Key, bj.Entry, host.AutoRegister(bj.Ctor))
		}
		if err != nil {
			return fmt.Errorf("jobs[%s]: %w", bj.Name, err)
		}
	}
	a.host = h
	return nil
}

func (a *App) Host() *host.Service { return a.host }

func (a *App) Store() storage.Store { return a.store }

// Failed is closed when a job failure is fatal to the process.
func (a *App) Failed() <-chan struct{} { return a.failed }

// Err returns the fatal job failure, if any.
func (a *App) Err() error {
	select {
	case <-a.failed:
		return a.failErr
	default:
		return nil
	}
}

// crash is the host's fatal hook in crash mode.
func (a *App) crash(err error) {
	a.failOnce.Do(func() {
		a.log.Error("unhandled job failure; shutting down", logx.Err(err))
		a.failErr = err
		close(a.failed)
	})
}

// report is the failure handler in report mode.
func (a *App) report(hostName string, err error) {
	var je *host.JobError
	if errors.As(err, &je) {
		a.log.Error("job failure reported", logx.String("host", hostName), logx.String("job", je.Job), logx.String("run_id", je.RunID), logx.Err(je.Err))
		return
	}
	a.log.Error("job failure reported", logx.String("host", hostName), logx.Err(err))
}

// Start runs background services, then the host. Basic jobs have run when
// Start returns.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log))

	events, unsub := a.bus.Subscribe(256, "job.")
	a.sup.Go("recorder", func(c context.Context) error {
		defer unsub()
		return a.record(c, events)
	})
	if a.alerts != nil {
		a.sup.Go("alerts.telegram", a.alerts.Run)
	}

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		for _, jc := range cfg.Enabled() {
			if _, err := builtin.FromConfig(jc, logx.Nop()); err != nil {
				return err
			}
		}
		return nil
	})
	updates := a.cfgm.Subscribe(4)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{MaxBackoff: 30 * time.Second})
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		return a.reloadLoop(c, updates)
	})

	if err := a.host.Start(ctx); err != nil {
		return err
	}

	a.admin.Start(ctx)
	a.notify(daemon.SdNotifyReady)
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			t := time.NewTicker(d / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					a.notify(daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	snap := a.host.Snapshot()
	a.log.Info("cronhost running", logx.String("host", snap.Host), logx.Int("jobs", len(snap.Jobs)), logx.String("config", a.cfgm.Path()))
	return nil
}

// Stop stops the host (draining running jobs), then background services,
// then releases storage and the container.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	var errs []error
	if a.admin != nil {
		a.admin.Stop(ctx)
	}
	if a.host != nil {
		if err := a.host.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.container != nil {
		errs = append(errs, a.container.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", strings.SplitN(state, "=", 2)[0]), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Status is a diagnostic view of the running app.
type Status struct {
	Host       host.Snapshot      `json:"host"`
	Goroutines []supervisor.Stats `json:"goroutines"`
}

func (a *App) Status() Status {
	st := Status{Host: a.host.Snapshot()}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}
