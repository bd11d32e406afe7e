package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cronhost/internal/di"
	"cronhost/internal/eventbus"
	"cronhost/internal/jobs"
	"cronhost/internal/runtime/supervisor"
	"cronhost/internal/tracker"
	logx "cronhost/pkg/logx"
)

var (
	ErrStarted      = errors.New("host already started")
	ErrNoScopes     = errors.New("host requires a scope provider")
	ErrNoFactory    = errors.New("host has no job factory")
	ErrNoRegistrar  = errors.New("host has no registrar for auto registration")
	ErrBasicFailure = errors.New("basic job failed")
	ErrStopped      = errors.New("host stopped during start")
)

type Service struct {
	name      string
	cfg       Config
	scopes    di.ScopeProvider
	registrar di.Registrar
	factory   jobs.Factory

	log     logx.Logger
	bus     eventbus.Bus
	handler FailureHandler
	fatal   func(error)
	now     func() time.Time

	registry *jobs.Registry
	tracker  *tracker.Tracker

	mu      sync.Mutex
	started bool
	stopped bool
	sup     *supervisor.Supervisor
	runCtx  context.Context

	skipMu   sync.Mutex
	skipLogs map[uint64]*rate.Limiter
}

// New creates a host named name. Jobs resolve their targets from scopes.
func New(name string, cfg Config, scopes di.ScopeProvider, opts ...Option) (*Service, error) {
	if scopes == nil {
		return nil, ErrNoScopes
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	s := &Service{
		name:     name,
		cfg:      cfg.withDefaults(),
		scopes:   scopes,
		fatal:    defaultFatal,
		now:      time.Now,
		registry: jobs.NewRegistry(),
		tracker:  tracker.New(),
		skipLogs: map[uint64]*rate.Limiter{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.registrar == nil {
		if r, ok := scopes.(di.Registrar); ok {
			s.registrar = r
		}
	}
	if s.factory == nil {
		s.factory = jobs.NewSectionFactory(s.cfg.Location, nil)
	}
	s.log = s.log.With(logx.String("comp", "host"), logx.String("host", s.name))
	return s, nil
}

func (s *Service) Name() string { return s.name }

func (s *Service) Registry() *jobs.Registry { return s.registry }

// AddJob registers a prepared descriptor. Jobs can only be added before Start.
func (s *Service) AddJob(d *jobs.Descriptor) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return ErrStarted
	}
	if err := s.registry.Register(d); err != nil {
		return err
	}
	s.log.Debug("job registered",
		logx.String("job", d.Name()),
		logx.String("kind", d.Kind().String()),
		logx.String("target", string(d.Target())),
		logx.String("entry", d.Entry().Name()),
	)
	return nil
}

// AddRecurring builds a scheduled job through the factory and registers it.
func (s *Service) AddRecurring(target di.Key, entry jobs.EntryPoint, opts ...AddOption) error {
	ac, err := s.prepare(target, opts)
	if err != nil {
		return err
	}
	d, err := s.factory.CreateRecurring(target, ac.section, entry)
	if err != nil {
		return err
	}
	return s.AddJob(d)
}

// AddBasic builds a run-once job through the factory and registers it.
func (s *Service) AddBasic(target di.Key, entry jobs.EntryPoint, opts ...AddOption) error {
	if _, err := s.prepare(target, opts); err != nil {
		return err
	}
	d, err := s.factory.CreateBasic(target, entry)
	if err != nil {
		return err
	}
	return s.AddJob(d)
}

func (s *Service) prepare(target di.Key, opts []AddOption) (addConfig, error) {
	var ac addConfig
	for _, o := range opts {
		if o != nil {
			o(&ac)
		}
	}
	if s.factory == nil {
		return ac, ErrNoFactory
	}
	if ac.autoCtor != nil {
		if s.registrar == nil {
			return ac, ErrNoRegistrar
		}
		if err := s.registrar.Register(target, di.Transient, ac.autoCtor); err != nil {
			return ac, fmt.Errorf("auto register %s: %w", target, err)
		}
	}
	return ac, nil
}

// Start runs every basic job once, in registration order, then starts the
// scheduler loop. Without a failure handler the first basic job failure is
// returned and the loop is not started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.runCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	now := s.now()
	for _, d := range s.registry.Recurring() {
		if err := d.Cursor().Reset(now); err != nil {
			return fmt.Errorf("job %s: %w", d.Name(), err)
		}
	}

	for _, d := range s.registry.Basic() {
		if err := s.runBasic(s.runCtx, d); err != nil {
			if !s.handler.IsSet() {
				return fmt.Errorf("%w: %w", ErrBasicFailure, err)
			}
			s.handler.fn(s.name, err)
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		// Stop already ran; it could not see what was held after it.
		var errs []error
		for _, rec := range s.tracker.TakeHeld() {
			errs = append(errs, s.dispose(rec))
		}
		return errors.Join(append([]error{ErrStopped}, errs...)...)
	}
	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(s.log))
	s.sup = sup
	s.mu.Unlock()
	sup.GoRestart("scheduler", s.loop, supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: time.Minute})

	s.log.Info("host started",
		logx.Int("recurring", len(s.registry.Recurring())),
		logx.Int("basic", len(s.registry.Basic())),
		logx.Duration("tick", s.cfg.Tick),
		logx.String("tz", s.cfg.Location.String()),
	)
	return nil
}

// Stop halts ticking, waits for running jobs and disposes basic job
// instances. The wait is bounded by ctx and Config.DrainTimeout only.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}

	dctx := ctx
	if s.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancel()
	}

	start := s.now()
	inflight := s.tracker.InFlight()
	var errs []error
	if err := s.tracker.Drain(dctx); err != nil {
		s.log.Warn("drain interrupted", logx.Int("in_flight", s.tracker.InFlight()), logx.Err(err))
		errs = append(errs, fmt.Errorf("drain: %w", err))
	}
	if inflight > 0 {
		s.log.Info("jobs drained", logx.Int("count", inflight), logx.Duration("took", s.now().Sub(start)))
	}

	for _, rec := range s.tracker.TakeHeld() {
		if err := s.dispose(rec); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info("host stopped")
	return errors.Join(errs...)
}

func (s *Service) dispose(rec *tracker.Record) error {
	// Releasing the scope closes the io.Closer instances it resolved.
	var err error
	if sc := rec.Scope(); sc != nil {
		if rerr := sc.Release(); rerr != nil {
			err = fmt.Errorf("release %s: %w", rec.Key(), rerr)
		}
	} else if c, ok := rec.Instance().(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			err = fmt.Errorf("close %s: %w", rec.Key(), cerr)
		}
	}
	s.publish(eventbus.TopicJobDisposed, RunEvent{
		Host:     s.name,
		Job:      s.heldName(rec.Key()),
		Kind:     jobs.KindBasic.String(),
		Started:  rec.Started(),
		Finished: s.now(),
		Err:      errString(err),
	})
	if err != nil {
		s.log.Warn("basic job dispose failed", logx.String("key", string(rec.Key())), logx.Err(err))
	}
	return err
}

func (s *Service) heldName(key tracker.Key) string {
	for _, d := range s.registry.Basic() {
		if basicKey(d) == key {
			return d.Name()
		}
	}
	return string(key)
}

func (s *Service) publish(topic string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: s.now(), Data: ev})
}

func recurringKey(d *jobs.Descriptor) tracker.Key {
	return tracker.Key(fmt.Sprintf("job:%d", d.ID()))
}

func basicKey(d *jobs.Descriptor) tracker.Key {
	return tracker.Key(fmt.Sprintf("basic:%d", d.ID()))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
