package host

import (
	"time"

	"cronhost/internal/di"
	"cronhost/internal/eventbus"
	"cronhost/internal/jobs"
	logx "cronhost/pkg/logx"
)

const (
	DefaultName = "cronhost"
	DefaultTick = time.Minute
)

// Config holds the host knobs that are not collaborators.
type Config struct {
	// Tick is the scheduler interval; ticks are aligned to multiples of it.
	Tick time.Duration
	// Location is used for schedule evaluation. Nil means time.Local.
	Location *time.Location
	// DrainTimeout bounds Stop's wait for running jobs. Zero waits forever.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.DrainTimeout < 0 {
		c.DrainTimeout = 0
	}
	return c
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithBus publishes job lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func WithFailureHandler(h FailureHandler) Option {
	return func(s *Service) { s.handler = h }
}

// WithFatal replaces the hook used for failures nobody handles.
// The default panics on the job goroutine.
func WithFatal(fn func(error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.fatal = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFactory sets the factory used by AddRecurring and AddBasic.
func WithFactory(f jobs.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// WithRegistrar sets where AutoRegister puts target constructors. When unset
// the scope provider is used if it also implements di.Registrar.
func WithRegistrar(r di.Registrar) Option {
	return func(s *Service) { s.registrar = r }
}

// AddOption tunes a single AddRecurring / AddBasic call.
type AddOption func(*addConfig)

type addConfig struct {
	section  string
	autoCtor di.Factory
}

// Section picks the configuration section holding the job's schedule.
// Defaults to the target key.
func Section(name string) AddOption {
	return func(c *addConfig) { c.section = name }
}

// AutoRegister registers ctor for the job target with transient lifetime
// before the job is added.
func AutoRegister(ctor di.Factory) AddOption {
	return func(c *addConfig) { c.autoCtor = ctor }
}
