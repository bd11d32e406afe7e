package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"cronhost/internal/cronexpr"
	logx "cronhost/pkg/logx"
)

// MinTick is the smallest accepted host.tick.
const MinTick = time.Second

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	tick, err := ParseDurationField("host.tick", cfg.Host.Tick)
	add(err)
	if err == nil && tick != 0 && tick < MinTick {
		add(fmt.Errorf("host.tick: must be >= %s", MinTick))
	}
	loc, err := cfg.Host.Location()
	if err != nil {
		add(fmt.Errorf("host.timezone: %w", err))
		loc = time.Local
	}
	_, err = ParseDurationField("host.drain_timeout", cfg.Host.DrainTimeout)
	add(err)
	switch cfg.Host.Mode() {
	case FailureModeCrash, FailureModeReport:
	default:
		add(fmt.Errorf("host.failure_mode: unknown mode %q", cfg.Host.FailureMode))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if strings.TrimSpace(s.Path) == "" {
			add(errors.New("storage.path: required"))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if tg := cfg.Alerts.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			add(errors.New("alerts.telegram.token: required"))
		}
		if tg.ChatID == 0 {
			add(errors.New("alerts.telegram.chat_id: required"))
		}
		if tg.RatePerMin < 0 {
			add(errors.New("alerts.telegram.rate_per_min: must be >= 0"))
		}
	}

	if ad := cfg.Admin; ad != nil && ad.Enabled {
		if ad.MutexProfileFraction < 0 || ad.BlockProfileRate < 0 {
			add(errors.New("admin: profile rates must be >= 0"))
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		add(validateJob(i, j, loc, seen))
	}
	return errors.Join(errs...)
}

// ReservedPrefix marks container keys owned by the app itself.
const ReservedPrefix = "cronhost."

func validateJob(i int, j JobConfig, loc *time.Location, seen map[string]bool) error {
	path := fmt.Sprintf("jobs[%d]", i)
	name := strings.TrimSpace(j.Name)
	if name == "" {
		return fmt.Errorf("%s.name: required", path)
	}
	path = fmt.Sprintf("jobs[%s]", name)
	if strings.HasPrefix(name, ReservedPrefix) {
		return fmt.Errorf("%s.name: prefix %q is reserved", path, ReservedPrefix)
	}
	if seen[name] {
		return fmt.Errorf("%s: duplicate job name", path)
	}
	seen[name] = true

	var errs []error
	if strings.TrimSpace(j.Schedule) != "" {
		if _, err := cronexpr.ParseInLocation(j.Schedule, loc); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(j.Type)) {
	case JobTypeCommand:
		if strings.TrimSpace(j.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.command: required", path))
		} else if argv, err := shellquote.Split(j.Command); err != nil {
			errs = append(errs, fmt.Errorf("%s.command: %w", path, err))
		} else if len(argv) == 0 {
			errs = append(errs, fmt.Errorf("%s.command: empty", path))
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			errs = append(errs, err)
		}
	case JobTypeHeartbeat:
		if _, err := ParseDurationField(path+".interval", j.Interval); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("%s.type: unknown job type %q", path, j.Type))
	}
	return errors.Join(errs...)
}
