package builtin

import (
	"context"
	"fmt"
	"strings"

	"cronhost/internal/config"
	"cronhost/internal/di"
	"cronhost/internal/jobs"
	logx "cronhost/pkg/logx"
)

// LoggerKey is where builtin constructors look up the process logger. Job
// names may not use the reserved prefix, so it never collides with a job.
const LoggerKey di.Key = config.ReservedPrefix + "logger"

// Job is a config-declared job ready to be added to a host. Its container key
// and factory section are both the job name.
type Job struct {
	Name     string
	Key      di.Key
	Ctor     di.Factory
	Entry    jobs.EntryPoint
	Schedule string
	Settings jobs.Settings
}

func (j Job) Recurring() bool { return strings.TrimSpace(j.Schedule) != "" }

// Section is the factory section carrying this job's schedule and settings.
func (j Job) Section() jobs.Section {
	cleanup := j.Settings.CleanupOnFinish
	return jobs.Section{Schedule: j.Schedule, CleanupOnFinish: &cleanup}
}

// FromConfig builds the constructor and entry point for jc. Command lines and
// durations are parsed here so mistakes surface before the host starts.
func FromConfig(jc config.JobConfig, log logx.Logger) (Job, error) {
	name := strings.TrimSpace(jc.Name)
	j := Job{
		Name:     name,
		Key:      di.Key(name),
		Schedule: strings.TrimSpace(jc.Schedule),
		Settings: jobs.DefaultSettings(),
	}
	if jc.CleanupOnFinish != nil {
		j.Settings.CleanupOnFinish = *jc.CleanupOnFinish
	}

	switch strings.ToLower(strings.TrimSpace(jc.Type)) {
	case config.JobTypeCommand:
		timeout, err := config.ParseDurationField("jobs["+name+"].timeout", jc.Timeout)
		if err != nil {
			return Job{}, err
		}
		cmd, err := NewCommand(CommandConfig{
			Name:    name,
			Command: jc.Command,
			Dir:     jc.Workdir,
			Env:     jc.Env,
			Timeout: timeout,
		}, log)
		if err != nil {
			return Job{}, err
		}
		// Command is immutable; every scope gets the same value.
		j.Ctor = di.Value(cmd)
		j.Entry = jobs.MethodWithHost("Run", (*Command).Run)

	case config.JobTypeHeartbeat:
		interval, err := config.ParseDurationField("jobs["+name+"].interval", jc.Interval)
		if err != nil {
			return Job{}, err
		}
		hc := HeartbeatConfig{Name: name, Message: jc.Message, Interval: interval}
		j.Ctor = func(ctx context.Context, r di.Resolver) (any, error) {
			l, err := di.Resolve[logx.Logger](ctx, r, LoggerKey)
			if err != nil {
				l = log
			}
			return NewHeartbeat(hc, l), nil
		}
		if j.Recurring() {
			j.Entry = jobs.MethodWithHost("Beat", (*Heartbeat).Beat)
		} else {
			j.Entry = jobs.MethodWithHost("Start", (*Heartbeat).Start)
		}

	default:
		return Job{}, fmt.Errorf("jobs[%s]: unknown job type %q", name, jc.Type)
	}
	return j, nil
}
