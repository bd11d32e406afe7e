package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"cronhost/internal/di"
	"cronhost/internal/eventbus"
	"cronhost/internal/jobs"
	"cronhost/internal/tracker"
	logx "cronhost/pkg/logx"
)

// slowRun promotes the completion log line from debug to info.
const slowRun = 30 * time.Second

// RunEvent is the payload of every job lifecycle event.
type RunEvent struct {
	Host     string        `json:"host"`
	Job      string        `json:"job"`
	Kind     string        `json:"kind"`
	RunID    string        `json:"run_id,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      string        `json:"err,omitempty"`
}

// run executes one admitted recurring occurrence. It owns rec and always
// finishes it.
func (s *Service) run(d *jobs.Descriptor, rec *tracker.Record) {
	runID := uuid.NewString()
	log := s.log.With(logx.String("job", d.Name()), logx.String("run_id", runID))
	started := s.now()
	s.publish(eventbus.TopicJobStarted, RunEvent{Host: s.name, Job: d.Name(), Kind: d.Kind().String(), RunID: runID, Started: started})
	log.Debug("job started")

	_, sc, err := s.invoke(s.context(), d)
	if sc != nil {
		if rerr := sc.Release(); rerr != nil {
			log.Warn("scope release failed", logx.Err(rerr))
		}
	}
	if d.Settings().CleanupOnFinish {
		reclaim()
	}
	s.tracker.Finish(rec)

	s.finished(log, d, runID, started, err)
	if err != nil {
		s.fail(&JobError{Host: s.name, Job: d.Name(), RunID: runID, Err: err})
	}
}

// runBasic executes a basic job once. On success its instance and scope are
// held until Stop.
func (s *Service) runBasic(ctx context.Context, d *jobs.Descriptor) error {
	runID := uuid.NewString()
	log := s.log.With(logx.String("job", d.Name()), logx.String("run_id", runID))
	started := s.now()
	s.publish(eventbus.TopicJobStarted, RunEvent{Host: s.name, Job: d.Name(), Kind: d.Kind().String(), RunID: runID, Started: started})
	log.Debug("job started")

	inst, sc, err := s.invoke(ctx, d)
	if err == nil && !s.tracker.Hold(basicKey(d), inst, sc) {
		err = fmt.Errorf("basic job %s already held", d.Name())
	}
	if err != nil && sc != nil {
		if rerr := sc.Release(); rerr != nil {
			log.Warn("scope release failed", logx.Err(rerr))
		}
	}
	if d.Settings().CleanupOnFinish {
		reclaim()
	}

	s.finished(log, d, runID, started, err)
	if err != nil {
		return &JobError{Host: s.name, Job: d.Name(), RunID: runID, Err: err}
	}
	return nil
}

// invoke resolves the target in a fresh scope and calls its entry point.
// Panics are converted to errors. The returned scope, when non-nil, belongs
// to the caller.
func (s *Service) invoke(ctx context.Context, d *jobs.Descriptor) (inst any, sc di.Scope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	sc, err = s.scopes.BeginScope(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin scope: %w", err)
	}
	inst, err = sc.Resolve(ctx, d.Target())
	if err != nil {
		return nil, sc, fmt.Errorf("resolve %s: %w", d.Target(), err)
	}
	return inst, sc, d.Entry().Invoke(ctx, inst, s.name)
}

func (s *Service) finished(log logx.Logger, d *jobs.Descriptor, runID string, started time.Time, err error) {
	end := s.now()
	took := end.Sub(started)
	ev := RunEvent{
		Host:     s.name,
		Job:      d.Name(),
		Kind:     d.Kind().String(),
		RunID:    runID,
		Started:  started,
		Finished: end,
		Duration: took,
		Err:      errString(err),
	}
	if err != nil {
		s.publish(eventbus.TopicJobFailed, ev)
		if errors.Is(err, ErrJobPanic) {
			log.Error("job panicked", logx.Duration("took", took), logx.Err(err))
		} else {
			log.Warn("job failed", logx.Duration("took", took), logx.Err(err))
		}
		return
	}
	s.publish(eventbus.TopicJobFinished, ev)
	if took >= slowRun {
		log.Info("job completed (slow)", logx.Duration("took", took))
		return
	}
	log.Debug("job completed", logx.Duration("took", took))
}

func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// reclaim forces a collection and returns freed memory to the OS.
func reclaim() { debug.FreeOSMemory() }
