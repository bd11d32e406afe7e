package host

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"cronhost/internal/eventbus"
	"cronhost/internal/jobs"
	logx "cronhost/pkg/logx"
)

// skipLogEvery limits "occurrence dropped" warnings per job.
const skipLogEvery = 10 * time.Minute

func (s *Service) loop(ctx context.Context) error {
	for {
		now := s.now()
		next := nextTick(now, s.cfg.Tick, s.cfg.Location)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		s.tick(s.now())
	}
}

// nextTick returns the first multiple of tick after now on the wall clock of
// loc, so hourly ticks land on the hour even in half-hour offset zones.
func nextTick(now time.Time, tick time.Duration, loc *time.Location) time.Time {
	_, off := now.In(loc).Zone()
	shift := time.Duration(off) * time.Second
	return now.Add(shift).Truncate(tick).Add(tick).Add(-shift)
}

// tick evaluates every recurring job against now in registration order.
// It never blocks on job execution.
func (s *Service) tick(now time.Time) {
	for _, d := range s.registry.Recurring() {
		cur := d.Cursor()
		if !cur.Due(now) {
			continue
		}
		// Advance before admission so a long run cannot re-fire this occurrence.
		if err := cur.Advance(now); err != nil {
			s.log.Error("schedule exhausted", logx.String("job", d.Name()), logx.Err(err))
			continue
		}
		rec, ok := s.tracker.TryBegin(recurringKey(d))
		if !ok {
			s.skipped(d, now)
			continue
		}
		go s.run(d, rec)
	}
}

func (s *Service) skipped(d *jobs.Descriptor, now time.Time) {
	s.publish(eventbus.TopicJobSkipped, RunEvent{
		Host:    s.name,
		Job:     d.Name(),
		Kind:    d.Kind().String(),
		Started: now,
	})

	s.skipMu.Lock()
	lim := s.skipLogs[d.ID()]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(skipLogEvery), 1)
		s.skipLogs[d.ID()] = lim
	}
	s.skipMu.Unlock()

	if lim.Allow() {
		s.log.Warn("job still running; occurrence dropped",
			logx.String("job", d.Name()),
			logx.Time("tick", now),
			logx.Time("next", d.Cursor().Next()),
		)
		return
	}
	s.log.Debug("job still running; occurrence dropped", logx.String("job", d.Name()))
}
