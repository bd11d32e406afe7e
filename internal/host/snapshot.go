package host

import (
	"time"
)

// JobStatus is a diagnostic view of one registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Target   string    `json:"target"`
	Entry    string    `json:"entry"`
	Schedule string    `json:"schedule,omitempty"`
	Next     time.Time `json:"next,omitempty"`
	Running  bool      `json:"running"`
	Cleanup  bool      `json:"cleanup_on_finish"`
}

type Snapshot struct {
	Host     string      `json:"host"`
	Started  bool        `json:"started"`
	Stopped  bool        `json:"stopped"`
	Tick     string      `json:"tick"`
	Timezone string      `json:"timezone"`
	InFlight int         `json:"in_flight"`
	Tracked  int         `json:"tracked"`
	Jobs     []JobStatus `json:"jobs"`
}

// Snapshot is safe to call at any time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()

	all := s.registry.All()
	snap := Snapshot{
		Host:     s.name,
		Started:  started,
		Stopped:  stopped,
		Tick:     s.cfg.Tick.String(),
		Timezone: s.cfg.Location.String(),
		InFlight: s.tracker.InFlight(),
		Tracked:  s.tracker.Len(),
		Jobs:     make([]JobStatus, 0, len(all)),
	}
	for _, d := range all {
		st := JobStatus{
			Name:    d.Name(),
			Kind:    d.Kind().String(),
			Target:  string(d.Target()),
			Entry:   d.Entry().Name(),
			Cleanup: d.Settings().CleanupOnFinish,
		}
		if d.Recurring() {
			st.Schedule = d.Schedule().String()
			st.Next = d.Cursor().Next()
			st.Running = s.tracker.IsRunning(recurringKey(d))
		} else {
			st.Running = s.tracker.IsRunning(basicKey(d))
		}
		snap.Jobs = append(snap.Jobs, st)
	}
	return snap
}
