package jobs

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"cronhost/internal/cronexpr"
	"cronhost/internal/di"
)

var (
	ErrNoSchedule = errors.New("recurring job requires a schedule")
	ErrNoTarget   = errors.New("job target required")
	ErrNoEntry    = errors.New("job entry point required")
)

type Kind int

const (
	KindBasic Kind = iota
	KindRecurring
)

func (k Kind) String() string {
	if k == KindRecurring {
		return "recurring"
	}
	return "basic"
}

// Settings are per-job knobs.
type Settings struct {
	// CleanupOnFinish forces a garbage collection pass after each run.
	CleanupOnFinish bool
}

func DefaultSettings() Settings { return Settings{CleanupOnFinish: true} }

// Spec is the input for NewRecurring / NewBasic.
type Spec struct {
	Name     string
	Target   di.Key
	Entry    EntryPoint
	Schedule string
	Location *time.Location
	Settings Settings
}

type Descriptor struct {
	id       uint64
	name     string
	target   di.Key
	entry    EntryPoint
	settings Settings
	schedule *cronexpr.Schedule
	cursor   *Cursor
}

var idSeq atomic.Uint64

// NewRecurring builds a scheduled descriptor. The schedule is compiled here so
// malformed expressions fail at registration.
func NewRecurring(spec Spec) (*Descriptor, error) {
	if strings.TrimSpace(spec.Schedule) == "" {
		return nil, fmt.Errorf("job %s: %w", spec.label(), ErrNoSchedule)
	}
	d, err := newDescriptor(spec)
	if err != nil {
		return nil, err
	}
	loc := spec.Location
	if loc == nil {
		loc = time.Local
	}
	sched, err := cronexpr.ParseInLocation(spec.Schedule, loc)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", d.name, err)
	}
	d.schedule = sched
	d.cursor = newCursor(sched)
	if err := d.cursor.Reset(time.Now()); err != nil {
		return nil, fmt.Errorf("job %s: %w", d.name, err)
	}
	return d, nil
}

// NewBasic builds a run-once descriptor. Spec.Schedule must be empty.
func NewBasic(spec Spec) (*Descriptor, error) {
	if strings.TrimSpace(spec.Schedule) != "" {
		return nil, fmt.Errorf("job %s: basic job cannot have a schedule", spec.label())
	}
	return newDescriptor(spec)
}

func newDescriptor(spec Spec) (*Descriptor, error) {
	if strings.TrimSpace(string(spec.Target)) == "" {
		return nil, ErrNoTarget
	}
	if spec.Entry.IsZero() {
		return nil, fmt.Errorf("job %s: %w", spec.label(), ErrNoEntry)
	}
	return &Descriptor{
		id:       idSeq.Add(1),
		name:     spec.label(),
		target:   spec.Target,
		entry:    spec.Entry,
		settings: spec.Settings,
	}, nil
}

func (s Spec) label() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return string(s.Target)
}

// ID is unique per descriptor within the process.
func (d *Descriptor) ID() uint64 { return d.id }

func (d *Descriptor) Name() string { return d.name }

func (d *Descriptor) Target() di.Key { return d.target }

func (d *Descriptor) Entry() EntryPoint { return d.entry }

func (d *Descriptor) Settings() Settings { return d.settings }

func (d *Descriptor) Kind() Kind {
	if d.schedule != nil {
		return KindRecurring
	}
	return KindBasic
}

func (d *Descriptor) Recurring() bool { return d.schedule != nil }

// Schedule is nil for basic jobs.
func (d *Descriptor) Schedule() *cronexpr.Schedule { return d.schedule }

// Cursor is nil for basic jobs.
func (d *Descriptor) Cursor() *Cursor { return d.cursor }

func (d *Descriptor) String() string {
	if d.schedule == nil {
		return fmt.Sprintf("%s[basic %s.%s]", d.name, d.target, d.entry.Name())
	}
	return fmt.Sprintf("%s[%q %s.%s]", d.name, d.schedule, d.target, d.entry.Name())
}
