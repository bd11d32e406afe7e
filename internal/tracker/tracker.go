// Package tracker is the admission gate for job runs.
//
// Every in-flight run and every long-lived basic job instance is an entry in a
// single map guarded by one mutex. TryBegin is an atomic check-and-insert, so
// two scheduler ticks can never admit the same recurring job concurrently.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Key identifies a job run uniformly, whatever the job kind.
type Key string

// Releaser is the scoped execution context kept by held entries.
type Releaser interface {
	Release() error
}

// Record is one tracker entry.
//
// A running record carries a done channel closed by Finish. A held record
// (basic job) has no unit of work; it keeps the resolved instance and scope
// until TakeHeld hands them over for disposal.
type Record struct {
	key     Key
	seq     uint64
	started time.Time
	done    chan struct{}

	instance any
	scope    Releaser
}

func (r *Record) Key() Key { return r.key }

func (r *Record) Started() time.Time { return r.started }

// Done is closed when a running record finishes; nil for held records.
func (r *Record) Done() <-chan struct{} { return r.done }

func (r *Record) Held() bool { return r.done == nil }

func (r *Record) Instance() any { return r.instance }

func (r *Record) Scope() Releaser { return r.scope }

type Tracker struct {
	mu      sync.Mutex
	records map[Key]*Record
	seq     uint64
	now     func() time.Time
}

func New() *Tracker {
	return &Tracker{records: map[Key]*Record{}, now: time.Now}
}

// TryBegin admits key if no entry exists for it.
func (t *Tracker) TryBegin(key Key) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[key]; ok {
		return nil, false
	}
	t.seq++
	rec := &Record{key: key, seq: t.seq, started: t.now(), done: make(chan struct{})}
	t.records[key] = rec
	return rec, true
}

// Finish removes a running record and signals its waiters. Finishing a record
// twice, or one that was never admitted, is a no-op.
func (t *Tracker) Finish(rec *Record) {
	if rec == nil || rec.done == nil {
		return
	}
	t.mu.Lock()
	cur, ok := t.records[rec.key]
	if !ok || cur != rec {
		t.mu.Unlock()
		return
	}
	delete(t.records, rec.key)
	t.mu.Unlock()
	close(rec.done)
}

// Hold stores a long-lived instance with its scope. It fails if key is taken.
func (t *Tracker) Hold(key Key, instance any, scope Releaser) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[key]; ok {
		return false
	}
	t.seq++
	t.records[key] = &Record{key: key, seq: t.seq, started: t.now(), instance: instance, scope: scope}
	return true
}

// TakeHeld removes and returns all held records, oldest first.
func (t *Tracker) TakeHeld() []*Record {
	t.mu.Lock()
	out := make([]*Record, 0, len(t.records))
	for k, r := range t.records {
		if r.Held() {
			out = append(out, r)
			delete(t.records, k)
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (t *Tracker) IsRunning(key Key) bool {
	t.mu.Lock()
	_, ok := t.records[key]
	t.mu.Unlock()
	return ok
}

// Len counts all entries, running and held.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// InFlight counts running records only.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.records {
		if !r.Held() {
			n++
		}
	}
	return n
}

// Keys returns every tracked key, in admission order.
func (t *Tracker) Keys() []Key {
	t.mu.Lock()
	recs := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		recs = append(recs, r)
	}
	t.mu.Unlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	keys := make([]Key, len(recs))
	for i, r := range recs {
		keys[i] = r.key
	}
	return keys
}

// Drain blocks until every running record present at call time has finished.
// Held records are not waited for. The base contract is unbounded: pass a
// context without deadline; a canceled ctx returns ctx.Err() early.
func (t *Tracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	waits := make([]<-chan struct{}, 0, len(t.records))
	for _, r := range t.records {
		if r.done != nil {
			waits = append(waits, r.done)
		}
	}
	t.mu.Unlock()

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
