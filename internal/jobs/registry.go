package jobs

import (
	"errors"
	"sync"
)

var ErrNilDescriptor = errors.New("nil job descriptor")

// Registry is an ordered descriptor collection. It is filled during setup and
// read by the scheduler loop afterwards.
type Registry struct {
	mu    sync.RWMutex
	items []*Descriptor
}

func NewRegistry() *Registry { return &Registry{} }

// Register appends d. Identity is not checked: the same target registered twice
// yields two independent jobs.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return ErrNilDescriptor
	}
	r.mu.Lock()
	r.items = append(r.items, d)
	r.mu.Unlock()
	return nil
}

// All returns descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, len(r.items))
	copy(out, r.items)
	r.mu.RUnlock()
	return out
}

// Recurring returns scheduled descriptors in registration order.
func (r *Registry) Recurring() []*Descriptor { return r.filter(KindRecurring) }

// Basic returns run-once descriptors in registration order.
func (r *Registry) Basic() []*Descriptor { return r.filter(KindBasic) }

func (r *Registry) filter(k Kind) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.items))
	for _, d := range r.items {
		if d.Kind() == k {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
