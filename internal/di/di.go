// Package di is a small dependency container with per-run lifetime scopes.
//
// A scope isolates object construction for one job run: scoped instances are
// shared inside the scope, transient ones are built per Resolve, and every
// instance the scope built that implements io.Closer is closed on Release
// (reverse construction order).
package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	ErrNotRegistered  = errors.New("di: type not registered")
	ErrScopeReleased  = errors.New("di: scope released")
	ErrCycle          = errors.New("di: dependency cycle")
	ErrInvalidFactory = errors.New("di: invalid registration")
)

// Key identifies a registered type.
type Key string

type Lifetime int

const (
	Transient Lifetime = iota
	Scoped
	Singleton
)

func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	case Singleton:
		return "singleton"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// Factory builds an instance; r resolves dependencies within the same scope.
type Factory func(ctx context.Context, r Resolver) (any, error)

type Resolver interface {
	Resolve(ctx context.Context, key Key) (any, error)
}

// Scope is a resolver bound to a resource-acquisition region.
type Scope interface {
	Resolver
	Release() error
}

type ScopeProvider interface {
	BeginScope(ctx context.Context) (Scope, error)
}

// Registrar accepts registrations. *Container implements it.
type Registrar interface {
	Register(key Key, lifetime Lifetime, f Factory) error
	IsRegistered(key Key) bool
}

type registration struct {
	lifetime Lifetime
	factory  Factory
}

type Container struct {
	mu         sync.Mutex
	regs       map[Key]registration
	singletons map[Key]any
	order      []io.Closer
}

func New() *Container {
	return &Container{
		regs:       map[Key]registration{},
		singletons: map[Key]any{},
	}
}

// Register adds or replaces a registration.
func (c *Container) Register(key Key, lifetime Lifetime, f Factory) error {
	if strings.TrimSpace(string(key)) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidFactory)
	}
	if f == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrInvalidFactory, key)
	}
	if lifetime < Transient || lifetime > Singleton {
		return fmt.Errorf("%w: %s for %s", ErrInvalidFactory, lifetime, key)
	}
	c.mu.Lock()
	c.regs[key] = registration{lifetime: lifetime, factory: f}
	delete(c.singletons, key)
	c.mu.Unlock()
	return nil
}

func (c *Container) IsRegistered(key Key) bool {
	c.mu.Lock()
	_, ok := c.regs[key]
	c.mu.Unlock()
	return ok
}

func (c *Container) lookup(key Key) (registration, bool) {
	c.mu.Lock()
	r, ok := c.regs[key]
	c.mu.Unlock()
	return r, ok
}

func (c *Container) BeginScope(ctx context.Context) (Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scope{c: c, scoped: map[Key]any{}, resolving: map[Key]bool{}}, nil
}

// Close closes singletons implementing io.Closer, newest first.
func (c *Container) Close() error {
	c.mu.Lock()
	closers := c.order
	c.order = nil
	c.singletons = map[Key]any{}
	c.mu.Unlock()
	return closeAll(closers)
}

func (c *Container) singleton(ctx context.Context, key Key, reg registration, r Resolver) (any, error) {
	c.mu.Lock()
	if v, ok := c.singletons[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := reg.factory(ctx, r)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.singletons[key]; ok {
		// Lost a construction race; keep the first instance.
		if cl, ok := v.(io.Closer); ok {
			_ = cl.Close()
		}
		return prev, nil
	}
	c.singletons[key] = v
	if cl, ok := v.(io.Closer); ok {
		c.order = append(c.order, cl)
	}
	return v, nil
}

type scope struct {
	c *Container

	mu        sync.Mutex
	released  bool
	scoped    map[Key]any
	owned     []io.Closer
	resolving map[Key]bool
}

func (s *scope) Resolve(ctx context.Context, key Key) (any, error) {
	reg, ok := s.c.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrScopeReleased
	}
	if reg.lifetime == Scoped {
		if v, ok := s.scoped[key]; ok {
			s.mu.Unlock()
			return v, nil
		}
	}
	if s.resolving[key] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCycle, key)
	}
	s.resolving[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.resolving, key)
		s.mu.Unlock()
	}()

	if reg.lifetime == Singleton {
		return s.c.singleton(ctx, key, reg, s)
	}

	v, err := reg.factory(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if reg.lifetime == Scoped {
		s.scoped[key] = v
	}
	if cl, ok := v.(io.Closer); ok {
		s.owned = append(s.owned, cl)
	}
	return v, nil
}

func (s *scope) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	owned := s.owned
	s.owned = nil
	s.scoped = nil
	s.mu.Unlock()
	return closeAll(owned)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolve resolves key and asserts the instance to T.
func Resolve[T any](ctx context.Context, r Resolver, key Key) (T, error) {
	var zero T
	v, err := r.Resolve(ctx, key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("di: %s resolved to %T, want %T", key, v, zero)
	}
	return t, nil
}

// Value registers a factory returning v.
func Value(v any) Factory {
	return func(context.Context, Resolver) (any, error) { return v, nil }
}
