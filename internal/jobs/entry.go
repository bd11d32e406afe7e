package jobs

import (
	"context"
	"errors"
	"fmt"
)

var ErrTargetType = errors.New("resolved instance does not match entry point")

// EntryPoint is the statically typed method invoked on a resolved target.
//
// Two calling conventions exist: Method (no argument besides ctx) and
// MethodWithHost (receives the host name).
type EntryPoint struct {
	name     string
	withHost bool
	invoke   func(ctx context.Context, target any, host string) error
}

// Method binds fn, typically a method expression such as (*Cleanup).Run.
func Method[T any](name string, fn func(T, context.Context) error) EntryPoint {
	return EntryPoint{
		name: name,
		invoke: func(ctx context.Context, target any, _ string) error {
			v, err := assertTarget[T](name, target)
			if err != nil {
				return err
			}
			return fn(v, ctx)
		},
	}
}

// MethodWithHost binds fn; the host name is passed on every invocation.
func MethodWithHost[T any](name string, fn func(T, context.Context, string) error) EntryPoint {
	return EntryPoint{
		name:     name,
		withHost: true,
		invoke: func(ctx context.Context, target any, host string) error {
			v, err := assertTarget[T](name, target)
			if err != nil {
				return err
			}
			return fn(v, ctx, host)
		},
	}
}

func assertTarget[T any](name string, target any) (T, error) {
	v, ok := target.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s wants %T, got %T", ErrTargetType, name, zero, target)
	}
	return v, nil
}

func (e EntryPoint) Name() string { return e.name }

// Parameterless reports whether the entry point ignores the host name.
func (e EntryPoint) Parameterless() bool { return !e.withHost }

func (e EntryPoint) IsZero() bool { return e.invoke == nil }

func (e EntryPoint) Invoke(ctx context.Context, target any, host string) error {
	if e.invoke == nil {
		return fmt.Errorf("entry point %q is not bound", e.name)
	}
	return e.invoke(ctx, target, host)
}
