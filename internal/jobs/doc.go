// Package jobs describes registered units of work.
//
// A Descriptor is immutable metadata: target type (a di.Key), entry point,
// per-job settings and, for recurring jobs, a compiled schedule with its
// owning Cursor. Descriptors without a schedule are basic jobs: they run once
// at host start and stay alive until shutdown.
//
// The Registry keeps descriptors in registration order; that order is the
// evaluation order of every scheduler tick.
package jobs
