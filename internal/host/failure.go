package host

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var ErrJobPanic = errors.New("job panicked")

// FailureHandler is either NoHandler or Handler(fn).
//
// With NoHandler a failed run is fatal to the process.
type FailureHandler struct {
	fn func(host string, err error)
}

func NoHandler() FailureHandler { return FailureHandler{} }

// Handler receives every job failure. Handler(nil) is NoHandler.
func Handler(fn func(host string, err error)) FailureHandler {
	return FailureHandler{fn: fn}
}

func (h FailureHandler) IsSet() bool { return h.fn != nil }

// JobError describes one failed run.
type JobError struct {
	Host  string
	Job   string
	RunID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("host %s: job %s (run %s): %v", e.Host, e.Job, e.RunID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("%w: %w\n%s", ErrJobPanic, err, debug.Stack())
	}
	return fmt.Errorf("%w: %v\n%s", ErrJobPanic, v, debug.Stack())
}

func defaultFatal(err error) { panic(err) }

// fail routes err to the handler or, without one, to the fatal hook.
func (s *Service) fail(err error) {
	if s.handler.IsSet() {
		s.handler.fn(s.name, err)
		return
	}
	s.fatal(err)
}
