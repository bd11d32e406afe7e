package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopJobFailure StopReason = "job_failure"
	StopFatalError StopReason = "fatal_error"
)
