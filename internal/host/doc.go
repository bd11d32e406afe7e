// Package host runs registered jobs inside a long-lived process.
//
// A Service owns the job registry, the execution tracker and the scheduler
// loop. Start runs every basic job once and then ticks on wall-clock aligned
// boundaries, dispatching each due recurring job to its own goroutine unless a
// previous run of the same job is still in flight. Stop halts ticking, waits
// for running jobs to finish and disposes basic job instances.
package host
