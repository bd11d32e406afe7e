// Package builtin provides the job types that can be declared in the config
// file: "command" runs an external program, "heartbeat" logs liveness.
package builtin
