// Package storage is the run journal: every finished job run is appended and
// recent runs can be listed for diagnostics.
//
// Drivers:
//   - "file":   JSON Lines, one run per line
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
