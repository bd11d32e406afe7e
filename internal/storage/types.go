package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. Driver empty or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Run is one journaled job run.
type Run struct {
	ID       string        `json:"id"`
	Host     string        `json:"host"`
	Job      string        `json:"job"`
	Kind     string        `json:"kind"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}

// Store is the journal API.
type Store interface {
	AppendRun(ctx context.Context, r Run) error
	// RecentRuns returns up to limit runs, newest first. An empty job matches
	// every job.
	RecentRuns(ctx context.Context, job string, limit int) ([]Run, error)
	Close() error
}
