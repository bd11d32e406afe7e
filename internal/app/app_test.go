package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/require"

	"cronhost/internal/config"
	"cronhost/internal/eventbus"
	"cronhost/internal/host"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

type notes struct {
	mu     sync.Mutex
	states []string
}

func (n *notes) record(state string) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "cronhost.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func journal(t *testing.T, dir string) []storage.Run {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "journal")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), "", 10)
	require.NoError(t, err)
	return runs
}

const baseConfig = `
host:
  name: test-host
  tick: 1m
  timezone: UTC
  failure_mode: %s
logging:
  level: error
storage:
  driver: file
  path: %s
jobs:
  - name: alive
    type: heartbeat
    message: up
  - name: yearly
    type: command
    schedule: "0 0 1 1 *"
    command: "true"
`

func newTestApp(t *testing.T, mode string, extraJobs string) (*App, string, *notes) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(baseConfig, mode, filepath.Join(dir, "journal")) + extraJobs
	n := &notes{}
	a, err := New(writeConfig(t, dir, body), WithNotifier(n.record))
	require.NoError(t, err)
	return a, dir, n
}

func TestAppStartRunsBasicJobsAndJournals(t *testing.T) {
	a, dir, n := newTestApp(t, "crash", "")

	require.NoError(t, a.Start(context.Background()))
	snap := a.Status().Host
	require.True(t, snap.Started)
	require.Len(t, snap.Jobs, 2)
	require.NotEmpty(t, a.Status().Goroutines)

	require.NoError(t, a.Stop(context.Background(), StopSignal))
	require.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, n.all())
	require.NoError(t, a.Err())

	runs := journal(t, dir)
	require.Len(t, runs, 1)
	require.Equal(t, "alive", runs[0].Job)
	require.Equal(t, "basic", runs[0].Kind)
	require.Equal(t, "test-host", runs[0].Host)
	require.True(t, runs[0].OK)
	require.NotEmpty(t, runs[0].ID)
}

func TestAppReportModeJournalsFailure(t *testing.T) {
	a, dir, _ := newTestApp(t, "report", `
  - name: broken
    type: command
    command: "false"
`)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background(), StopSignal))
	require.NoError(t, a.Err())

	var failed *storage.Run
	for _, r := range journal(t, dir) {
		if r.Job == "broken" {
			r := r
			failed = &r
		}
	}
	require.NotNil(t, failed)
	require.False(t, failed.OK)
	require.NotEmpty(t, failed.Error)
}

func TestAppCrashModeFailsStartOnBasicFailure(t *testing.T) {
	a, _, n := newTestApp(t, "crash", `
  - name: broken
    type: command
    command: "false"
`)

	err := a.Start(context.Background())
	require.ErrorIs(t, err, host.ErrBasicFailure)
	require.NotContains(t, n.all(), daemon.SdNotifyReady)
	require.NoError(t, a.Stop(context.Background(), StopFatalError))
}

func TestAppCrashHookClosesFailed(t *testing.T) {
	a, _, _ := newTestApp(t, "crash", "")
	t.Cleanup(func() { _ = a.close() })

	select {
	case <-a.Failed():
		t.Fatal("failed before any job ran")
	default:
	}
	boom := &host.JobError{Host: "test-host", Job: "yearly", RunID: "r1", Err: os.ErrPermission}
	a.crash(boom)
	a.crash(os.ErrClosed)

	select {
	case <-a.Failed():
	case <-time.After(time.Second):
		t.Fatal("Failed not closed")
	}
	require.ErrorIs(t, a.Err(), os.ErrPermission)
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := New(writeConfig(t, dir, `
jobs:
  - name: cronhost.logger
    type: heartbeat
`))
	require.ErrorContains(t, err, "reserved")
}

func TestRecorderForwardsOnlyRunEvents(t *testing.T) {
	a, dir, _ := newTestApp(t, "report", "")
	t.Cleanup(func() { _ = a.close() })

	events := make(chan eventbus.Event, 4)
	events <- eventbus.Event{Type: eventbus.TopicJobFinished, Data: "not a run"}
	events <- eventbus.Event{Type: eventbus.TopicJobFailed, Data: host.RunEvent{Host: "h", Job: "j", Kind: "recurring", RunID: "r1", Err: "boom"}}
	events <- eventbus.Event{Type: eventbus.TopicJobSkipped, Data: host.RunEvent{Host: "h", Job: "j", Kind: "recurring"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.record(ctx, events))
	require.NoError(t, a.store.Close())
	a.store = nil

	runs := journal(t, dir)
	require.Len(t, runs, 1)
	require.Equal(t, "r1", runs[0].ID)
	require.False(t, runs[0].OK)
}

func TestApplyConfigReloadsLogging(t *testing.T) {
	a, _, _ := newTestApp(t, "report", "")
	t.Cleanup(func() { _ = a.close() })

	next := *a.cfg
	next.Logging = config.LoggingConfig{Level: "debug"}
	next.Admin = &config.AdminConfig{Enabled: true, Addr: "127.0.0.1:0"}
	a.applyConfig(context.Background(), a.cfg, &next)
	require.Equal(t, "debug", a.logs.Config().Level)
	require.Eventually(t, func() bool { return a.admin.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	a.admin.Stop(context.Background())
}
