package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cronhost/internal/di"
	"cronhost/internal/eventbus"
	"cronhost/internal/jobs"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var base = time.Date(2024, 3, 4, 10, 7, 0, 0, time.UTC)

// worker is a job target; every resolved instance shares one state.
type worker struct{ st *workerState }

type workerState struct {
	calls   atomic.Int32
	closed  atomic.Int32
	hosts   chan string
	started chan struct{}
	gate    chan struct{}
	err     error
	panicV  any
}

func newState() *workerState {
	return &workerState{
		hosts:   make(chan string, 16),
		started: make(chan struct{}, 16),
	}
}

func (w *worker) Run(ctx context.Context) error {
	w.st.calls.Add(1)
	w.st.started <- struct{}{}
	if w.st.gate != nil {
		<-w.st.gate
	}
	if w.st.panicV != nil {
		panic(w.st.panicV)
	}
	return w.st.err
}

func (w *worker) RunFor(ctx context.Context, host string) error {
	w.st.hosts <- host
	return w.Run(ctx)
}

func (w *worker) Close() error {
	w.st.closed.Add(1)
	return nil
}

func newHost(t *testing.T, st *workerState, schedule string, opts ...Option) (*Service, *clock) {
	t.Helper()
	c := di.New()
	require.NoError(t, c.Register("worker", di.Transient, func(context.Context, di.Resolver) (any, error) {
		return &worker{st: st}, nil
	}))
	clk := &clock{now: base}
	f := jobs.NewSectionFactory(time.UTC, map[string]jobs.Section{"worker": {Schedule: schedule}})
	opts = append([]Option{WithClock(clk.Now), WithFactory(f)}, opts...)
	h, err := New("test-host", Config{Location: time.UTC}, c, opts...)
	require.NoError(t, err)
	return h, clk
}

func waitStarted(t *testing.T, st *workerState) {
	t.Helper()
	select {
	case <-st.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
}

func TestBasicJobRunsOnceAndIsHeldUntilStop(t *testing.T) {
	st := newState()
	h, clk := newHost(t, st, "* * * * *")
	require.NoError(t, h.AddBasic("worker", jobs.Method("Run", (*worker).Run)))

	require.NoError(t, h.Start(context.Background()))
	require.EqualValues(t, 1, st.calls.Load())

	snap := h.Snapshot()
	require.Len(t, snap.Jobs, 1)
	require.Equal(t, "basic", snap.Jobs[0].Kind)
	require.True(t, snap.Jobs[0].Running)
	require.Equal(t, 1, snap.Tracked)
	require.Equal(t, 0, snap.InFlight)

	for i := 1; i <= 3; i++ {
		h.tick(clk.Now().Add(time.Duration(i) * time.Minute))
	}
	require.EqualValues(t, 1, st.calls.Load())
	require.EqualValues(t, 0, st.closed.Load())

	require.NoError(t, h.Stop(context.Background()))
	require.EqualValues(t, 1, st.closed.Load())
	require.Equal(t, 0, h.Snapshot().Tracked)
}

func TestTickDropsOverlappingRun(t *testing.T) {
	st := newState()
	st.gate = make(chan struct{})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	h, _ := newHost(t, st, "*/15 * * * *", WithBus(bus))
	require.NoError(t, h.AddRecurring("worker", jobs.Method("Run", (*worker).Run)))
	require.NoError(t, h.Start(context.Background()))

	d := h.Registry().Recurring()[0]
	require.Equal(t, base.Add(8*time.Minute), d.Cursor().Next())

	at := time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)
	h.tick(at)
	waitStarted(t, st)
	h.tick(at.Add(time.Millisecond))
	h.tick(at.Add(15 * time.Minute))

	require.EqualValues(t, 1, st.calls.Load())
	require.Equal(t, at.Add(30*time.Minute), d.Cursor().Next())

	skipped := false
	for !skipped {
		select {
		case ev := <-events:
			skipped = ev.Type == eventbus.TopicJobSkipped
		case <-time.After(time.Second):
			t.Fatal("no skip event")
		}
	}

	close(st.gate)
	require.NoError(t, h.tracker.Drain(context.Background()))

	h.tick(at.Add(30 * time.Minute))
	waitStarted(t, st)
	require.NoError(t, h.Stop(context.Background()))
	require.EqualValues(t, 2, st.calls.Load())
}

func TestUnhandledFailureIsFatal(t *testing.T) {
	st := newState()
	boom := errors.New("boom")
	st.err = boom
	fatal := make(chan error, 1)

	h, _ := newHost(t, st, "* * * * *", WithFatal(func(err error) { fatal <- err }))
	require.NoError(t, h.AddRecurring("worker", jobs.Method("Run", (*worker).Run)))
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop(context.Background())

	h.tick(base.Add(time.Minute))

	select {
	case err := <-fatal:
		require.ErrorIs(t, err, boom)
		var je *JobError
		require.ErrorAs(t, err, &je)
		require.Equal(t, "test-host", je.Host)
		require.Equal(t, "worker", je.Job)
		require.NotEmpty(t, je.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal hook not called")
	}
	require.False(t, h.tracker.IsRunning(recurringKey(h.Registry().Recurring()[0])))
}

func TestHandlerReceivesHostAndError(t *testing.T) {
	st := newState()
	st.panicV = "kaput"
	type failure struct {
		host string
		err  error
	}
	got := make(chan failure, 1)
	fatal := make(chan error, 1)

	h, _ := newHost(t, st, "* * * * *",
		WithFailureHandler(Handler(func(host string, err error) { got <- failure{host, err} })),
		WithFatal(func(err error) { fatal <- err }),
	)
	require.NoError(t, h.AddRecurring("worker", jobs.MethodWithHost("RunFor", (*worker).RunFor)))
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop(context.Background())

	h.tick(base.Add(time.Minute))

	select {
	case f := <-got:
		require.Equal(t, "test-host", f.host)
		require.ErrorIs(t, f.err, ErrJobPanic)
		require.Contains(t, f.err.Error(), "kaput")
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	require.Equal(t, "test-host", <-st.hosts)
	require.Empty(t, fatal)
}

func TestRunScopeIsReleased(t *testing.T) {
	st := newState()
	h, _ := newHost(t, st, "* * * * *")
	require.NoError(t, h.AddRecurring("worker", jobs.Method("Run", (*worker).Run)))
	require.NoError(t, h.Start(context.Background()))

	h.tick(base.Add(time.Minute))
	waitStarted(t, st)
	require.NoError(t, h.Stop(context.Background()))
	require.EqualValues(t, 1, st.closed.Load())
}

func TestBasicFailureWithoutHandlerFailsStart(t *testing.T) {
	st := newState()
	st.err = errors.New("no database")
	h, _ := newHost(t, st, "* * * * *")
	require.NoError(t, h.AddBasic("worker", jobs.Method("Run", (*worker).Run)))

	err := h.Start(context.Background())
	require.ErrorIs(t, err, ErrBasicFailure)
	require.ErrorIs(t, err, st.err)
	require.EqualValues(t, 1, st.closed.Load(), "failed basic job scope released")
	require.Equal(t, 0, h.Snapshot().Tracked)
	require.NoError(t, h.Stop(context.Background()))
}

func TestStopDrainsRunningJobs(t *testing.T) {
	st := newState()
	st.gate = make(chan struct{})
	h, _ := newHost(t, st, "* * * * *")
	require.NoError(t, h.AddRecurring("worker", jobs.Method("Run", (*worker).Run)))
	require.NoError(t, h.Start(context.Background()))

	h.tick(base.Add(time.Minute))
	waitStarted(t, st)

	stopped := make(chan error, 1)
	go func() { stopped <- h.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a job is running")
	case <-time.After(30 * time.Millisecond):
	}

	close(st.gate)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}

func TestStopHonorsDrainTimeout(t *testing.T) {
	st := newState()
	st.gate = make(chan struct{})
	defer close(st.gate)

	c := di.New()
	require.NoError(t, c.Register("worker", di.Transient, func(context.Context, di.Resolver) (any, error) {
		return &worker{st: st}, nil
	}))
	f := jobs.NewSectionFactory(time.UTC, map[string]jobs.Section{"worker": {Schedule: "* * * * *"}})
	h, err := New("t", Config{Location: time.UTC, DrainTimeout: 20 * time.Millisecond}, c,
		WithFactory(f), WithClock(func() time.Time { return base }))
	require.NoError(t, err)
	require.NoError(t, h.AddRecurring("worker", jobs.Method("Run", (*worker).Run)))
	require.NoError(t, h.Start(context.Background()))

	h.tick(base.Add(time.Minute))
	waitStarted(t, st)
	require.ErrorIs(t, h.Stop(context.Background()), context.DeadlineExceeded)
}

func TestAddRules(t *testing.T) {
	st := newState()
	h, _ := newHost(t, st, "* * * * *")

	err := h.AddRecurring("missing", jobs.Method("Run", (*worker).Run))
	require.ErrorIs(t, err, jobs.ErrNoSchedule)

	require.NoError(t, h.AddBasic("auto", jobs.Method("Run", (*worker).Run),
		AutoRegister(func(context.Context, di.Resolver) (any, error) { return &worker{st: st}, nil })))
	require.True(t, h.registrar.IsRegistered("auto"))

	require.NoError(t, h.Start(context.Background()))
	require.ErrorIs(t, h.Start(context.Background()), ErrStarted)
	require.ErrorIs(t, h.AddBasic("worker", jobs.Method("Run", (*worker).Run)), ErrStarted)
	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
}

func TestNewRequiresScopes(t *testing.T) {
	_, err := New("x", Config{}, nil)
	require.ErrorIs(t, err, ErrNoScopes)
}

func TestStopDuringStartDisposesBasicAndSkipsLoop(t *testing.T) {
	st := newState()
	st.gate = make(chan struct{})
	h, _ := newHost(t, st, "* * * * *")
	require.NoError(t, h.AddBasic("worker", jobs.Method("Run", (*worker).Run)))

	startErr := make(chan error, 1)
	go func() { startErr <- h.Start(context.Background()) }()
	waitStarted(t, st)

	require.NoError(t, h.Stop(context.Background()))
	close(st.gate)

	select {
	case err := <-startErr:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}
	require.EqualValues(t, 1, st.closed.Load())
	require.Equal(t, 0, h.Snapshot().Tracked)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Nil(t, h.sup, "scheduler loop started after stop")
}

func TestSchedulerLoopRestartsAfterPanic(t *testing.T) {
	var armed atomic.Bool
	var calls atomic.Int32
	now := func() time.Time {
		if armed.CompareAndSwap(true, false) {
			panic("clock failure")
		}
		calls.Add(1)
		return base
	}

	c := di.New()
	h, err := New("t", Config{Tick: 10 * time.Millisecond, Location: time.UTC}, c, WithClock(now))
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop(context.Background())

	armed.Store(true)
	require.Eventually(t, func() bool { return !armed.Load() }, time.Second, 5*time.Millisecond)
	after := calls.Load()

	require.Eventually(t, func() bool {
		if calls.Load() <= after+2 {
			return false
		}
		for _, s := range h.sup.Snapshot() {
			if s.Name == "scheduler" {
				return s.Restarts >= 1 && s.Panics == 1 && s.Active == 1
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNextTickAlignsToLocalWallClock(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	cases := []struct {
		name string
		now  time.Time
		tick time.Duration
		loc  *time.Location
		want time.Time
	}{
		{"minute utc", time.Date(2024, 3, 4, 10, 7, 30, 0, time.UTC), time.Minute, time.UTC, time.Date(2024, 3, 4, 10, 8, 0, 0, time.UTC)},
		{"on boundary", time.Date(2024, 3, 4, 10, 8, 0, 0, time.UTC), time.Minute, time.UTC, time.Date(2024, 3, 4, 10, 9, 0, 0, time.UTC)},
		{"hour half offset", time.Date(2024, 3, 4, 10, 7, 0, 0, kolkata), time.Hour, kolkata, time.Date(2024, 3, 4, 11, 0, 0, 0, kolkata)},
		{"minute half offset", time.Date(2024, 3, 4, 10, 7, 10, 0, kolkata), time.Minute, kolkata, time.Date(2024, 3, 4, 10, 8, 0, 0, kolkata)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextTick(tc.now, tc.tick, tc.loc)
			require.True(t, tc.want.Equal(got), "got %s want %s", got.In(tc.loc), tc.want)
		})
	}
}
