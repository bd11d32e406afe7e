package builtin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "cronhost/pkg/logx"
)

const DefaultHeartbeatMessage = "alive"

type HeartbeatConfig struct {
	Name     string
	Message  string
	Interval time.Duration
}

// Heartbeat logs a liveness line.
//
// As a recurring job Beat logs once per occurrence. As a basic job Start logs
// once and, with a positive interval, keeps a ticker running until Close.
type Heartbeat struct {
	name     string
	message  string
	interval time.Duration
	log      logx.Logger

	beats atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHeartbeat(cfg HeartbeatConfig, log logx.Logger) *Heartbeat {
	msg := cfg.Message
	if msg == "" {
		msg = DefaultHeartbeatMessage
	}
	return &Heartbeat{
		name:     cfg.Name,
		message:  msg,
		interval: cfg.Interval,
		log:      log.With(logx.String("comp", "builtin.heartbeat"), logx.String("job", cfg.Name)),
	}
}

func (h *Heartbeat) Beat(ctx context.Context, host string) error {
	n := h.beats.Add(1)
	h.log.Info(h.message, logx.String("host", host), logx.Int64("beat", int64(n)))
	return nil
}

func (h *Heartbeat) Start(ctx context.Context, host string) error {
	if err := h.Beat(ctx, host); err != nil {
		return err
	}
	if h.interval <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}
	// The ticker outlives the Start call; only Close stops it.
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	h.cancel, h.done = cancel, done
	go func() {
		defer close(done)
		t := time.NewTicker(h.interval)
		defer t.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-t.C:
				_ = h.Beat(tctx, host)
			}
		}
	}()
	return nil
}

func (h *Heartbeat) Beats() uint64 { return h.beats.Load() }

// Close stops the ticker started by Start. It is safe to call more than once.
func (h *Heartbeat) Close() error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
