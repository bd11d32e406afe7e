// Package alert forwards job failures to operators.
package alert

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "cronhost/pkg/logx"
)

const (
	DefaultRatePerMin = 20
	queueSize         = 64
	maxErrLen         = 1500
)

// Failure is one alertable job failure.
type Failure struct {
	Host  string
	Job   string
	RunID string
	At    time.Time
	Err   string
}

type TelegramConfig struct {
	Token      string
	ChatID     int64
	ThreadID   int
	URL        string
	RatePerMin int
}

// Telegram sends failure alerts through the Bot API. Notify never blocks;
// Run delivers queued alerts at a bounded rate.
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
	limiter  *rate.Limiter
	queue    chan Failure
	log      logx.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	// Offline skips the getMe handshake; the bot only sends.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.URL),
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	per := cfg.RatePerMin
	if per <= 0 {
		per = DefaultRatePerMin
	}
	return &Telegram{
		bot:      b,
		chat:     &tele.Chat{ID: cfg.ChatID},
		threadID: cfg.ThreadID,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), min(per, 5)),
		queue:    make(chan Failure, queueSize),
		log:      log.With(logx.String("comp", "alert.telegram")),
	}, nil
}

// Notify queues f, dropping it when the queue is full.
func (t *Telegram) Notify(f Failure) {
	select {
	case t.queue <- f:
	default:
		if t.dropped.Add(1) == 1 {
			t.log.Warn("alert queue full; dropping alerts")
		}
	}
}

// Run sends queued alerts until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := t.send(f); err != nil {
				t.log.Warn("alert send failed", logx.String("job", f.Job), logx.Err(err))
				continue
			}
			t.sent.Add(1)
		}
	}
}

func (t *Telegram) send(f Failure) error {
	_, err := t.bot.Send(t.chat, Format(f), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	})
	return err
}

// Stats returns (sent, dropped).
func (t *Telegram) Stats() (uint64, uint64) { return t.sent.Load(), t.dropped.Load() }

// Format renders f as Telegram HTML.
func Format(f Failure) string {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	errText := f.Err
	if len(errText) > maxErrLen {
		errText = errText[:maxErrLen-3] + "..."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>job failed</b>: %s\n", html.EscapeString(f.Job))
	fmt.Fprintf(&b, "host: %s\n", html.EscapeString(f.Host))
	if f.RunID != "" {
		fmt.Fprintf(&b, "run: <code>%s</code>\n", html.EscapeString(f.RunID))
	}
	fmt.Fprintf(&b, "at: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(errText))
	return b.String()
}
