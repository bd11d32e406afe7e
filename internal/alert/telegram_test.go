package alert

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "cronhost/pkg/logx"
)

func TestFormatEscapesAndTruncates(t *testing.T) {
	msg := Format(Failure{
		Host: "h",
		Job:  "<backup>",
		At:   time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC),
		Err:  strings.Repeat("x", 2000),
	})
	require.Contains(t, msg, "&lt;backup&gt;")
	require.Contains(t, msg, "2024-03-04T02:00:00Z")
	require.Contains(t, msg, "...</pre>")
	require.NotContains(t, msg, "run:")
}

func TestTelegramSendsQueuedAlerts(t *testing.T) {
	bodies := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			bodies <- string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"}}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, URL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tg.Run(ctx)
	}()

	tg.Notify(Failure{Host: "h", Job: "backup", RunID: "r1", Err: "boom"})

	select {
	case body := <-bodies:
		require.Contains(t, body, "backup")
		require.Contains(t, body, "boom")
		require.Contains(t, body, "42")
	case <-time.After(3 * time.Second):
		t.Fatal("alert not sent")
	}

	require.Eventually(t, func() bool {
		sent, _ := tg.Stats()
		return sent == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNewTelegramValidates(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: 1}, logx.Nop())
	require.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "t"}, logx.Nop())
	require.Error(t, err)
}
