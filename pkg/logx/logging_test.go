package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	require.False(t, l.With(String("a", "b")).Enabled(LevelError))
}

func TestFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info").With(String("comp", "host"))
	l.Debug("hidden")
	l.Warn("job failed", String("job", "report"), Err(errors.New("boom")), Int("n", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	require.Equal(t, "warn", m["level"])
	require.Equal(t, "job failed", m["message"])
	require.Equal(t, "host", m["comp"])
	require.Equal(t, "report", m["job"])
	require.Equal(t, "boom", m["err"])
	require.Contains(t, m["caller"], "logging_test.go")
}

func TestServiceApplySwapsFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()
	log.Info("one")

	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}}))
	log.Debug("two")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Contains(t, string(a), `"one"`)
	require.NotContains(t, string(a), `"two"`)
	require.Contains(t, string(b), `"two"`)
	require.Equal(t, "debug", svc.Config().Level)
}

func TestServiceApplyReportsOpenError(t *testing.T) {
	svc, _ := NewService(Config{Level: "info"})
	defer svc.Close()
	err := svc.Apply(Config{File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "missing", "x.log")}})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelWarn, ParseLevel(" warning ", LevelInfo))
	require.Equal(t, LevelInfo, ParseLevel("nope", LevelInfo))
	require.True(t, ValidLevel(""))
	require.False(t, ValidLevel("loud"))
}
