package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, cfg *LoggingConfig) (*CentralLogger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	cl, err := NewCentralLogger(cfg, WithConsoleWriter(&buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl, &buf
}

func TestConsoleOutputIncludesModuleAndFields(t *testing.T) {
	t.Parallel()

	cl, buf := newTestLogger(t, &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
	})

	log := cl.Module("backend")
	log.Info("Upload completed",
		String("species", "Northern Cardinal"),
		Float64("confidence", 0.923456),
		Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "module=backend")
	assert.Contains(t, out, `species="Northern Cardinal"`)
	assert.Contains(t, out, "confidence=0.923")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.NotContains(t, out, "time=")
}

func TestModuleLevelsFilterRecords(t *testing.T) {
	t.Parallel()

	cl, buf := newTestLogger(t, &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"history": "debug"},
	})

	cl.Module("workflow").Debug("hidden")
	cl.Module("history").Debug("visible")
	cl.Module("history").Trace("too verbose")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.NotContains(t, out, "too verbose")
}

func TestTraceLevelRenderedByName(t *testing.T) {
	t.Parallel()

	cl, buf := newTestLogger(t, &LoggingConfig{
		DefaultLevel: "trace",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
	})

	cl.Module("myaudio").Trace("meter tick", Float64("db", -42.5))
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestWithAndSubModuleDoNotShareFields(t *testing.T) {
	t.Parallel()

	cl, buf := newTestLogger(t, &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
	})

	parent := cl.Module("workflow").With(String("session", "a"))
	child := parent.Module("upload").With(String("attempt", "2"))

	parent.Info("parent line")
	child.Info("child line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "attempt=")
	assert.Contains(t, lines[1], "module=workflow.upload")
	assert.Contains(t, lines[1], "session=a")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	cl, buf := newTestLogger(t, &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
	})

	ctx := WithTraceID(context.Background(), "abc123")
	cl.Module("wikipedia").WithContext(ctx).Info("lookup")
	assert.Contains(t, buf.String(), "trace_id=abc123")
}

func TestFileOutputWritesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "chirpid.log")
	cl, _ := newTestLogger(t, &LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	})

	cl.Module("history").Info("Entry appended", String("id", "e1"), Error(os.ErrNotExist))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "Entry appended", record["msg"])
	assert.Equal(t, "history", record["module"])
	assert.Equal(t, "e1", record["id"])
	assert.Equal(t, os.ErrNotExist.Error(), record["error"])
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)

	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	require.NotNil(t, cfg.Console)
	assert.True(t, cfg.Console.Enabled)
	require.NotNil(t, cfg.FileOutput)
	assert.False(t, cfg.FileOutput.Enabled)
	assert.Equal(t, DefaultLogPath, cfg.FileOutput.Path)
}

func TestBufferedFileWriterCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.log")
	w, err := NewBufferedFileWriter(path, WithFlushInterval(0))
	require.NoError(t, err)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestDiscardLoggerIsSilent(t *testing.T) {
	t.Parallel()

	log := NewDiscard()
	log.Error("nothing")
	assert.NoError(t, log.Flush())
}
