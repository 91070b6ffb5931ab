package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bufferLogger builds the production logger with stdout swapped for buf.
func bufferLogger(t *testing.T, opts Options) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, restore := newLogger(opts, zapcore.AddSync(&buf))
	t.Cleanup(restore)
	return logger, &buf
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry), sc.Text())
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerEmitsJSON(t *testing.T) {
	logger, buf := bufferLogger(t, Options{Level: "info", Format: "json"})

	logger.Info("submission finished", zap.String("request_id", "abc"), zap.String("state", "submitted"))
	require.NoError(t, logger.Sync())

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "pimbl", entries[0]["logger"])
	assert.Equal(t, "submission finished", entries[0]["msg"])
	assert.Equal(t, "abc", entries[0]["request_id"])
}

func TestLoggerConsoleFormat(t *testing.T) {
	logger, buf := bufferLogger(t, Options{Level: "info", Format: "console"})

	logger.Info("browser launched")
	assert.Contains(t, buf.String(), "browser launched")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "console output is not JSON")
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, buf := bufferLogger(t, Options{Level: "warn"})

	logger.Info("dropped")
	logger.Debug("dropped too")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLoggerInvalidLevelFallsBackToInfo(t *testing.T) {
	logger, buf := bufferLogger(t, Options{Level: "loud"})

	logger.Debug("dropped")
	logger.Info("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestLoggerTeesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pimbl.log")
	logger, buf := bufferLogger(t, Options{Level: "info", Format: "console", File: path})

	logger.Warn("captcha slow", zap.Int("polls", 42))
	require.NoError(t, logger.Sync())

	assert.Contains(t, buf.String(), "captcha slow")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := decodeLines(t, data)
	require.Len(t, entries, 1, "the file is always JSON")
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "captcha slow", entries[0]["msg"])
	assert.EqualValues(t, 42, entries[0]["polls"])
}

func TestStandardLogIsRedirected(t *testing.T) {
	_, buf := bufferLogger(t, Options{Level: "info"})

	log.Print("websocket url timeout reached")

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "websocket url timeout reached", entries[0]["msg"])
}
