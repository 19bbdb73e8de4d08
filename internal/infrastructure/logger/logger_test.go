package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info").Info("borrowed", slog.String("book_id", "b1"))
	assert.Contains(t, buf.String(), `"book_id":"b1"`)

	buf.Reset()
	newLogger(&buf, "info", "text").Info("borrowed", slog.String("book_id", "b1"))
	assert.Contains(t, buf.String(), "book_id=b1")

	buf.Reset()
	newLogger(&buf, "warn").Info("dropped")
	assert.Empty(t, buf.String())
}
