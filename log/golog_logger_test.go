package log

import (
	"bytes"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func newBufferedGolog() (*GologLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	glogger := golog.New()
	glogger.SetOutput(&buf)
	glogger.SetTimeFormat("")
	return NewGologLogger(glogger), &buf
}

func TestNewGologLogger(t *testing.T) {
	logger := NewGologLogger(golog.New())

	assert.NotNil(t, logger)
	assert.Equal(t, LogLevelInfo, logger.GetLevel())
}

func TestGologLogger_LevelControl(t *testing.T) {
	logger := NewGologLogger(golog.New())

	logger.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, logger.GetLevel())

	logger.SetLevel(LogLevelError)
	assert.Equal(t, LogLevelError, logger.GetLevel())

	logger.SetLevel(LogLevelNone)
	assert.Equal(t, LogLevelNone, logger.GetLevel())
}

func TestGologLogger_FormatsMessages(t *testing.T) {
	logger, buf := newBufferedGolog()
	logger.SetLevel(LogLevelDebug)

	logger.Debug("scan skipped %d records", 2)
	logger.Warn("delete %s failed", "t1")

	out := buf.String()
	assert.Contains(t, out, "scan skipped 2 records")
	assert.Contains(t, out, "delete t1 failed")
}

func TestGologLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferedGolog()
	logger.SetLevel(LogLevelError)

	logger.Debug("filtered debug")
	logger.Info("filtered info")
	logger.Warn("filtered warn")
	logger.Error("kept error")

	out := buf.String()
	assert.NotContains(t, out, "filtered")
	assert.Contains(t, out, "kept error")
}

func TestNewDefaultGologLogger(t *testing.T) {
	logger := NewDefaultGologLogger(LogLevelWarn)
	assert.Equal(t, LogLevelWarn, logger.GetLevel())
}
