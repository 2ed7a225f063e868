package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelStringNames(t *testing.T) {
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "OFF", LevelOff.String())
	assert.Equal(t, "OFF", Level(99).String())
}

func TestNewLoggerDoesNotPanicAtAnyLevel(t *testing.T) {
	l := New(LevelDebug)
	assert.NotPanics(t, func() {
		l.Debug("debug message", "k", "v")
		l.Info("info message")
		l.Warn("warn message")
		l.Error("error message")
	})
}

func TestSetLevelSuppressesBelowThreshold(t *testing.T) {
	l := New(LevelError)
	assert.NotPanics(t, func() {
		l.Debug("should be suppressed")
		l.SetLevel(LevelDebug)
		l.Debug("should now log")
	})
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop.Debug("x")
		Nop.Info("x")
		Nop.Warn("x")
		Nop.Error("x")
		Nop.SetLevel(LevelDebug)
	})
}
