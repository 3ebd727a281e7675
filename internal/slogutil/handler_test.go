package slogutil

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("Scan finished", "repo", "acme/web", "files", 42, "note", "two words")

	out := buf.String()
	assert.Contains(t, out, "[info] Scan finished")
	assert.Contains(t, out, " | repo=acme/web")
	assert.Contains(t, out, "files=42")
	assert.Contains(t, out, `note="two words"`)
}

func TestTextHandlerComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelDebug).With(ComponentKey, "jobs")

	logger.Debug("Job queued", "id", "abc")

	out := buf.String()
	assert.Contains(t, out, "[debug] jobs: Job queued | id=abc")
	assert.NotContains(t, out, "component=")
}

func TestTextHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).WithGroup("pipeline")

	logger.Info("Layer done", "layer", "lint")

	assert.Contains(t, buf.String(), "pipeline.layer=lint")
}

func TestTextHandlerLevels(t *testing.T) {
	tests := []struct {
		level slog.Level
		log   func(*slog.Logger)
		want  string
	}{
		{slog.LevelDebug, func(l *slog.Logger) { l.Debug("m") }, "[debug]"},
		{slog.LevelInfo, func(l *slog.Logger) { l.Info("m") }, "[info]"},
		{slog.LevelWarn, func(l *slog.Logger) { l.Warn("m") }, "[warn]"},
		{slog.LevelError, func(l *slog.Logger) { l.Error("m") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewLogger(&buf, slog.LevelDebug))
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	t.Run("filtered below threshold", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(&buf, slog.LevelWarn).Info("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestLevelHelpers(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("DEBUG"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warning"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("bogus"))

	assert.Equal(t, slog.LevelWarn, LevelFromVerbosity(0, false))
	assert.Equal(t, slog.LevelInfo, LevelFromVerbosity(1, false))
	assert.Equal(t, slog.LevelDebug, LevelFromVerbosity(3, false))
	assert.Greater(t, LevelFromVerbosity(3, true), slog.LevelError)
}

func TestNewSelectsFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	assert.NotNil(t, OrDiscard(nil))
}
