package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew(t *testing.T) {
	logger := New(Config{Level: "debug"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = New(Config{Level: "error", JSON: true})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
