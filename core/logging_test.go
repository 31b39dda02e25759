package core

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactingHandlerMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewTextHandler(&buf, nil)))

	logger.With("session_token", "abc123").Info("login",
		"principal", "alice",
		"password", "s3cr3t",
		slog.Group("cache", "Salt", "pepper", "realm", "R"),
	)

	out := buf.String()
	assert.Contains(t, out, "principal=alice")
	assert.Contains(t, out, "cache.realm=R")
	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, "pepper")
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, "password="+redacted)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
