package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelError, levelFromString("ERROR"))
	assert.Equal(t, slog.LevelWarn, levelFromString(" warning "))
	assert.Equal(t, slog.LevelInfo, levelFromString("info"))
	assert.Equal(t, slog.LevelDebug, levelFromString(""))
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	var text bytes.Buffer
	NewWriter(&text, "warn", "text").Info("hidden")
	NewWriter(&text, "warn", "text").Warn("artifact deleted", "policy", "fail-open")
	assert.NotContains(t, text.String(), "hidden")
	assert.True(t, strings.Contains(text.String(), "policy=fail-open"))

	var js bytes.Buffer
	NewWriter(&js, "info", "json").Info("source done", "source", "github")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &rec))
	assert.Equal(t, "github", rec["source"])
}
