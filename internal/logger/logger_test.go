package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/triage-go/internal/config"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(config.LoggerConfig{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { SetLevel("info") })

	WithComponent("test").Debug("hello", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "test", rec["component"])
}

func TestInit_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(config.LoggerConfig{Level: "warn", Format: "text"}, &buf)
	t.Cleanup(func() { SetLevel("info") })

	L.Info("quiet")
	L.Warn("loud")

	out := buf.String()
	require.NotContains(t, out, "quiet")
	require.True(t, strings.Contains(out, "loud"))
	require.Equal(t, slog.LevelWarn, levelVar.Level())
}
