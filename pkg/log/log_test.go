package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "error", want: LogLevelError},
		{in: "warn", want: LogLevelWarn},
		{in: "info", want: LogLevelInfo},
		{in: "debug", want: LogLevelDebug},
		{in: "trace", want: LogLevelTrace},
		{in: "verbose", want: LogLevelError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_LevelFilteringAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "", 0, LogLevelInfo)
	child := logger.With("component", "reconciler").With("game", "g1")

	child.Debug("hidden")
	child.Info("adopted %d moves", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	entry := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "adopted 3 moves", entry["msg"])
	assert.Equal(t, "reconciler", entry["component"])
	assert.Equal(t, "g1", entry["game"])

	// children share the parent's level
	logger.SetLevel(LogLevelDebug)
	buf.Reset()
	child.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
