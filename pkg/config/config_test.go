package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yal212/chess-web-sub000/pkg/gamesync"
)

func TestParseClientConfig(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
		check   func(t *testing.T, cfg *ClientConfig)
	}{
		{
			name: "minimal",
			doc:  "gameID: g1\n",
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, 10*time.Second, cfg.SubscribeTimeout)
				assert.Equal(t, gamesync.DefaultConfig(), cfg.Sync)
			},
		},
		{
			name: "overrides",
			doc: `
serverURL: https://chess.example.com
gameID: g1
token: secret
logLevel: debug
subscribeTimeout: 5s
sync:
  graceWindow: 1500ms
  maxRetries: 5
  realtimeRecoveryInterval: 1m
`,
			check: func(t *testing.T, cfg *ClientConfig) {
				assert.Equal(t, "https://chess.example.com", cfg.ServerURL)
				assert.Equal(t, "secret", cfg.Token)
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, 5*time.Second, cfg.SubscribeTimeout)
				assert.Equal(t, 1500*time.Millisecond, cfg.Sync.GraceWindow)
				assert.Equal(t, 5, cfg.Sync.MaxRetries)
				assert.Equal(t, time.Minute, cfg.Sync.RealtimeRecoveryInterval)
				assert.Equal(t, gamesync.DefaultDebounceInterval, cfg.Sync.DebounceInterval)
			},
		},
		{
			name:    "empty",
			doc:     "",
			wantErr: "gameID is required",
		},
		{
			name:    "unknown field",
			doc:     "gameID: g1\ngameId: g2\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "bad duration",
			doc:     "gameID: g1\nsync:\n  graceWindow: soon\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "bad log level",
			doc:     "gameID: g1\nlogLevel: loud\n",
			wantErr: "unknown log level",
		},
		{
			name:    "inconsistent sync",
			doc:     "gameID: g1\nsync:\n  latencyCeiling: 1s\n",
			wantErr: "sync: slow latency",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseClientConfig([]byte(tt.doc))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "g1", cfg.GameID)
			tt.check(t, cfg)
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gameID: g1\nsync:\n  debounceInterval: 50ms\n"), 0o600))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.DebounceInterval)

	_, err = LoadClientConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
