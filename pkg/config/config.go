// Package config loads the sync client configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yal212/chess-web-sub000/pkg/gamesync"
	"github.com/yal212/chess-web-sub000/pkg/log"
)

// ClientConfig configures a sync client for a single game.
//
// Durations are written as Go duration strings, e.g. "250ms" or "3s".
type ClientConfig struct {
	// ServerURL is the base URL of the API server
	ServerURL string `yaml:"serverURL"`
	GameID    string `yaml:"gameID"`
	// Token is sent as a bearer token. It can be left out and supplied
	// through the environment instead.
	Token    string `yaml:"token,omitempty"`
	LogLevel string `yaml:"logLevel"`
	// SubscribeTimeout bounds the wait for the push channel acknowledgement
	SubscribeTimeout time.Duration `yaml:"subscribeTimeout"`
	// Sync overrides individual engine tuning values
	Sync gamesync.Config `yaml:"sync"`
}

// DefaultClientConfig returns a config with every optional value set.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL:        "http://localhost:8080",
		LogLevel:         log.LogLevelInfo.String(),
		SubscribeTimeout: 10 * time.Second,
		Sync:             gamesync.DefaultConfig(),
	}
}

// LoadClientConfig reads and validates a config file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseClientConfig(data)
}

// ParseClientConfig decodes a config document over the defaults. Unknown
// fields are rejected.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.Sync = cfg.Sync.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("serverURL is required")
	}
	if c.GameID == "" {
		return fmt.Errorf("gameID is required")
	}
	if _, err := log.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	if c.SubscribeTimeout <= 0 {
		return fmt.Errorf("subscribeTimeout must be positive")
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
