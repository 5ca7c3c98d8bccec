package gamesync

import (
	"fmt"
	"time"
)

const (
	DefaultGraceWindow              = 3000 * time.Millisecond
	DefaultDebounceInterval         = 100 * time.Millisecond
	DefaultHeartbeatInterval        = 30 * time.Second
	DefaultRetryBaseDelay           = 2000 * time.Millisecond
	DefaultMaxRetries               = 3
	DefaultMaxConnectionAttempts    = 5
	DefaultLatencyCeiling           = 10000 * time.Millisecond
	DefaultSlowLatency              = 5000 * time.Millisecond
	DefaultPollIntervalDisconnected = 2000 * time.Millisecond
	DefaultPollIntervalDefault      = 3000 * time.Millisecond
	DefaultPollIntervalSlow         = 5000 * time.Millisecond
	DefaultFetchTimeout             = 10 * time.Second
	DefaultEventQueueSize           = 256
)

// Config holds the engine tuning values. Zero values are replaced by the
// defaults in WithDefaults.
type Config struct {
	// GraceWindow is how long a local mutation suppresses remote position overwrites
	GraceWindow time.Duration `yaml:"graceWindow"`
	// DebounceInterval is the quiet period before a triggered fetch runs
	DebounceInterval time.Duration `yaml:"debounceInterval"`
	// HeartbeatInterval is the period of connection probes while subscribed
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// RetryBaseDelay is the first subscription retry delay, doubled per attempt
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	// MaxRetries is the number of subscription retries before falling back to polling
	MaxRetries int `yaml:"maxRetries"`
	// MaxConnectionAttempts is the failed attempt count above which push is not trusted
	MaxConnectionAttempts int `yaml:"maxConnectionAttempts"`
	// LatencyCeiling is the probe latency at or above which push is not trusted
	LatencyCeiling time.Duration `yaml:"latencyCeiling"`
	// SlowLatency is the probe latency above which polling slows down
	SlowLatency              time.Duration `yaml:"slowLatency"`
	PollIntervalDisconnected time.Duration `yaml:"pollIntervalDisconnected"`
	PollIntervalDefault      time.Duration `yaml:"pollIntervalDefault"`
	PollIntervalSlow         time.Duration `yaml:"pollIntervalSlow"`
	// FetchTimeout bounds every store read, probes included
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	// RealtimeRecoveryInterval re-attempts the push channel this long after a
	// fallback to polling. Zero keeps the fallback for the rest of the session.
	RealtimeRecoveryInterval time.Duration `yaml:"realtimeRecoveryInterval"`
	// EventQueueSize bounds the engine's inbound event queue
	EventQueueSize int `yaml:"eventQueueSize"`
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c with unset values replaced by defaults.
func (c Config) WithDefaults() Config {
	setDuration := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	setInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}

	setDuration(&c.GraceWindow, DefaultGraceWindow)
	setDuration(&c.DebounceInterval, DefaultDebounceInterval)
	setDuration(&c.HeartbeatInterval, DefaultHeartbeatInterval)
	setDuration(&c.RetryBaseDelay, DefaultRetryBaseDelay)
	setInt(&c.MaxRetries, DefaultMaxRetries)
	setInt(&c.MaxConnectionAttempts, DefaultMaxConnectionAttempts)
	setDuration(&c.LatencyCeiling, DefaultLatencyCeiling)
	setDuration(&c.SlowLatency, DefaultSlowLatency)
	setDuration(&c.PollIntervalDisconnected, DefaultPollIntervalDisconnected)
	setDuration(&c.PollIntervalDefault, DefaultPollIntervalDefault)
	setDuration(&c.PollIntervalSlow, DefaultPollIntervalSlow)
	setDuration(&c.FetchTimeout, DefaultFetchTimeout)
	setInt(&c.EventQueueSize, DefaultEventQueueSize)
	if c.RealtimeRecoveryInterval < 0 {
		c.RealtimeRecoveryInterval = 0
	}
	return c
}

// Validate checks relationships between values after defaults are applied.
func (c Config) Validate() error {
	if c.SlowLatency > c.LatencyCeiling {
		return fmt.Errorf("slow latency %s exceeds latency ceiling %s", c.SlowLatency, c.LatencyCeiling)
	}
	if c.DebounceInterval >= c.PollIntervalDisconnected {
		return fmt.Errorf("debounce interval %s must be shorter than the poll interval %s", c.DebounceInterval, c.PollIntervalDisconnected)
	}
	return nil
}
