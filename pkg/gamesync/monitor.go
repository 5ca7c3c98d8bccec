package gamesync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yal212/chess-web-sub000/pkg/clock"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
)

const (
	// latencySamples is the number of probe round trips kept for smoothing
	latencySamples = 10
	// outlierFloor is the latency under which a sample is never an outlier
	outlierFloor = 20 * time.Millisecond
)

// ConnectionStatus is a point-in-time judgment of transport health.
type ConnectionStatus struct {
	IsConnected        bool           `json:"isConnected"`
	LastConnected      *time.Time     `json:"lastConnected,omitempty"`
	ConnectionAttempts int            `json:"connectionAttempts"`
	Latency            *time.Duration `json:"latency,omitempty"`
	// AverageLatency smooths recent probe samples with outliers removed
	AverageLatency *time.Duration `json:"averageLatency,omitempty"`
}

func (s ConnectionStatus) copy() ConnectionStatus {
	c := s
	if s.LastConnected != nil {
		t := *s.LastConnected
		c.LastConnected = &t
	}
	if s.Latency != nil {
		l := *s.Latency
		c.Latency = &l
	}
	if s.AverageLatency != nil {
		l := *s.AverageLatency
		c.AverageLatency = &l
	}
	return c
}

// Prober performs a minimal round trip against the store.
type Prober interface {
	Ping(ctx context.Context) error
}

// ConnectionMonitor tracks transport health from channel status reports and
// periodic heartbeat probes.
type ConnectionMonitor struct {
	config Config
	clock  clock.Clock
	prober Prober
	post   eventSink
	logger *log.Logger

	lock        sync.RWMutex
	status      ConnectionStatus
	transportUp bool
	recentRTTs  []time.Duration

	heartbeat    clock.Timer
	heartbeatSeq uint64

	listeners listenerManager[ConnectionStatus]
}

type NewConnectionMonitorOptions struct {
	Config Config
	Clock  clock.Clock
	Prober Prober
	Post   eventSink
	Logger *log.Logger
}

func NewConnectionMonitor(opts NewConnectionMonitorOptions) *ConnectionMonitor {
	logger := opts.Logger
	if logger == nil {
		logger = log.With("component", "monitor")
	}
	return &ConnectionMonitor{
		config: opts.Config,
		clock:  opts.Clock,
		prober: opts.Prober,
		post:   opts.Post,
		logger: logger,
	}
}

// RegisterListener registers a handler for status changes.
// Handlers run in their own goroutine.
func (m *ConnectionMonitor) RegisterListener(handler func(ConnectionStatus)) {
	m.listeners.RegisterHandler(handler)
}

// Status returns a copy of the current status.
func (m *ConnectionMonitor) Status() ConnectionStatus {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.status.copy()
}

// OnTransportStatus applies a status report from the push channel.
// intentional marks a closed report caused by a requested teardown; any
// other close counts as a failed attempt.
func (m *ConnectionMonitor) OnTransportStatus(status realtime.Status, intentional bool) {
	m.lock.Lock()
	switch status {
	case realtime.StatusSubscribed:
		now := m.clock.Now()
		m.status.IsConnected = true
		m.status.LastConnected = &now
		m.status.ConnectionAttempts = 0
		m.transportUp = true
	case realtime.StatusChannelError, realtime.StatusTimedOut:
		m.status.IsConnected = false
		m.status.ConnectionAttempts++
		m.transportUp = false
	case realtime.StatusClosed:
		m.status.IsConnected = false
		if !intentional {
			m.status.ConnectionAttempts++
		}
		m.transportUp = false
	default:
		m.lock.Unlock()
		m.logger.Warn("Ignoring unknown transport status %s", status)
		return
	}
	snapshot := m.status.copy()
	m.lock.Unlock()

	if status == realtime.StatusSubscribed {
		m.startHeartbeat()
	} else {
		m.StopHeartbeat()
	}

	m.logger.Debug("Transport status %s: connected=%t attempts=%d", status, snapshot.IsConnected, snapshot.ConnectionAttempts)
	m.listeners.Trigger(snapshot)
}

// Probe measures one store round trip. A failed probe marks the transport
// as disconnected and clears the latency sample.
func (m *ConnectionMonitor) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.FetchTimeout)
	defer cancel()

	start := m.clock.Now()
	err := m.prober.Ping(ctx)
	elapsed := m.clock.Now().Sub(start)

	m.lock.Lock()
	if err != nil {
		m.status.IsConnected = false
		m.status.Latency = nil
	} else {
		m.status.Latency = &elapsed
		m.recentRTTs = append(m.recentRTTs, elapsed)
		if len(m.recentRTTs) > latencySamples {
			m.recentRTTs = m.recentRTTs[len(m.recentRTTs)-latencySamples:]
		}
		average := averageRTT(removeOutlierRTTs(m.recentRTTs))
		m.status.AverageLatency = &average
		if m.transportUp {
			m.status.IsConnected = true
		}
	}
	snapshot := m.status.copy()
	m.lock.Unlock()

	if err != nil {
		m.logger.Warn("Heartbeat probe failed: %v", err)
	} else {
		m.logger.Trace("Heartbeat probe took %s", elapsed)
	}
	m.listeners.Trigger(snapshot)
	return err
}

// HeartbeatDue runs a probe for the heartbeat tagged seq and arms the next one.
// It reports false when the heartbeat was cancelled after the timer fired.
func (m *ConnectionMonitor) HeartbeatDue(ctx context.Context, seq uint64) bool {
	if seq != m.heartbeatSeq || m.heartbeat == nil {
		return false
	}
	m.Probe(ctx)
	if seq == m.heartbeatSeq {
		m.armHeartbeat()
	}
	return true
}

// StopHeartbeat cancels the heartbeat timer. It is idempotent.
func (m *ConnectionMonitor) StopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	m.heartbeatSeq++
}

func (m *ConnectionMonitor) startHeartbeat() {
	m.StopHeartbeat()
	m.armHeartbeat()
}

func (m *ConnectionMonitor) armHeartbeat() {
	seq := m.heartbeatSeq
	m.heartbeat = m.clock.AfterFunc(m.config.HeartbeatInterval, func() {
		m.post(event{kind: eventHeartbeat, seq: seq})
	})
}

// ShouldUseRealtime reports whether the push channel can be trusted.
func (m *ConnectionMonitor) ShouldUseRealtime() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if !m.status.IsConnected {
		return false
	}
	if m.status.ConnectionAttempts > m.config.MaxConnectionAttempts {
		return false
	}
	return m.status.Latency == nil || *m.status.Latency < m.config.LatencyCeiling
}

// RecommendedPollingInterval picks the polling interval from the current status.
func (m *ConnectionMonitor) RecommendedPollingInterval() time.Duration {
	m.lock.RLock()
	defer m.lock.RUnlock()

	switch {
	case !m.status.IsConnected:
		return m.config.PollIntervalDisconnected
	case m.status.Latency == nil:
		return m.config.PollIntervalDefault
	case *m.status.Latency > m.config.SlowLatency:
		return m.config.PollIntervalSlow
	default:
		return m.config.PollIntervalDefault
	}
}

// removeOutlierRTTs removes outlier RTTs from the recent RTTs.
// An outlier RTT is defined as an RTT that is greater than 2 times the median RTT
// and is also greater than outlierFloor.
func removeOutlierRTTs(recentRTTs []time.Duration) []time.Duration {
	result := make([]time.Duration, 0, len(recentRTTs))
	median := medianRTT(recentRTTs)
	for _, rtt := range recentRTTs {
		if rtt > 2*median && rtt > outlierFloor {
			continue
		}
		result = append(result, rtt)
	}
	return result
}

// medianRTT returns the median RTT from a slice of RTTs.
func medianRTT(recentRTTs []time.Duration) time.Duration {
	if len(recentRTTs) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(recentRTTs))
	copy(sorted, recentRTTs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	if len(sorted)%2 == 0 {
		return (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	return sorted[len(sorted)/2]
}

func averageRTT(rtts []time.Duration) time.Duration {
	if len(rtts) == 0 {
		return 0
	}
	var sum time.Duration
	for _, rtt := range rtts {
		sum += rtt
	}
	return sum / time.Duration(len(rtts))
}
