// Package device holds the server-side view of the fingerprint device:
// when it last checked in and what its LCD is showing.
package device

import (
	"sync"
	"time"

	"fingerattend/internal/clock"
)

// DefaultFreshness is how recent a heartbeat must be for the device to count
// as connected.
const DefaultFreshness = 5 * time.Second

// Monitor derives connectivity from the last heartbeat. There is no stored
// "connected" flag: silence alone flips IsConnected to false.
type Monitor struct {
	mu     sync.RWMutex
	last   time.Time
	window time.Duration
	clock  clock.Clock
}

// NewMonitor returns a monitor that has never seen a heartbeat.
func NewMonitor(clk clock.Clock, window time.Duration) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = DefaultFreshness
	}
	return &Monitor{clock: clk, window: window}
}

// RecordHeartbeat stamps the current time.
func (m *Monitor) RecordHeartbeat() {
	now := m.clock.Now()
	m.mu.Lock()
	m.last = now
	m.mu.Unlock()
}

// IsConnected reports whether the last heartbeat is younger than the window.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	last := m.last
	m.mu.RUnlock()
	if last.IsZero() {
		return false
	}
	return m.clock.Now().Sub(last) < m.window
}

// LastHeartbeat returns the zero time if no heartbeat was ever received.
func (m *Monitor) LastHeartbeat() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
