// Package registration tracks the single in-flight fingerprint enrollment.
//
// An enrollment spans two unrelated requests: an operator starts it, which
// queues an ENROLL command for the device, and later the device reports the
// outcome. Only one slot exists; starting again abandons the previous attempt.
package registration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"fingerattend/internal/clock"
	"fingerattend/internal/metrics"
	"fingerattend/internal/model"
)

type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

const (
	msgRequested = "Request sent to sensor..."
	msgTimedOut  = "Timed out waiting for sensor"
	msgUnknown   = "Unknown error"
)

// Status is a snapshot of the registration slot.
type Status struct {
	State         State     `json:"status"`
	Message       string    `json:"message"`
	FingerprintID *int      `json:"fingerprint_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarshalJSON leaves updated_at out while the slot has never been used.
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	var at *time.Time
	if !s.UpdatedAt.IsZero() {
		at = &s.UpdatedAt
	}
	return json.Marshal(struct {
		plain
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
	}{plain(s), at})
}

// Event is the body of a registration.reported event.
type Event struct {
	State         State  `json:"state"`
	FingerprintID *int   `json:"fingerprint_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Enqueuer queues a command for the device.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind model.CommandKind, payload *string) (model.Command, error)
}

// Machine guards the registration slot.
type Machine struct {
	mu      sync.Mutex
	status  Status
	queue   Enqueuer
	clock   clock.Clock
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a machine in the idle state. A timeout <= 0 lets WAITING last
// until the next Start or Report.
func New(queue Enqueuer, clk clock.Clock, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		status:  Status{State: StateIdle},
		queue:   queue,
		clock:   clk,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Start queues an ENROLL command and moves the slot to WAITING, whatever
// state it was in. If the command cannot be queued the slot is left as is.
func (m *Machine) Start(ctx context.Context) error {
	cmd, err := m.queue.Enqueue(ctx, model.CommandEnroll, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.status.State
	m.status = Status{State: StateWaiting, Message: msgRequested, UpdatedAt: m.clock.Now()}
	m.mu.Unlock()

	if prev == StateWaiting {
		m.logger.Warn("registration restarted while waiting; previous attempt abandoned",
			zap.Int64("command_id", cmd.ID))
	} else {
		m.logger.Info("registration started", zap.Int64("command_id", cmd.ID))
	}
	return nil
}

// Report records the device's enrollment result and returns the slot it
// stored. It is applied in any state since the device is the only reporter.
func (m *Machine) Report(success bool, fingerprintID *int, message string) Status {
	now := m.clock.Now()
	var next Status
	if success {
		next = Status{State: StateSuccess, UpdatedAt: now}
		if fingerprintID != nil {
			id := *fingerprintID
			next.FingerprintID = &id
		}
	} else {
		if message == "" {
			message = msgUnknown
		}
		next = Status{State: StateFailed, Message: message, UpdatedAt: now}
	}

	m.mu.Lock()
	prev := m.status.State
	m.status = next
	m.mu.Unlock()

	if prev != StateWaiting {
		m.logger.Warn("registration result arrived outside waiting state",
			zap.String("previous", string(prev)), zap.String("next", string(next.State)))
	}
	m.metrics.RegistrationReported(string(next.State))
	if next.FingerprintID != nil {
		id := *next.FingerprintID
		next.FingerprintID = &id
	}
	return next
}

// Status returns the current slot. A WAITING slot older than the timeout is
// reported as FAILED; the stored state is not changed.
func (m *Machine) Status() Status {
	m.mu.Lock()
	s := m.status
	m.mu.Unlock()

	if s.State == StateWaiting && m.timeout > 0 && m.clock.Now().Sub(s.UpdatedAt) >= m.timeout {
		return Status{State: StateFailed, Message: msgTimedOut, UpdatedAt: s.UpdatedAt.Add(m.timeout)}
	}
	if s.FingerprintID != nil {
		id := *s.FingerprintID
		s.FingerprintID = &id
	}
	return s
}
