// Package command is the queue of hardware-bound instructions waiting for
// the fingerprint device to poll them.
//
// Delivery is at-most-once: DequeueOldest deletes the command in the same
// step that returns it, so a device that crashes before executing it loses
// the command. Operators recover by issuing the action again.
package command

import (
	"context"
	"errors"
	"fmt"

	"fingerattend/internal/clock"
	"fingerattend/internal/metrics"
	"fingerattend/internal/model"
	"fingerattend/internal/store"
)

// ErrEmpty is returned by DequeueOldest when nothing is pending.
var ErrEmpty = errors.New("command queue empty")

// Queue orders commands by creation time, then id.
type Queue struct {
	backend store.Commands
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New creates a queue persisted in backend.
func New(backend store.Commands, clk clock.Clock, m *metrics.Metrics) *Queue {
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue{backend: backend, clock: clk, metrics: m}
}

// Bind returns a queue that writes through tx, so that an enqueue commits or
// rolls back together with the rest of the transaction. The bound queue does
// not record metrics; the caller reports them after commit.
func (q *Queue) Bind(tx store.Commands) *Queue {
	return &Queue{backend: tx, clock: q.clock}
}

// Enqueue appends a command. payload may be nil.
func (q *Queue) Enqueue(ctx context.Context, kind model.CommandKind, payload *string) (model.Command, error) {
	switch kind {
	case model.CommandEnroll, model.CommandDelete, model.CommandReset:
	default:
		return model.Command{}, fmt.Errorf("unknown command kind %q", kind)
	}
	cmd := model.Command{Kind: kind, Payload: payload, CreatedAt: q.clock.Now().UTC()}
	if err := q.backend.PushCommand(ctx, &cmd); err != nil {
		return model.Command{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	q.metrics.CommandEnqueued(string(kind))
	return cmd, nil
}

// DequeueOldest atomically removes and returns the oldest pending command.
func (q *Queue) DequeueOldest(ctx context.Context) (model.Command, error) {
	cmd, err := q.backend.PopOldestCommand(ctx)
	if err != nil {
		return model.Command{}, fmt.Errorf("dequeue: %w", err)
	}
	if cmd == nil {
		return model.Command{}, ErrEmpty
	}
	q.metrics.CommandDelivered(string(cmd.Kind))
	return *cmd, nil
}

// Pending returns the number of commands not yet delivered.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	return q.backend.CountCommands(ctx)
}
