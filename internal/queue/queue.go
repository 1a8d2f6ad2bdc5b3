// Package queue publishes attendance domain events to downstream consumers.
// Publishing is best effort: callers log failures and carry on, since the
// attendance log in the store stays the source of truth.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TypeScanRecorded         = "scan.recorded"
	TypeRegistrationReported = "registration.reported"
)

// Message is one event. Body is JSON.
type Message struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Body json.RawMessage `json:"body"`
}

// NewMessage marshals body into a message with a fresh id.
func NewMessage(typ string, at time.Time, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: uuid.NewString(), Type: typ, At: at.UTC(), Body: raw}, nil
}

// Publisher is the abstraction over the different backends.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
func (Nop) Close() error                           { return nil }

// InMemory is a bounded channel-backed publisher for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages exposes the buffered messages to a consumer.
func (q *InMemory) Messages() <-chan Message { return q.ch }

func (q *InMemory) Close() error { return nil }

// RedisQueue appends events to a Redis list. Consumers BRPOP from the other
// end, which gives them FIFO order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a list-backed publisher.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendance:events"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume pops events from the far end of the list until ctx is done. The
// returned channel is closed when consumption stops. Malformed entries are
// passed to onError and skipped.
func (q *RedisQueue) Consume(ctx context.Context, onError func(error)) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				onError(err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			// res is [key, value].
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				onError(fmt.Errorf("decode event: %w", err))
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close leaves the shared client open; its owner closes it.
func (q *RedisQueue) Close() error { return nil }
