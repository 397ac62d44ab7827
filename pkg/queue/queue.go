// Package queue is a small job queue with retries, a dead-letter list and
// request/reply support, backed by Redis lists in production.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmpty is returned by Broker.Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue: empty")

// Publisher enqueues fire-and-forget messages.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Broker is the storage the queue runs on.
type Broker interface {
	Push(ctx context.Context, key string, data []byte) error
	Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	Schedule(ctx context.Context, key string, data []byte, at time.Time) error
	// Due removes and returns scheduled entries whose time is <= now.
	Due(ctx context.Context, key string, now time.Time) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// QueueConfig contains the configuration for the queue.
type QueueConfig struct {
	Workers       int
	RetryLimit    int
	RetryDelay    time.Duration
	PollTimeout   time.Duration
	RetryInterval time.Duration
	ReplyTTL      time.Duration
}

func (c *QueueConfig) withDefaults() *QueueConfig {
	out := QueueConfig{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 5 * time.Second
	}
	if out.ReplyTTL <= 0 {
		out.ReplyTTL = time.Hour
	}
	return &out
}

// Message is the envelope stored in the broker.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	ReplyTo   string          `json:"reply_to,omitempty"`
}

// Reply carries a job result, or the error of its last attempt.
type Reply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Decode unmarshals a job payload or reply result.
func Decode[T any](raw json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", out, err)
	}
	return &out, nil
}
