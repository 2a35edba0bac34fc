// Package queue defines the work queue between the scheduler and the
// consumers, and the Session that owns a lazily established transport.
//
// Delivery is at-least-once. Consumers must tolerate redelivery of a
// message whose candidate has already been resolved.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned when a closed queue is used.
	ErrClosed = errors.New("queue: closed")

	// ErrNotConnected is returned by a Session that has no live transport.
	ErrNotConnected = errors.New("queue: not connected")
)

// Message is one queued work item. Body is the JSON-encoded index entry.
type Message struct {
	ID   string
	Body []byte
}

// Queue is the transport-neutral contract shared by every transport.
type Queue interface {
	// Publish enqueues one message.
	Publish(ctx context.Context, msg Message) error

	// Consume returns up to max messages. A positive timeout bounds the
	// wait and an empty result means nothing was ready. A timeout <= 0
	// blocks until a message arrives or ctx is done.
	Consume(ctx context.Context, max int, timeout time.Duration) ([]Message, error)

	// Ack acknowledges every message returned by the previous Consume.
	Ack(ctx context.Context) error

	// Purge drops every queued message.
	Purge(ctx context.Context) error

	// UnreadCount returns the number of messages the configured consumer
	// group has not acknowledged yet.
	UnreadCount(ctx context.Context) (int64, error)

	// Close releases the transport.
	Close() error
}

// Dialer establishes a transport connection.
type Dialer func(ctx context.Context) (Queue, error)
