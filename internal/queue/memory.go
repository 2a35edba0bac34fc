package queue

import (
	"context"
	"sync"
	"time"
)

// Operation names used by MemoryQueue.SetError and Count.
const (
	OpPublish = "publish"
	OpConsume = "consume"
	OpAck     = "ack"
	OpPurge   = "purge"
	OpUnread  = "unread"
)

// MemoryQueue is an in-process Queue. Messages handed out by Consume and
// not acknowledged before the next Consume are delivered again, which
// mirrors the at-least-once behaviour of the real transports.
type MemoryQueue struct {
	mu        sync.Mutex
	pending   []Message
	inflight  []Message
	published []Message
	counts    map[string]int
	failing   map[string]error
	ready     chan struct{}
	closed    bool
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		counts:  make(map[string]int),
		failing: make(map[string]error),
		ready:   make(chan struct{}),
	}
}

// SetError makes op fail with err; a nil err clears it.
func (q *MemoryQueue) SetError(op string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		delete(q.failing, op)
		return
	}
	q.failing[op] = err
}

// Count returns how many times op was called.
func (q *MemoryQueue) Count(op string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[op]
}

// Published returns every message ever published, in order.
func (q *MemoryQueue) Published() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.published...)
}

// Len returns the number of queued messages not yet handed out.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// begin counts the call and returns the injected or closed error. Callers
// hold q.mu.
func (q *MemoryQueue) begin(op string) error {
	q.counts[op]++
	if q.closed {
		return ErrClosed
	}
	return q.failing[op]
}

// signal wakes every blocked Consume. Callers hold q.mu.
func (q *MemoryQueue) signal() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *MemoryQueue) Publish(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.begin(OpPublish); err != nil {
		return err
	}
	msg.Body = append([]byte(nil), msg.Body...)
	q.pending = append(q.pending, msg)
	q.published = append(q.published, msg)
	q.signal()
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, max int, timeout time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	q.mu.Lock()
	if err := q.begin(OpConsume); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	if len(q.inflight) > 0 {
		q.pending = append(q.inflight, q.pending...)
		q.inflight = nil
	}
	q.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.pending) > 0 {
			n := min(max, len(q.pending))
			out := append([]Message(nil), q.pending[:n]...)
			q.pending = q.pending[n:]
			q.inflight = append(q.inflight, out...)
			q.mu.Unlock()
			return out, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.begin(OpAck); err != nil {
		return err
	}
	q.inflight = nil
	return nil
}

func (q *MemoryQueue) Purge(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.begin(OpPurge); err != nil {
		return err
	}
	q.pending = nil
	q.inflight = nil
	return nil
}

func (q *MemoryQueue) UnreadCount(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.begin(OpUnread); err != nil {
		return 0, err
	}
	return int64(len(q.pending) + len(q.inflight)), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
