package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, Message{ID: id, Body: []byte(id)}))
	}
	n, err := q.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	msgs, err := q.Consume(ctx, 2, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)

	n, _ = q.UnreadCount(ctx)
	assert.Equal(t, int64(3), n, "unacked messages still count as unread")

	require.NoError(t, q.Ack(ctx))
	n, _ = q.UnreadCount(ctx)
	assert.Equal(t, int64(1), n)
}

func TestMemoryQueueRedeliversUnacked(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(ctx, Message{ID: "a"}))

	first, err := q.Consume(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := q.Consume(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "a", again[0].ID)

	require.NoError(t, q.Ack(ctx))
	empty, err := q.Consume(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryQueueFiniteTimeoutReturnsEmpty(t *testing.T) {
	q := NewMemoryQueue()
	start := time.Now()
	msgs, err := q.Consume(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueueBlockingConsume(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	got := make(chan []Message, 1)
	go func() {
		msgs, _ := q.Consume(ctx, 1, 0)
		got <- msgs
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Publish(ctx, Message{ID: "late"}))

	select {
	case msgs := <-got:
		require.Len(t, msgs, 1)
		assert.Equal(t, "late", msgs[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("blocking consume did not wake on publish")
	}
}

func TestMemoryQueueBlockingConsumeCancelled(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Consume(ctx, 1, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueuePurge(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Publish(ctx, Message{ID: "a"}))
	require.NoError(t, q.Publish(ctx, Message{ID: "b"}))
	_, _ = q.Consume(ctx, 1, time.Millisecond)

	require.NoError(t, q.Purge(ctx))
	n, err := q.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, q.Published(), 2)
	assert.Equal(t, 1, q.Count(OpPurge))
}

func TestMemoryQueueErrorsAndClose(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	boom := errors.New("boom")
	q.SetError(OpUnread, boom)
	_, err := q.UnreadCount(ctx)
	assert.ErrorIs(t, err, boom)
	q.SetError(OpUnread, nil)
	_, err = q.UnreadCount(ctx)
	assert.NoError(t, err)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(ctx, Message{}), ErrClosed)
	_, err = q.Consume(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
}
