package redisq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaim-io/reclaim/internal/queue"
)

const (
	testStream = "reclaim-candidates"
	testGroup  = "reclaim-consumers"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{Addr: "localhost:6379", Stream: "s", Group: "g", Consumer: "c"}
	assert.NoError(t, valid.validate())

	for name, mutate := range map[string]func(*Config){
		"address":    func(c *Config) { c.Addr = "" },
		"stream":     func(c *Config) { c.Stream = "" },
		"group":      func(c *Config) { c.Group = "" },
		"consumer":   func(c *Config) { c.Consumer = "" },
		"claim idle": func(c *Config) { c.ClaimIdle = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(errors.New("ERR wrong number of arguments")))
}

func TestToMessage(t *testing.T) {
	m := toMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"id": "k1", "body": `{"Key":"k1"}`}})
	assert.Equal(t, "k1", m.ID)
	assert.Equal(t, `{"Key":"k1"}`, string(m.Body))

	m = toMessage(redis.XMessage{ID: "2-0", Values: map[string]any{"body": "x"}})
	assert.Equal(t, "2-0", m.ID)
}

func TestSplitTrimmed(t *testing.T) {
	kept, trimmed := splitTrimmed([]redis.XMessage{
		{ID: "1-0", Values: map[string]any{"id": "k1"}},
		{ID: "2-0"},
		{ID: "3-0", Values: map[string]any{"id": "k3"}},
		{ID: "4-0"},
	})
	require.Len(t, kept, 2)
	assert.Equal(t, "1-0", kept[0].ID)
	assert.Equal(t, "3-0", kept[1].ID)
	assert.Equal(t, []string{"2-0", "4-0"}, trimmed)

	kept, trimmed = splitTrimmed(nil)
	assert.Empty(t, kept)
	assert.Empty(t, trimmed)
}

func TestKnownLag(t *testing.T) {
	tests := []struct {
		name   string
		group  redis.XInfoGroup
		want   int64
		wantOK bool
	}{
		{"tracked", redis.XInfoGroup{EntriesRead: 4, Lag: 3}, 3, true},
		{"caught up", redis.XInfoGroup{EntriesRead: 7, Lag: 0}, 0, true},
		{"unknown lag", redis.XInfoGroup{EntriesRead: 4, Lag: -1}, 0, false},
		{"never read", redis.XInfoGroup{EntriesRead: 0, Lag: 12}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := knownLag(tt.group)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func dial(ctx context.Context, t *testing.T, s *miniredis.Miniredis, consumer string, claimIdle time.Duration) *Queue {
	t.Helper()
	q, err := Dial(ctx, Config{
		Addr:      s.Addr(),
		Stream:    testStream,
		Group:     testGroup,
		Consumer:  consumer,
		ClaimIdle: claimIdle,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func publish(ctx context.Context, t *testing.T, q *Queue, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, q.Publish(ctx, queue.Message{ID: id, Body: []byte("v-" + id)}))
	}
}

func ids(msgs []queue.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func unread(ctx context.Context, t *testing.T, q *Queue) int64 {
	t.Helper()
	n, err := q.UnreadCount(ctx)
	require.NoError(t, err)
	return n
}

func TestRedisRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := miniredis.RunT(t)

	q := dial(ctx, t, s, "c1", 0)

	// Creating the group twice is harmless.
	q2 := dial(ctx, t, s, "c1", 0)
	require.NoError(t, q2.Close())

	publish(ctx, t, q, "k1", "k2")
	assert.Equal(t, int64(2), unread(ctx, t, q))

	msgs, err := q.Consume(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "k1", msgs[0].ID)
	assert.Equal(t, "v-k1", string(msgs[0].Body))

	// Delivered but unacknowledged still counts as unread.
	assert.Equal(t, int64(2), unread(ctx, t, q))

	// Unacknowledged delivery comes back first.
	msgs, err = q.Consume(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, ids(msgs))

	require.NoError(t, q.Ack(ctx))
	assert.Equal(t, int64(1), unread(ctx, t, q))

	msgs, err = q.Consume(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, ids(msgs))
	require.NoError(t, q.Ack(ctx))
	assert.Zero(t, unread(ctx, t, q))

	msgs, err = q.Consume(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Ack with nothing delivered is a no-op.
	require.NoError(t, q.Ack(ctx))

	require.NoError(t, q.Close())
	_, err = q.Consume(ctx, 1, time.Second)
	assert.ErrorIs(t, err, queue.ErrClosed)
	_, err = q.UnreadCount(ctx)
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestRedisConsumeWaitsForPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := miniredis.RunT(t)

	c := dial(ctx, t, s, "c1", 0)
	p := dial(ctx, t, s, "scheduler", 0)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = p.Publish(ctx, queue.Message{ID: "k1", Body: []byte("v")})
	}()
	msgs, err := c.Consume(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, ids(msgs))
}

func TestRedisPurge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := miniredis.RunT(t)

	q := dial(ctx, t, s, "c1", 0)
	publish(ctx, t, q, "k1", "k2", "k3")

	// Two entries sit in the pending list when the stream is trimmed.
	msgs, err := q.Consume(ctx, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, q.Purge(ctx))
	assert.Zero(t, unread(ctx, t, q))

	summary, err := q.rdb.XPending(ctx, testStream, testGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, summary.Count)

	msgs, err = q.Consume(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Ack after a purge has nothing left to acknowledge.
	require.NoError(t, q.Ack(ctx))

	publish(ctx, t, q, "k4")
	msgs, err = q.Consume(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"k4"}, ids(msgs))
}

func TestRedisClaimsEntriesOfIdleConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := miniredis.RunT(t)

	crashed := dial(ctx, t, s, "consumer-old", time.Minute)
	publish(ctx, t, crashed, "k1", "k2")
	msgs, err := crashed.Consume(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NoError(t, crashed.Close())

	next := dial(ctx, t, s, "consumer-new", time.Minute)

	// Not idle long enough yet.
	msgs, err = next.Consume(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, int64(2), unread(ctx, t, next))

	s.SetTime(time.Now().Add(2 * time.Minute))
	msgs, err = next.Consume(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, ids(msgs))

	require.NoError(t, next.Ack(ctx))
	assert.Zero(t, unread(ctx, t, next))
}

func TestRedisClaimDisabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := miniredis.RunT(t)

	crashed := dial(ctx, t, s, "consumer-old", 0)
	publish(ctx, t, crashed, "k1")
	msgs, err := crashed.Consume(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, crashed.Close())

	next := dial(ctx, t, s, "consumer-new", 0)
	s.SetTime(time.Now().Add(time.Hour))
	msgs, err = next.Consume(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, int64(1), unread(ctx, t, next))
}
