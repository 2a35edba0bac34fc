package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"

	"github.com/reclaim-io/reclaim/internal/queue"
)

const (
	testTopic = "work"
	testGroup = "reclaim-consumers"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"no brokers", Config{Topic: "t", Group: "g"}, "broker"},
		{"no topic", Config{Brokers: []string{"b:9092"}, Group: "g"}, "topic"},
		{"no group", Config{Brokers: []string{"b:9092"}, Topic: "t"}, "group"},
		{"valid", Config{Brokers: []string{"b:9092"}, Topic: "t", Group: "g"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDialRejectsInvalidConfig(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	base := Config{Brokers: []string{"b:9092"}, Topic: "t", Group: "g"}

	withID := base
	withID.ClientID = "reclaimd"
	assert.Len(t, withID.options(), len(base.options())+1)

	// Group membership, topic subscription, manual commit and reset offset.
	produceOnly := base
	produceOnly.ProduceOnly = true
	assert.Len(t, produceOnly.options(), len(base.options())-4)
}

func TestPartitionLag(t *testing.T) {
	assert.Equal(t, int64(3), partitionLag(2, 5))
	assert.Equal(t, int64(0), partitionLag(5, 5))
	assert.Equal(t, int64(0), partitionLag(7, 5))
}

func newCluster(t *testing.T, partitions int32) []string {
	t.Helper()
	c, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(partitions, testTopic))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c.ListenAddrs()
}

func dial(ctx context.Context, t *testing.T, brokers []string, clientID string, produceOnly bool) *Queue {
	t.Helper()
	q, err := Dial(ctx, Config{
		Brokers:     brokers,
		Topic:       testTopic,
		Group:       testGroup,
		ClientID:    clientID,
		ProduceOnly: produceOnly,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// consumeN polls until n messages arrived or ctx expires.
func consumeN(ctx context.Context, t *testing.T, q *Queue, n int) []queue.Message {
	t.Helper()
	var got []queue.Message
	for len(got) < n && ctx.Err() == nil {
		msgs, err := q.Consume(ctx, 10, 500*time.Millisecond)
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	return got
}

func ids(msgs []queue.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestKafkaRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	brokers := newCluster(t, 1)

	q := dial(ctx, t, brokers, "reclaim-test", false)
	require.NoError(t, q.Publish(ctx, queue.Message{ID: "k1", Body: []byte(`{"Key":"k1"}`)}))

	got := consumeN(ctx, t, q, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "k1", got[0].ID)
	assert.JSONEq(t, `{"Key":"k1"}`, string(got[0].Body))
	require.NoError(t, q.Ack(ctx))

	n, err := q.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, q.Close())
	_, err = q.Consume(ctx, 1, time.Second)
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestKafkaRedeliversWithoutAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	brokers := newCluster(t, 1)

	first := dial(ctx, t, brokers, "consumer-a", false)
	require.NoError(t, first.Publish(ctx, queue.Message{ID: "k1", Body: []byte("1")}))
	require.NoError(t, first.Publish(ctx, queue.Message{ID: "k2", Body: []byte("2")}))
	assert.Equal(t, []string{"k1", "k2"}, ids(consumeN(ctx, t, first, 2)))
	require.NoError(t, first.Close())

	// Nothing was committed, so the next member starts over.
	second := dial(ctx, t, brokers, "consumer-b", false)
	assert.Equal(t, []string{"k1", "k2"}, ids(consumeN(ctx, t, second, 2)))
	require.NoError(t, second.Ack(ctx))

	n, err := second.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, second.Close())

	third := dial(ctx, t, brokers, "consumer-c", false)
	msgs, err := third.Consume(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestKafkaUnreadCountBeforeAnyConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	brokers := newCluster(t, 3)

	pub := dial(ctx, t, brokers, "reclaim-scheduler", true)
	for _, id := range []string{"k1", "k2", "k3", "k4"} {
		require.NoError(t, pub.Publish(ctx, queue.Message{ID: id, Body: []byte(id)}))
	}

	// The group has never committed; every published record is unread.
	n, err := pub.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	c := dial(ctx, t, brokers, "reclaim-consumer", false)
	assert.ElementsMatch(t, []string{"k1", "k2", "k3", "k4"}, ids(consumeN(ctx, t, c, 4)))
	require.NoError(t, c.Ack(ctx))

	n, err = pub.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKafkaPurge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	brokers := newCluster(t, 2)

	pub := dial(ctx, t, brokers, "reclaim-scheduler", true)

	// Purging an empty topic is a no-op.
	require.NoError(t, pub.Purge(ctx))

	for _, id := range []string{"k1", "k2", "k3"} {
		require.NoError(t, pub.Publish(ctx, queue.Message{ID: id, Body: []byte(id)}))
	}
	n, err := pub.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	require.NoError(t, pub.Purge(ctx))
	n, err = pub.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c := dial(ctx, t, brokers, "reclaim-consumer", false)
	msgs, err := c.Consume(ctx, 10, 2*time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Records published after the purge are delivered as usual.
	require.NoError(t, pub.Publish(ctx, queue.Message{ID: "k4", Body: []byte("k4")}))
	assert.Equal(t, []string{"k4"}, ids(consumeN(ctx, t, c, 1)))
}

func TestKafkaProduceOnlyDoesNotJoinGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	brokers := newCluster(t, 1)

	// The publisher dials first and stays connected; on a single partition
	// topic a group member would hold the only partition.
	sched := dial(ctx, t, brokers, "reclaim-scheduler", true)
	require.NoError(t, sched.Publish(ctx, queue.Message{ID: "k1", Body: []byte("k1")}))

	c := dial(ctx, t, brokers, "reclaim-consumer", false)
	assert.Equal(t, []string{"k1"}, ids(consumeN(ctx, t, c, 1)))

	groups, err := c.adm.DescribeGroups(ctx, testGroup)
	require.NoError(t, err)
	g, ok := groups[testGroup]
	require.True(t, ok)
	require.NoError(t, g.Err)
	require.Len(t, g.Members, 1)
	assert.Equal(t, "reclaim-consumer", g.Members[0].ClientID)

	_, err = sched.Consume(ctx, 1, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrProduceOnly)
	assert.ErrorIs(t, sched.Ack(ctx), ErrProduceOnly)
}
