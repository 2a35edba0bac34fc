// Package kafka is the Kafka transport of the work queue, built on
// franz-go. Messages go to a single topic; consumers share a consumer group
// and commit offsets explicitly on Ack. A produce-only queue never joins the
// group, so publishers do not take partitions away from consumers. The
// unread count is the group lag and Purge deletes every record below the
// current end offsets.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/reclaim-io/reclaim/internal/queue"
)

// ErrProduceOnly is returned by Consume and Ack on a produce-only queue.
var ErrProduceOnly = errors.New("kafka: queue is produce-only")

// Config configures the Kafka transport.
type Config struct {
	Brokers  []string
	Topic    string
	Group    string
	ClientID string

	// ProduceOnly dials without joining Group. Publish, Purge and
	// UnreadCount still work; Consume and Ack fail with ErrProduceOnly.
	ProduceOnly bool

	// DialTimeout bounds the broker ping performed by Dial. Default: 10s.
	DialTimeout time.Duration
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if c.Group == "" {
		return errors.New("kafka: consumer group is required")
	}
	return nil
}

// options builds the franz-go client options for cfg.
func (c Config) options() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.DefaultProduceTopic(c.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if !c.ProduceOnly {
		opts = append(opts,
			kgo.ConsumerGroup(c.Group),
			kgo.ConsumeTopics(c.Topic),
			kgo.DisableAutoCommit(),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
	}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	return opts
}

// Queue implements queue.Queue on a Kafka topic.
type Queue struct {
	cl    *kgo.Client
	adm   *kadm.Client
	topic string
	group string

	produceOnly bool

	mu     sync.Mutex
	closed bool
}

// Dial connects to the brokers and verifies they answer.
func Dial(ctx context.Context, cfg Config) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cl, err := kgo.NewClient(cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := cl.Ping(pingCtx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka: ping brokers: %w", err)
	}

	return &Queue{
		cl:          cl,
		adm:         kadm.NewClient(cl),
		topic:       cfg.Topic,
		group:       cfg.Group,
		produceOnly: cfg.ProduceOnly,
	}, nil
}

// Dialer adapts Dial to queue.Dialer.
func Dialer(cfg Config) queue.Dialer {
	return func(ctx context.Context) (queue.Queue, error) {
		return Dial(ctx, cfg)
	}
}

func (q *Queue) checkClosed() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	return nil
}

// Publish produces msg synchronously. The message id becomes the record key.
func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	if err := q.checkClosed(); err != nil {
		return err
	}
	rec := &kgo.Record{Topic: q.topic, Key: []byte(msg.ID), Value: msg.Body}
	if err := q.cl.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce: %w", err)
	}
	return nil
}

// Consume polls up to max records.
func (q *Queue) Consume(ctx context.Context, max int, timeout time.Duration) ([]queue.Message, error) {
	if err := q.checkClosed(); err != nil {
		return nil, err
	}
	if q.produceOnly {
		return nil, ErrProduceOnly
	}
	if max <= 0 {
		max = 1
	}

	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fetches := q.cl.PollRecords(pollCtx, max)
	if fetches.IsClientClosed() {
		return nil, queue.ErrClosed
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// Poll timeout with nothing ready.
			continue
		}
		return nil, fmt.Errorf("kafka: poll %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}

	records := fetches.Records()
	out := make([]queue.Message, 0, len(records))
	for _, r := range records {
		id := string(r.Key)
		if id == "" {
			id = r.Topic + "/" + strconv.Itoa(int(r.Partition)) + "/" + strconv.FormatInt(r.Offset, 10)
		}
		out = append(out, queue.Message{ID: id, Body: r.Value})
	}
	return out, nil
}

// Ack commits the offsets of every record polled so far.
func (q *Queue) Ack(ctx context.Context) error {
	if err := q.checkClosed(); err != nil {
		return err
	}
	if q.produceOnly {
		return ErrProduceOnly
	}
	if err := q.cl.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("kafka: commit: %w", err)
	}
	return nil
}

// Purge deletes every record currently in the topic.
func (q *Queue) Purge(ctx context.Context) error {
	if err := q.checkClosed(); err != nil {
		return err
	}
	ends, err := q.adm.ListEndOffsets(ctx, q.topic)
	if err != nil {
		return fmt.Errorf("kafka: list end offsets: %w", err)
	}

	offsets := make(kadm.Offsets)
	var listErr error
	ends.Each(func(lo kadm.ListedOffset) {
		if lo.Err != nil {
			if listErr == nil {
				listErr = fmt.Errorf("kafka: end offset %s[%d]: %w", lo.Topic, lo.Partition, lo.Err)
			}
			return
		}
		if lo.Offset > 0 {
			offsets.Add(kadm.Offset{Topic: lo.Topic, Partition: lo.Partition, At: lo.Offset, LeaderEpoch: -1})
		}
	})
	if listErr != nil {
		return listErr
	}
	if len(offsets) == 0 {
		return nil
	}

	resps, err := q.adm.DeleteRecords(ctx, offsets)
	if err != nil {
		return fmt.Errorf("kafka: delete records: %w", err)
	}
	for topic, partitions := range resps {
		for partition, r := range partitions {
			if r.Err != nil {
				return fmt.Errorf("kafka: delete records %s[%d]: %w", topic, partition, r.Err)
			}
		}
	}
	return nil
}

// UnreadCount returns the records the group has not committed past, summed
// over every partition of the topic. A partition the group never committed
// counts from its start offset, so records published before any consumer
// joined are included.
func (q *Queue) UnreadCount(ctx context.Context) (int64, error) {
	if err := q.checkClosed(); err != nil {
		return 0, err
	}
	starts, err := q.adm.ListStartOffsets(ctx, q.topic)
	if err != nil {
		return 0, fmt.Errorf("kafka: list start offsets: %w", err)
	}
	ends, err := q.adm.ListEndOffsets(ctx, q.topic)
	if err != nil {
		return 0, fmt.Errorf("kafka: list end offsets: %w", err)
	}
	committed, err := q.adm.FetchOffsets(ctx, q.group)
	if err != nil && !errors.Is(err, kerr.GroupIDNotFound) {
		return 0, fmt.Errorf("kafka: fetch offsets of %q: %w", q.group, err)
	}

	var (
		total  int64
		lagErr error
	)
	ends.Each(func(end kadm.ListedOffset) {
		if lagErr != nil {
			return
		}
		if end.Err != nil {
			lagErr = fmt.Errorf("kafka: end offset %s[%d]: %w", end.Topic, end.Partition, end.Err)
			return
		}
		var from int64
		if start, ok := starts.Lookup(end.Topic, end.Partition); ok {
			if start.Err != nil {
				lagErr = fmt.Errorf("kafka: start offset %s[%d]: %w", end.Topic, end.Partition, start.Err)
				return
			}
			from = start.Offset
		}
		if c, ok := committed.Lookup(end.Topic, end.Partition); ok && c.Err == nil && c.At > from {
			from = c.At
		}
		total += partitionLag(from, end.Offset)
	})
	if lagErr != nil {
		return 0, lagErr
	}
	return total, nil
}

func partitionLag(from, end int64) int64 {
	if end > from {
		return end - from
	}
	return 0
}

// Close leaves the group and closes the client.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.cl.Close()
	return nil
}

var _ queue.Queue = (*Queue)(nil)
