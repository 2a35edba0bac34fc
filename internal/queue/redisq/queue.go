// Package redisq is the Redis Streams transport of the work queue. Every
// consumer reads through one consumer group; messages stay in the group's
// pending list until Ack, and a consumer re-reads its own pending entries
// before asking for new ones. Entries left pending by a consumer that went
// away are claimed once they have been idle for Config.ClaimIdle.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reclaim-io/reclaim/internal/queue"
)

const (
	fieldID   = "id"
	fieldBody = "body"

	// rangePage is the XRANGE page size used to count undelivered entries.
	rangePage = 1000

	// blockChunk bounds a single XREADGROUP when the caller asked to wait
	// indefinitely, so context cancellation is observed.
	blockChunk = 5 * time.Second
)

// Config configures the Redis transport.
type Config struct {
	Addr     string
	Password string
	DB       int

	Stream   string
	Group    string
	Consumer string

	// ClaimIdle is the idle time after which another consumer's pending
	// entries are claimed by Consume. Zero disables claiming.
	ClaimIdle time.Duration
}

func (c Config) validate() error {
	if c.Addr == "" {
		return errors.New("redisq: address is required")
	}
	if c.Stream == "" {
		return errors.New("redisq: stream is required")
	}
	if c.Group == "" {
		return errors.New("redisq: group is required")
	}
	if c.Consumer == "" {
		return errors.New("redisq: consumer name is required")
	}
	if c.ClaimIdle < 0 {
		return errors.New("redisq: claim idle must not be negative")
	}
	return nil
}

// Queue implements queue.Queue on a Redis stream.
type Queue struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	claimIdle time.Duration

	mu        sync.Mutex
	delivered []string
	closed    bool
}

// Dial connects, pings and makes sure the stream and group exist.
func Dial(ctx context.Context, cfg Config) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisq: ping %s: %w", cfg.Addr, err)
	}
	if err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err(); err != nil && !isBusyGroup(err) {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisq: create group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}
	return &Queue{
		rdb:       rdb,
		stream:    cfg.Stream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		claimIdle: cfg.ClaimIdle,
	}, nil
}

// Dialer adapts Dial to queue.Dialer.
func Dialer(cfg Config) queue.Dialer {
	return func(ctx context.Context) (queue.Queue, error) {
		return Dial(ctx, cfg)
	}
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (q *Queue) checkClosed() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	return nil
}

// Publish appends msg to the stream.
func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	if err := q.checkClosed(); err != nil {
		return err
	}
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{fieldID: msg.ID, fieldBody: msg.Body},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisq: xadd: %w", err)
	}
	return nil
}

// Consume returns up to max messages. Unacknowledged deliveries are returned
// first, then entries claimed from idle consumers, then new entries. A zero
// timeout waits until a message arrives or ctx is done; a positive timeout
// returns an empty slice when it expires.
func (q *Queue) Consume(ctx context.Context, max int, timeout time.Duration) ([]queue.Message, error) {
	if err := q.checkClosed(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	pending, err := q.read(ctx, "0", max, -1)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	claimed, err := q.claim(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	if timeout > 0 {
		return q.read(ctx, ">", max, timeout)
	}
	for {
		msgs, err := q.read(ctx, ">", max, blockChunk)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// read issues one XREADGROUP. A negative block reads without blocking.
func (q *Queue) read(ctx context.Context, id string, max int, block time.Duration) ([]queue.Message, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, id},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("redisq: xreadgroup: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return q.deliver(ctx, msgs)
}

// claim moves entries idle for at least claimIdle from other consumers'
// pending lists to this one, scanning the group's pending list until it
// finds some or reaches the end.
func (q *Queue) claim(ctx context.Context, max int) ([]queue.Message, error) {
	if q.claimIdle <= 0 {
		return nil, nil
	}
	start := "0-0"
	for {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    start,
			Count:    int64(max),
		}).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redisq: xautoclaim: %w", err)
		}
		out, err := q.deliver(ctx, msgs)
		if err != nil || len(out) > 0 || next == "0-0" || next == "" {
			return out, err
		}
		start = next
	}
}

// deliver tracks msgs for the next Ack and converts them. Pending entries
// whose stream entry was trimmed are acknowledged and dropped.
func (q *Queue) deliver(ctx context.Context, msgs []redis.XMessage) ([]queue.Message, error) {
	kept, trimmed := splitTrimmed(msgs)
	if len(trimmed) > 0 {
		if err := q.rdb.XAck(ctx, q.stream, q.group, trimmed...).Err(); err != nil {
			return nil, fmt.Errorf("redisq: xack trimmed: %w", err)
		}
	}
	out := make([]queue.Message, 0, len(kept))
	for _, m := range kept {
		out = append(out, toMessage(m))
		q.track(m.ID)
	}
	return out, nil
}

// splitTrimmed separates live entries from pending ids whose entry is gone.
// Redis returns the latter with nil values.
func splitTrimmed(msgs []redis.XMessage) (kept []redis.XMessage, trimmed []string) {
	for _, m := range msgs {
		if m.Values == nil {
			trimmed = append(trimmed, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	return kept, trimmed
}

func toMessage(m redis.XMessage) queue.Message {
	msg := queue.Message{ID: m.ID}
	if v, ok := m.Values[fieldID].(string); ok && v != "" {
		msg.ID = v
	}
	switch b := m.Values[fieldBody].(type) {
	case string:
		msg.Body = []byte(b)
	case []byte:
		msg.Body = b
	}
	return msg
}

func (q *Queue) track(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range q.delivered {
		if d == id {
			return
		}
	}
	q.delivered = append(q.delivered, id)
}

// Ack acknowledges every message delivered since the previous Ack.
func (q *Queue) Ack(ctx context.Context) error {
	if err := q.checkClosed(); err != nil {
		return err
	}
	q.mu.Lock()
	ids := q.delivered
	q.delivered = nil
	q.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
		q.mu.Lock()
		q.delivered = append(ids, q.delivered...)
		q.mu.Unlock()
		return fmt.Errorf("redisq: xack: %w", err)
	}
	return nil
}

// Purge trims the stream to zero entries and acknowledges everything left
// in the group's pending list, so trimmed entries are not counted as unread.
func (q *Queue) Purge(ctx context.Context) error {
	if err := q.checkClosed(); err != nil {
		return err
	}
	if err := q.rdb.XTrimMaxLen(ctx, q.stream, 0).Err(); err != nil {
		return fmt.Errorf("redisq: xtrim: %w", err)
	}
	for {
		pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.stream,
			Group:  q.group,
			Start:  "-",
			End:    "+",
			Count:  rangePage,
		}).Result()
		if err != nil {
			return fmt.Errorf("redisq: xpending: %w", err)
		}
		if len(pending) == 0 {
			break
		}
		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		if err := q.rdb.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
			return fmt.Errorf("redisq: xack purged: %w", err)
		}
		if len(pending) < rangePage {
			break
		}
	}
	q.mu.Lock()
	q.delivered = nil
	q.mu.Unlock()
	return nil
}

// UnreadCount returns the group's pending entries plus the entries not yet
// delivered to it. The server's lag figure is used when it is known;
// otherwise the undelivered entries are counted with XRANGE.
func (q *Queue) UnreadCount(ctx context.Context) (int64, error) {
	if err := q.checkClosed(); err != nil {
		return 0, err
	}
	groups, err := q.rdb.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redisq: xinfo groups: %w", err)
	}
	for _, g := range groups {
		if g.Name != q.group {
			continue
		}
		if lag, ok := knownLag(g); ok {
			return lag + g.Pending, nil
		}
		undelivered, err := q.countAfter(ctx, g.LastDeliveredID)
		if err != nil {
			return 0, err
		}
		return undelivered + g.Pending, nil
	}
	return 0, fmt.Errorf("redisq: group %s not found on %s", q.group, q.stream)
}

// knownLag reports the group's lag when the server tracked it. Redis
// reports -1 when the lag is unknown, and a group that has read nothing
// since creation may report the whole stream length.
func knownLag(g redis.XInfoGroup) (int64, bool) {
	if g.Lag < 0 || g.EntriesRead <= 0 {
		return 0, false
	}
	return g.Lag, true
}

// countAfter counts stream entries with an id greater than id.
func (q *Queue) countAfter(ctx context.Context, id string) (int64, error) {
	if id == "" {
		id = "0-0"
	}
	var n int64
	for {
		msgs, err := q.rdb.XRangeN(ctx, q.stream, "("+id, "+", rangePage).Result()
		if err != nil {
			return 0, fmt.Errorf("redisq: xrange: %w", err)
		}
		n += int64(len(msgs))
		if len(msgs) < rangePage {
			return n, nil
		}
		id = msgs[len(msgs)-1].ID
	}
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.rdb.Close()
}

var _ queue.Queue = (*Queue)(nil)
