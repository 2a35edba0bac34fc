package gc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/queue"
	"github.com/reclaim-io/reclaim/internal/record"
)

// Delivery is one candidate handed to the consumer. Err is set when the
// delivered payload could not be decoded; such deliveries are acked and
// dropped.
type Delivery struct {
	ID    string
	Entry index.Entry
	Err   error
}

// Source feeds candidates to a Consumer.
type Source interface {
	// Receive returns at most one delivery. A timeout <= 0 waits until a
	// delivery is available or ctx is done; a positive timeout may return
	// an empty slice.
	Receive(ctx context.Context, timeout time.Duration) ([]Delivery, error)

	// Ack acknowledges the deliveries returned by the previous Receive.
	Ack(ctx context.Context) error

	// Depth returns the number of deliveries currently pending.
	Depth(ctx context.Context) (int64, error)
}

// QueueSource receives candidates from the work queue. The transport is
// dialed lazily through the session and re-dialed after any failure.
type QueueSource struct {
	session *queue.Session
}

// NewQueueSource creates a QueueSource.
func NewQueueSource(session *queue.Session) *QueueSource {
	return &QueueSource{session: session}
}

func (s *QueueSource) fail(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		s.session.Invalidate(err)
	}
	return err
}

// Receive consumes one message and decodes its {Key, Value} body.
func (s *QueueSource) Receive(ctx context.Context, timeout time.Duration) ([]Delivery, error) {
	q, err := s.session.Queue(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := q.Consume(ctx, 1, timeout)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("consume: %w", err))
	}
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeMessage(m))
	}
	return out, nil
}

func decodeMessage(m queue.Message) Delivery {
	d := Delivery{ID: m.ID}
	if err := json.Unmarshal(m.Body, &d.Entry); err != nil {
		d.Err = fmt.Errorf("%w: message %q: %v", record.ErrCorrupt, m.ID, err)
		return d
	}
	if d.Entry.Key == "" {
		d.Err = fmt.Errorf("%w: message %q has no Key", record.ErrCorrupt, m.ID)
	}
	return d
}

// Ack acknowledges the last consumed message.
func (s *QueueSource) Ack(ctx context.Context) error {
	q, err := s.session.Queue(ctx)
	if err != nil {
		return err
	}
	if err := q.Ack(ctx); err != nil {
		return s.fail(ctx, fmt.Errorf("ack: %w", err))
	}
	return nil
}

// Depth returns the queue's unread count. It is also the first call of a
// single-pass drain, so it establishes the transport.
func (s *QueueSource) Depth(ctx context.Context) (int64, error) {
	q, err := s.session.Queue(ctx)
	if err != nil {
		return 0, err
	}
	n, err := q.UnreadCount(ctx)
	if err != nil {
		return 0, s.fail(ctx, fmt.Errorf("unread count: %w", err))
	}
	return n, nil
}

// IndexSourceConfig configures an IndexSource.
type IndexSourceConfig struct {
	// IndexID is the probable-delete index. Required.
	IndexID string

	// PageSize is the LIST page size.
	// Default: index.DefaultMaxKeys
	PageSize int

	// LeakDelay hides candidates younger than this. Zero hides nothing; a
	// negative value selects DefaultLeakDelay.
	LeakDelay time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// IndexSource scans the probable-delete index directly, paging through it
// with NextMarker and applying the same age filter as the scheduler. When
// a pass reaches the end of the index, Receive returns nothing once and
// the next call starts over.
type IndexSource struct {
	idx index.Client
	cfg IndexSourceConfig

	mu     sync.Mutex
	buf    []Delivery
	marker string
	atEnd  bool
}

// NewIndexSource creates an IndexSource.
func NewIndexSource(idx index.Client, cfg IndexSourceConfig) (*IndexSource, error) {
	if idx == nil {
		return nil, errors.New("gc: index source needs an index client")
	}
	if cfg.IndexID == "" {
		return nil, errors.New("gc: probable-delete index id is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = index.DefaultMaxKeys
	}
	if cfg.LeakDelay < 0 {
		cfg.LeakDelay = DefaultLeakDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &IndexSource{idx: idx, cfg: cfg}, nil
}

// eligible converts e into a delivery. Too-young candidates yield false.
func (s *IndexSource) eligible(e index.Entry, now time.Time) (Delivery, bool) {
	d := Delivery{ID: e.Key, Entry: e}
	cand, err := record.ParseProbableDelete(e.Key, e.Value)
	if err != nil {
		d.Err = err
		return d, true
	}
	return d, cand.Age(now) >= s.cfg.LeakDelay
}

// Receive returns the next eligible candidate. timeout is not used: a
// listing never blocks on new candidates.
func (s *IndexSource) Receive(ctx context.Context, _ time.Duration) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 {
		if s.atEnd {
			s.atEnd = false
			s.marker = ""
			return nil, nil
		}
		page, err := s.idx.List(ctx, s.cfg.IndexID, s.cfg.PageSize, s.marker)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.cfg.IndexID, err)
		}
		now := s.cfg.Now()
		for _, e := range page.Keys {
			if d, ok := s.eligible(e, now); ok {
				s.buf = append(s.buf, d)
			}
		}

		next := page.NextMarker
		if next == "" && len(page.Keys) > 0 {
			next = page.Keys[len(page.Keys)-1].Key
		}
		if !page.IsTruncated || next == "" || next == s.marker {
			s.atEnd = true
		} else {
			s.marker = next
		}
	}

	d := s.buf[0]
	s.buf = s.buf[1:]
	return []Delivery{d}, nil
}

// Ack is a no-op: a resolved candidate disappears from the index.
func (s *IndexSource) Ack(context.Context) error { return nil }

// Depth counts the eligible candidates currently in the index.
func (s *IndexSource) Depth(ctx context.Context) (int64, error) {
	_, eligible, err := s.Backlog(ctx)
	return eligible, err
}

// Backlog counts every entry of the index and the eligible subset in one
// pass. Corrupt entries count as eligible.
func (s *IndexSource) Backlog(ctx context.Context) (pending, eligible int64, err error) {
	now := s.cfg.Now()
	err = index.Each(ctx, s.idx, s.cfg.IndexID, s.cfg.PageSize, func(e index.Entry) (bool, error) {
		pending++
		if _, ok := s.eligible(e, now); ok {
			eligible++
		}
		return true, nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", s.cfg.IndexID, err)
	}
	return pending, eligible, nil
}

var (
	_ Source = (*QueueSource)(nil)
	_ Source = (*IndexSource)(nil)
)
