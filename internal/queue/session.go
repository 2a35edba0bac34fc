package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reclaim-io/reclaim/internal/logging"
)

// State is the connection state of a Session.
type State int

const (
	// StateUnconnected means no connection attempt has been made yet.
	StateUnconnected State = iota
	// StateConnected means the session holds a live transport.
	StateConnected
	// StateFailed means the last connection attempt or operation failed;
	// the next Queue call reconnects.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds Session.Connect.
type RetryPolicy struct {
	// MaxAttempts caps connection attempts. Zero retries until ctx is done.
	MaxAttempts int

	// InitialInterval is the first wait between attempts. Default: 1s.
	InitialInterval time.Duration

	// MaxInterval caps the wait between attempts. Default: 30s.
	MaxInterval time.Duration
}

// Session owns a transport handle and re-establishes it on demand.
type Session struct {
	name   string
	dial   Dialer
	logger *logging.Logger

	mu      sync.Mutex
	state   State
	q       Queue
	lastErr error
}

// NewSession creates an unconnected session. name identifies the transport
// in logs and readiness reports.
func NewSession(name string, dial Dialer, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.Global()
	}
	return &Session{name: name, dial: dial, logger: logger.WithComponent("queue")}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that moved the session to StateFailed.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Queue returns the live transport, dialing once if the session is not
// connected. A failed dial leaves the session in StateFailed.
func (s *Session) Queue(ctx context.Context) (Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected && s.q != nil {
		return s.q, nil
	}

	q, err := s.dial(ctx)
	if err != nil {
		s.state = StateFailed
		s.lastErr = err
		return nil, fmt.Errorf("queue %s: connect: %w", s.name, err)
	}
	s.q = q
	s.state = StateConnected
	s.lastErr = nil
	s.logger.Infof("queue connected", map[string]any{"transport": s.name})
	return q, nil
}

// Connect dials with exponential backoff until it succeeds, the policy's
// attempts are used up, or ctx is done.
func (s *Session) Connect(ctx context.Context, policy RetryPolicy) (Queue, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Second
	}
	eb.MaxInterval = policy.MaxInterval
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 30 * time.Second
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	var q Queue
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		q, err = s.Queue(ctx)
		return err
	}, b, func(err error, wait time.Duration) {
		s.logger.Warnf("queue connect failed, retrying", map[string]any{
			"transport": s.name,
			"attempt":   attempt,
			"wait":      wait.String(),
			"error":     err.Error(),
		})
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Invalidate drops the current transport after an operation failure so the
// next Queue call reconnects.
func (s *Session) Invalidate(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q != nil {
		_ = s.q.Close()
		s.q = nil
	}
	s.state = StateFailed
	s.lastErr = cause
}

// Close closes the transport and resets the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.q != nil {
		err = s.q.Close()
		s.q = nil
	}
	s.state = StateUnconnected
	return err
}

// Name implements the readiness checker contract.
func (s *Session) Name() string {
	return "queue-" + s.name
}

// CheckReady reports an error unless the session is connected.
func (s *Session) CheckReady(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %v", ErrNotConnected, s.lastErr)
	default:
		return ErrNotConnected
	}
}
