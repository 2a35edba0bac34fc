package objectstore

import (
	"context"
	"io"
	"time"
)

// MetricsRecorder is the interface for recording object store operation
// metrics. It keeps this package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordPut(durationSeconds float64, success bool, bytes int64)
	RecordGet(durationSeconds float64, success bool, bytes int64)
	RecordHead(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
// A Delete or Head answered with ErrNotFound counts as a success.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) Put(ctx context.Context, oid string, layoutID int, body io.Reader, size int64) error {
	start := time.Now()
	err := s.store.Put(ctx, oid, layoutID, body, size)
	if s.metrics != nil {
		s.metrics.RecordPut(time.Since(start).Seconds(), err == nil, size)
	}
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, oid string, layoutID int) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, oid, layoutID)
	if s.metrics == nil {
		return rc, err
	}
	if err != nil {
		s.metrics.RecordGet(time.Since(start).Seconds(), false, 0)
		return nil, err
	}
	return &instrumentedReadCloser{ReadCloser: rc, start: start, metrics: s.metrics}, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, oid string, layoutID int) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, oid, layoutID)
	if s.metrics != nil {
		s.metrics.RecordHead(time.Since(start).Seconds(), err == nil || IsNotFound(err))
	}
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, oid string, layoutID int) error {
	start := time.Now()
	err := s.store.Delete(ctx, oid, layoutID)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), err == nil || IsNotFound(err))
	}
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// instrumentedReadCloser records the Get once the body is closed, with the
// number of bytes actually read.
type instrumentedReadCloser struct {
	io.ReadCloser
	start     time.Time
	metrics   MetricsRecorder
	bytesRead int64
	readErr   bool
	closed    bool
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.readErr = true
	}
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ReadCloser.Close()
	r.metrics.RecordGet(time.Since(r.start).Seconds(), err == nil && !r.readErr, r.bytesRead)
	return err
}

var _ Store = (*InstrumentedStore)(nil)
