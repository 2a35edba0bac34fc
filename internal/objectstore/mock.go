package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// Operation names used by MockStore.Calls and SetError.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
)

// Call is one recorded MockStore invocation.
type Call struct {
	Op       string
	OID      string
	LayoutID int
}

// MockStore is an in-memory Store for tests. It records calls and can be
// told to fail specific operations.
type MockStore struct {
	mu      sync.Mutex
	objects map[string]mockObject
	calls   []Call
	failing map[string]error
	closed  bool
}

type mockObject struct {
	data     []byte
	layoutID int
	modified time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects: make(map[string]mockObject),
		failing: make(map[string]error),
	}
}

// SetError makes op fail with err for every oid; a nil err clears it.
func (s *MockStore) SetError(op string, err error) {
	s.SetOIDError(op, "", err)
}

// SetOIDError makes op fail with err for a single oid.
func (s *MockStore) SetOIDError(op, oid string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := op + "\x00" + oid
	if err == nil {
		delete(s.failing, k)
		return
	}
	s.failing[k] = err
}

// Calls returns the recorded invocations of op, in order.
func (s *MockStore) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether oid is stored.
func (s *MockStore) Has(oid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[oid]
	return ok
}

// begin records the call and returns the injected error, if any. Callers
// hold s.mu.
func (s *MockStore) begin(op, oid string, layoutID int) error {
	s.calls = append(s.calls, Call{Op: op, OID: oid, LayoutID: layoutID})
	if s.closed {
		return &ObjectError{Op: op, OID: oid, LayoutID: layoutID, Err: ErrClosed}
	}
	if err, ok := s.failing[op+"\x00"+oid]; ok {
		return err
	}
	if err, ok := s.failing[op+"\x00"]; ok {
		return err
	}
	return nil
}

func (s *MockStore) Put(_ context.Context, oid string, layoutID int, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpPut, oid, layoutID); err != nil {
		return err
	}
	s.objects[oid] = mockObject{data: data, layoutID: layoutID, modified: time.Now()}
	return nil
}

func (s *MockStore) Get(_ context.Context, oid string, layoutID int) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGet, oid, layoutID); err != nil {
		return nil, err
	}
	obj, ok := s.objects[oid]
	if !ok {
		return nil, &ObjectError{Op: OpGet, OID: oid, LayoutID: layoutID, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MockStore) Head(_ context.Context, oid string, layoutID int) (ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpHead, oid, layoutID); err != nil {
		return ObjectMeta{}, err
	}
	obj, ok := s.objects[oid]
	if !ok {
		return ObjectMeta{}, &ObjectError{Op: OpHead, OID: oid, LayoutID: layoutID, Err: ErrNotFound}
	}
	return ObjectMeta{
		OID:          oid,
		LayoutID:     obj.layoutID,
		Size:         int64(len(obj.data)),
		ETag:         "mock-etag",
		LastModified: obj.modified.UnixMilli(),
	}, nil
}

func (s *MockStore) Delete(_ context.Context, oid string, layoutID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpDelete, oid, layoutID); err != nil {
		return err
	}
	if _, ok := s.objects[oid]; !ok {
		return &ObjectError{Op: OpDelete, OID: oid, LayoutID: layoutID, Err: ErrNotFound}
	}
	delete(s.objects, oid)
	return nil
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)
