package index

import (
	"context"
	"sort"
	"sync"
)

// Operation names used in the MemoryClient call log and by SetError.
const (
	OpList   = "list"
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
)

// Call is one recorded MemoryClient invocation.
type Call struct {
	Op    string
	Index string
	Key   string
}

type failKey struct {
	op    string
	index string
	key   string
}

// MemoryClient implements Client in memory for tests. It records every call
// and can be told to fail specific operations.
type MemoryClient struct {
	mu      sync.Mutex
	data    map[string]map[string]string
	calls   []Call
	failing map[failKey]error
	closed  bool
}

// NewMemoryClient creates an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		data:    make(map[string]map[string]string),
		failing: make(map[failKey]error),
	}
}

// Seed stores value without recording a call.
func (m *MemoryClient) Seed(indexID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(indexID)[key] = value
}

// Value returns the stored value without recording a call.
func (m *MemoryClient) Value(indexID, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[indexID][key]
	return v, ok
}

// Len returns the number of keys stored in indexID.
func (m *MemoryClient) Len(indexID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[indexID])
}

// SetError makes every op call against indexID fail with err. A nil err
// clears the failure.
func (m *MemoryClient) SetError(op, indexID string, err error) {
	m.SetKeyError(op, indexID, "", err)
}

// SetKeyError makes op fail with err for a single key.
func (m *MemoryClient) SetKeyError(op, indexID, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := failKey{op: op, index: indexID, key: key}
	if err == nil {
		delete(m.failing, k)
		return
	}
	m.failing[k] = err
}

// Calls returns the recorded calls of op against indexID, in order.
func (m *MemoryClient) Calls(op, indexID string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Op == op && c.Index == indexID {
			out = append(out, c)
		}
	}
	return out
}

// AllCalls returns every recorded call, in order.
func (m *MemoryClient) AllCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// ResetCalls clears the call log.
func (m *MemoryClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MemoryClient) bucket(indexID string) map[string]string {
	b, ok := m.data[indexID]
	if !ok {
		b = make(map[string]string)
		m.data[indexID] = b
	}
	return b
}

// begin records the call and returns the injected or closed error, if any.
// Callers hold m.mu.
func (m *MemoryClient) begin(op, indexID, key string) error {
	m.calls = append(m.calls, Call{Op: op, Index: indexID, Key: key})
	if m.closed {
		return ErrClosed
	}
	if err, ok := m.failing[failKey{op: op, index: indexID, key: key}]; ok {
		return err
	}
	if err, ok := m.failing[failKey{op: op, index: indexID}]; ok {
		return err
	}
	return nil
}

func (m *MemoryClient) List(_ context.Context, indexID string, maxKeys int, marker string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpList, indexID, marker); err != nil {
		return Page{}, err
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	b := m.data[indexID]
	keys := make([]string, 0, len(b))
	for k := range b {
		if k > marker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var page Page
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		page.IsTruncated = true
		page.NextMarker = keys[len(keys)-1]
	}
	page.Keys = make([]Entry, 0, len(keys))
	for _, k := range keys {
		page.Keys = append(page.Keys, Entry{Key: k, Value: b[k]})
	}
	return page, nil
}

func (m *MemoryClient) Get(_ context.Context, indexID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpGet, indexID, key); err != nil {
		return "", err
	}
	v, ok := m.data[indexID][key]
	if !ok {
		return "", &Error{Op: OpGet, Index: indexID, Key: key, Code: 404, Status: StatusNotFound}
	}
	return v, nil
}

func (m *MemoryClient) Put(_ context.Context, indexID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpPut, indexID, key); err != nil {
		return err
	}
	m.bucket(indexID)[key] = value
	return nil
}

func (m *MemoryClient) Delete(_ context.Context, indexID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpDelete, indexID, key); err != nil {
		return err
	}
	if _, ok := m.data[indexID][key]; !ok {
		return &Error{Op: OpDelete, Index: indexID, Key: key, Code: 404, Status: StatusNotFound}
	}
	delete(m.data[indexID], key)
	return nil
}

func (m *MemoryClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Client = (*MemoryClient)(nil)
