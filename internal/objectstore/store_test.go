package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectErrorFormat(t *testing.T) {
	err := &ObjectError{Op: "Delete", OID: "OID-1", LayoutID: 9, Err: ErrNotFound}
	assert.Equal(t, `objectstore: Delete "OID-1" (layout 9): object not found`, err.Error())

	err = &ObjectError{Op: "Delete", OID: "OID-1", LayoutID: 9, Code: 503, Err: errors.New("unavailable")}
	assert.Equal(t, `objectstore: Delete "OID-1" (layout 9): http 503: unavailable`, err.Error())
	assert.False(t, IsNotFound(err))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "OID-1", ObjectKey("", "OID-1"))
	assert.Equal(t, "units/OID-1", ObjectKey("units", "OID-1"))
	assert.Equal(t, "units/OID-1", ObjectKey("units/", "/OID-1"))
}

func TestMockStore(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	require.NoError(t, s.Put(ctx, "OID-1", 1, bytes.NewReader([]byte("data")), 4))
	assert.True(t, s.Has("OID-1"))

	meta, err := s.Head(ctx, "OID-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), meta.Size)

	require.NoError(t, s.Delete(ctx, "OID-1", 1))
	err = s.Delete(ctx, "OID-1", 1)
	assert.True(t, IsNotFound(err))
	assert.Len(t, s.Calls(OpDelete), 2)

	boom := errors.New("boom")
	s.SetOIDError(OpDelete, "OID-2", boom)
	assert.ErrorIs(t, s.Delete(ctx, "OID-2", 1), boom)
	s.SetOIDError(OpDelete, "OID-2", nil)
	assert.True(t, IsNotFound(s.Delete(ctx, "OID-2", 1)))

	s.SetError(OpGet, boom)
	_, err = s.Get(ctx, "anything", 0)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Delete(ctx, "OID-3", 1), ErrClosed)
}

type recordedOp struct {
	op      string
	success bool
	bytes   int64
}

type fakeRecorder struct {
	ops []recordedOp
}

func (r *fakeRecorder) RecordPut(_ float64, success bool, bytes int64) {
	r.ops = append(r.ops, recordedOp{"put", success, bytes})
}

func (r *fakeRecorder) RecordGet(_ float64, success bool, bytes int64) {
	r.ops = append(r.ops, recordedOp{"get", success, bytes})
}

func (r *fakeRecorder) RecordHead(_ float64, success bool) {
	r.ops = append(r.ops, recordedOp{"head", success, 0})
}

func (r *fakeRecorder) RecordDelete(_ float64, success bool) {
	r.ops = append(r.ops, recordedOp{"delete", success, 0})
}

func TestInstrumentedStore(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	mock := NewMockStore()
	s := NewInstrumentedStore(mock, rec)

	require.NoError(t, s.Put(ctx, "OID-1", 1, bytes.NewReader([]byte("hello")), 5))

	rc, err := s.Get(ctx, "OID-1", 1)
	require.NoError(t, err)
	_, _ = io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())

	_, err = s.Head(ctx, "missing", 1)
	require.Error(t, err)

	require.NoError(t, s.Delete(ctx, "OID-1", 1))
	assert.True(t, IsNotFound(s.Delete(ctx, "OID-1", 1)))

	mock.SetError(OpDelete, errors.New("down"))
	assert.Error(t, s.Delete(ctx, "OID-1", 1))

	assert.Equal(t, []recordedOp{
		{"put", true, 5},
		{"get", true, 5},
		{"head", true, 0},
		{"delete", true, 0},
		{"delete", true, 0},
		{"delete", false, 0},
	}, rec.ops)
}

func TestInstrumentedStoreNilMetrics(t *testing.T) {
	s := NewInstrumentedStore(NewMockStore(), nil)
	_, err := s.Get(context.Background(), "missing", 0)
	assert.True(t, IsNotFound(err))
}
