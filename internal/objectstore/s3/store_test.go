package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaim-io/reclaim/internal/objectstore"
)

// fakeS3 is a path-style S3 endpoint good enough for single-object calls.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	layouts map[string]string
	deletes []string
	deny    bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), layouts: make(map[string]string)}
}

func (f *fakeS3) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			deny := f.deny
			f.mu.Unlock()
			if deny {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Put("/{bucket}/*", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := chi.URLParam(req, "*")
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		f.layouts[key] = req.Header.Get("X-Amz-Meta-Layout-Id")
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	})
	r.Head("/{bucket}/*", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := chi.URLParam(req, "*")
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"etag-1"`)
		w.Header().Set("X-Amz-Meta-Layout-Id", f.layouts[key])
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/{bucket}/*", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		data, ok := f.objects[chi.URLParam(req, "*")]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = w.Write(data)
	})
	r.Delete("/{bucket}/*", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := chi.URLParam(req, "*")
		f.deletes = append(f.deletes, key)
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func newTestStore(t *testing.T, f *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Config{
		Bucket:          "units",
		Prefix:          "motr/",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	return store
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorContains(t, err, "bucket name is required")
}

func TestDeleteUsesPrefixedKey(t *testing.T) {
	f := newFakeS3()
	store := newTestStore(t, f)
	f.objects["motr/OID-1"] = []byte("x")

	require.NoError(t, store.Delete(context.Background(), "OID-1", 1))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"motr/OID-1"}, f.deletes)
	assert.NotContains(t, f.objects, "motr/OID-1")
}

func TestHead(t *testing.T) {
	f := newFakeS3()
	store := newTestStore(t, f)
	f.objects["motr/OID-2"] = []byte("hello")
	f.layouts["motr/OID-2"] = "7"

	meta, err := store.Head(context.Background(), "OID-2", 0)
	require.NoError(t, err)
	assert.Equal(t, "OID-2", meta.OID)
	assert.Equal(t, 7, meta.LayoutID)
	assert.Equal(t, int64(5), meta.Size)

	_, err = store.Head(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.True(t, objectstore.IsNotFound(err), "got %v", err)
}

func TestPutStoresLayoutMetadata(t *testing.T) {
	f := newFakeS3()
	store := newTestStore(t, f)

	require.NoError(t, store.Put(context.Background(), "OID-3", 4, bytes.NewReader([]byte("data")), 4))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Contains(t, f.objects, "motr/OID-3")
	assert.Equal(t, "4", f.layouts["motr/OID-3"])
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t, newFakeS3())
	_, err := store.Get(context.Background(), "nope", 1)
	assert.True(t, objectstore.IsNotFound(err), "got %v", err)
}

func TestAccessDenied(t *testing.T) {
	f := newFakeS3()
	f.deny = true
	store := newTestStore(t, f)

	err := store.Delete(context.Background(), "OID-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrAccessDenied)
	assert.False(t, objectstore.IsNotFound(err))
}

func TestClosed(t *testing.T) {
	store := newTestStore(t, newFakeS3())
	require.NoError(t, store.Close())
	err := store.Delete(context.Background(), "OID-1", 1)
	assert.ErrorIs(t, err, objectstore.ErrClosed)
}
