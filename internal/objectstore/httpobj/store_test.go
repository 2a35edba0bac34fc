package httpobj

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaim-io/reclaim/internal/httpapi"
	"github.com/reclaim-io/reclaim/internal/objectstore"
)

type fakeObjects struct {
	mu      sync.Mutex
	data    map[string][]byte
	layouts []string
	failDel int
}

func (f *fakeObjects) router() http.Handler {
	r := chi.NewRouter()
	oid := func(req *http.Request) string {
		v, _ := url.PathUnescape(chi.URLParam(req, "oid"))
		return v
	}
	r.Put("/objects/{oid}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, _ := io.ReadAll(req.Body)
		f.data[oid(req)] = body
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/objects/{oid}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		d, ok := f.data[oid(req)]
		if !ok {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write(d)
	})
	r.Head("/objects/{oid}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		d, ok := f.data[oid(req)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(d)))
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/objects/{oid}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.layouts = append(f.layouts, req.URL.Query().Get("layout-id"))
		if f.failDel != 0 {
			w.WriteHeader(f.failDel)
			return
		}
		if _, ok := f.data[oid(req)]; !ok {
			http.NotFound(w, req)
			return
		}
		delete(f.data, oid(req))
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func newTestStore(t *testing.T) (*Store, *fakeObjects) {
	t.Helper()
	f := &fakeObjects{data: make(map[string][]byte)}
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	s, err := New(httpapi.Config{Endpoint: srv.URL})
	require.NoError(t, err)
	return s, f
}

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	require.NoError(t, s.Put(ctx, "OID/1", 2, bytes.NewReader([]byte("abc")), 3))

	rc, err := s.Get(ctx, "OID/1", 2)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "abc", string(data))

	meta, err := s.Head(ctx, "OID/1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)

	require.NoError(t, s.Delete(ctx, "OID/1", 2))
	assert.Equal(t, []string{"2"}, f.layouts)

	err = s.Delete(ctx, "OID/1", 2)
	assert.True(t, objectstore.IsNotFound(err), "got %v", err)
	assert.Equal(t, http.StatusNotFound, httpapi.CodeOf(err))
}

func TestPutSizeMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Put(context.Background(), "OID", 1, bytes.NewReader([]byte("abc")), 10)
	assert.ErrorContains(t, err, "expected 10")
}

func TestDeleteServerError(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)
	f.data["OID-1"] = []byte("x")
	f.failDel = http.StatusInternalServerError

	err := s.Delete(ctx, "OID-1", 1)
	require.Error(t, err)
	assert.False(t, objectstore.IsNotFound(err))

	var objErr *objectstore.ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.Equal(t, http.StatusInternalServerError, objErr.Code)
}

func TestClosed(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "OID", 1)
	assert.ErrorIs(t, err, objectstore.ErrClosed)
}
